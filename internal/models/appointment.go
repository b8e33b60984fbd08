package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentStatus tracks the payment lifecycle of a billable record.
// The only meaningful transitions are unpaid -> paid and unpaid -> expired;
// paid is terminal.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusExpired PaymentStatus = "expired"
)

// AppointmentStatus represents the booking state of an appointment
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment represents a service appointment booked by a customer.
// It is created unpaid by the booking flow and confirmed once the
// checkout session for it completes.
type Appointment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UUID string `gorm:"type:varchar(40);uniqueIndex" json:"uuid"`

	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerPhone string `gorm:"type:varchar(50)" json:"customer_phone"`

	ServiceName     string    `gorm:"type:varchar(255)" json:"service_name"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `gorm:"default:60" json:"duration_minutes"`
	Notes           string    `gorm:"type:text" json:"notes"`
	Price           float64   `gorm:"type:decimal(15,2)" json:"price"`

	Status        AppointmentStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	PaymentStatus PaymentStatus     `gorm:"type:varchar(20);default:'unpaid'" json:"payment_status"`

	// Set once a checkout session has been created for this appointment.
	// The webhook resolver falls back to this column when the provider
	// event carries no usable correlation metadata.
	CheckoutSessionID string `gorm:"type:varchar(100);index" json:"checkout_session_id"`
}
