package models

import (
	"time"

	"gorm.io/gorm"
)

// ListingStatus represents the publication state of a rental listing
type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusApproved ListingStatus = "approved"
	ListingStatusRejected ListingStatus = "rejected"
)

// RentalListing represents a rental listing submitted by an owner.
// A listing goes live (approved) once its listing fee is paid.
type RentalListing struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UUID string `gorm:"type:varchar(40);uniqueIndex" json:"uuid"`

	Title       string `gorm:"type:varchar(255)" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Address     string `gorm:"type:varchar(255)" json:"address"`

	OwnerName  string `gorm:"type:varchar(255)" json:"owner_name"`
	OwnerEmail string `gorm:"type:varchar(255)" json:"owner_email"`
	OwnerPhone string `gorm:"type:varchar(50)" json:"owner_phone"`

	MonthlyRent float64 `gorm:"type:decimal(15,2)" json:"monthly_rent"`
	ListingFee  float64 `gorm:"type:decimal(15,2)" json:"listing_fee"`

	Status        ListingStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(20);default:'unpaid'" json:"payment_status"`

	CheckoutSessionID string `gorm:"type:varchar(100);index" json:"checkout_session_id"`
}
