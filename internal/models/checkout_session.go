package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayStripe PaymentGateway = "stripe"
	PaymentGatewayManual PaymentGateway = "manual"
)

// RecordKind identifies which domain table a checkout session belongs to
type RecordKind string

const (
	RecordKindAppointment RecordKind = "appointment"
	RecordKindListing     RecordKind = "listing"
)

// CheckoutSessionRecord is the local copy of a provider checkout session
// created for a domain record. The provider owns the session itself; this
// row exists so an active session can be reused instead of re-created, and
// so a webhook can be correlated even when its payload carries no metadata.
type CheckoutSessionRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RecordKind RecordKind `gorm:"type:varchar(20);index:idx_checkout_record" json:"record_kind"`
	RecordID   uint       `gorm:"index:idx_checkout_record" json:"record_id"`

	PaymentGateway PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	SessionID      string         `gorm:"type:varchar(100);index" json:"session_id"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`

	RequestMetadata  json.RawMessage `gorm:"type:jsonb" json:"request_metadata"`
	ResponseMetadata json.RawMessage `gorm:"type:jsonb" json:"response_metadata"`
}
