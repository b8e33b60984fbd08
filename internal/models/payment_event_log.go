package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// PaymentEventLog records every verified webhook event received from a
// payment gateway, including the ones that resolve to nothing. Purely an
// audit trail; reconciliation never reads it back.
type PaymentEventLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PaymentGateway PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	EventID        string          `gorm:"type:varchar(100);index" json:"event_id"`
	EventType      string          `gorm:"type:varchar(100)" json:"event_type"`
	SessionID      string          `gorm:"type:varchar(100);index" json:"session_id"`
	Payload        json.RawMessage `gorm:"type:jsonb" json:"payload"`
}
