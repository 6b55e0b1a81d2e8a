package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentWebhookEvent is the ledger row for one received gateway
// notification. (gateway, event_id) is the dedup key.
type PaymentWebhookEvent struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	Gateway     string            `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_gateway_event,unique,priority:1" json:"gateway"`
	EventType   string            `gorm:"type:varchar(100);not null;index" json:"event_type"`
	EventID     string            `gorm:"type:varchar(191);not null;index:ux_payment_webhook_events_gateway_event,unique,priority:2" json:"event_id"`
	Payload     datatypes.JSONMap `gorm:"type:json" json:"payload"`
	Processed   bool              `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time        `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
