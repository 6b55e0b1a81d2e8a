package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentLinkStatusActive  = "active"
	PaymentLinkStatusExpired = "expired"
)

// PaymentLink is a one-off payable URL that is not bound to a customer.
type PaymentLink struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	Gateway       string            `gorm:"type:varchar(20);not null;index:ux_payment_links_gateway_link,unique,priority:1" json:"gateway"`
	GatewayLinkID string            `gorm:"type:varchar(191);not null;index:ux_payment_links_gateway_link,unique,priority:2" json:"gateway_link_id"`
	Amount        decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency      string            `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Description   string            `gorm:"type:text" json:"description"`
	URL           string            `gorm:"type:varchar(1024);not null" json:"url"`
	Status        string            `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	ExpiresAt     *time.Time        `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the link has an expiry that lies before now.
func (l PaymentLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// IsActive is computed, never stored: an active link stops being active once
// its expiry has passed.
func (l PaymentLink) IsActive(now time.Time) bool {
	return l.Status == PaymentLinkStatusActive && !l.IsExpired(now)
}
