package models

import "time"

// PaymentCard is a tokenized payment instrument attached to a PaymentCustomer.
type PaymentCard struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	PaymentCustomerID uint      `gorm:"not null;index" json:"payment_customer_id"`
	GatewayCardID     string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_card_id"`
	Brand             string    `gorm:"type:varchar(50)" json:"brand"`
	LastFour          string    `gorm:"type:varchar(4)" json:"last_four"`
	ExpMonth          int       `json:"exp_month"`
	ExpYear           int       `json:"exp_year"`
	IsDefault         bool      `gorm:"default:false;index" json:"is_default"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the card expiry month lies before now.
func (c PaymentCard) IsExpired(now time.Time) bool {
	if c.ExpYear == 0 || c.ExpMonth == 0 {
		return false
	}
	// first day of the month after expiry
	cutoff := time.Date(c.ExpYear, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, now.Location())
	return !now.Before(cutoff)
}
