package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GatewayStripe      = "stripe"
	GatewayPayPal      = "paypal"
	GatewayMercadoPago = "mercadopago"
)

// PaymentCustomer mirrors the billing identity of one local user inside one
// gateway's namespace.
type PaymentCustomer struct {
	ID                uint                  `gorm:"primaryKey" json:"id"`
	UserID            uint                  `gorm:"not null;index:ux_payment_customers_user_gateway,unique,priority:1" json:"user_id"`
	Gateway           string                `gorm:"type:varchar(20);not null;index:ux_payment_customers_user_gateway,unique,priority:2;index:ux_payment_customers_gateway_customer,unique,priority:1" json:"gateway"`
	GatewayCustomerID string                `gorm:"type:varchar(191);not null;index:ux_payment_customers_gateway_customer,unique,priority:2" json:"gateway_customer_id"`
	Email             string                `gorm:"type:varchar(255);not null" json:"email"`
	Name              string                `gorm:"type:varchar(255)" json:"name"`
	Metadata          datatypes.JSONMap     `gorm:"type:json" json:"metadata,omitempty"`
	Cards             []PaymentCard         `gorm:"foreignKey:PaymentCustomerID;constraint:OnDelete:CASCADE" json:"-"`
	Subscriptions     []PaymentSubscription `gorm:"foreignKey:PaymentCustomerID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt         time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}
