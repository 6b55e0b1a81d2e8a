package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusTrialing = "trialing"
)

// PaymentSubscription binds a PaymentCustomer to a PaymentPlan on the same
// gateway. Status is stored verbatim as reported by the gateway.
type PaymentSubscription struct {
	ID                    uint              `gorm:"primaryKey" json:"id"`
	PaymentCustomerID     uint              `gorm:"not null;index" json:"payment_customer_id"`
	PaymentPlanID         uint              `gorm:"not null;index" json:"payment_plan_id"`
	Gateway               string            `gorm:"type:varchar(20);not null;index:ux_payment_subscriptions_gateway_sub,unique,priority:1" json:"gateway"`
	GatewaySubscriptionID string            `gorm:"type:varchar(191);not null;index:ux_payment_subscriptions_gateway_sub,unique,priority:2" json:"gateway_subscription_id"`
	Status                string            `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	CurrentPeriodStart    *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CanceledAt            *time.Time        `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	Metadata              datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt             time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s PaymentSubscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

func (s PaymentSubscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}
