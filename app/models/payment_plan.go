package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PlanIntervalDay   = "day"
	PlanIntervalWeek  = "week"
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// PaymentPlan is a recurring-billing template scoped to one gateway.
type PaymentPlan struct {
	ID            uint                  `gorm:"primaryKey" json:"id"`
	Gateway       string                `gorm:"type:varchar(20);not null;index:idx_payment_plans_gateway_active,priority:1;index:ux_payment_plans_gateway_plan,unique,priority:1" json:"gateway"`
	GatewayPlanID string                `gorm:"type:varchar(191);not null;index:ux_payment_plans_gateway_plan,unique,priority:2" json:"gateway_plan_id"`
	Name          string                `gorm:"type:varchar(255);not null" json:"name"`
	Amount        decimal.Decimal       `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency      string                `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Interval      string                `gorm:"type:varchar(10);not null" json:"interval"`
	IntervalCount int                   `gorm:"not null;default:1" json:"interval_count"`
	Active        bool                  `gorm:"not null;index:idx_payment_plans_gateway_active,priority:2" json:"active"`
	Metadata      datatypes.JSONMap     `gorm:"type:json" json:"metadata,omitempty"`
	Subscriptions []PaymentSubscription `gorm:"foreignKey:PaymentPlanID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt     time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsValidPlanInterval reports whether interval is one of day, week, month or year.
func IsValidPlanInterval(interval string) bool {
	switch interval {
	case PlanIntervalDay, PlanIntervalWeek, PlanIntervalMonth, PlanIntervalYear:
		return true
	default:
		return false
	}
}
