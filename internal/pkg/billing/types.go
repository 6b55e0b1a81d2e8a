package billing

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// User is the slice of the host application's user the billing layer needs.
type User struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UpdateCustomerInput is a partial update; nil fields are left untouched and
// metadata keys are merged into the stored map.
type UpdateCustomerInput struct {
	Email    *string           `json:"email,omitempty"`
	Name     *string           `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CreatePlanInput struct {
	Name          string            `json:"name"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Interval      string            `json:"interval"`
	IntervalCount int               `json:"interval_count"`
	Active        *bool             `json:"active,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type UpdatePlanInput struct {
	Name     *string           `json:"name,omitempty"`
	Active   *bool             `json:"active,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateSubscriptionInput either cancels or moves the subscription to
// NewPlan. Cancel wins when both are set.
type UpdateSubscriptionInput struct {
	Cancel   bool
	NewPlan  *models.PaymentPlan
	Metadata map[string]string
}

type CreatePaymentLinkInput struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toJSONMap(m map[string]string) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeMetadata returns base with patch applied on top. base is not modified.
func mergeMetadata(base datatypes.JSONMap, patch map[string]string) datatypes.JSONMap {
	if len(patch) == 0 {
		return base
	}
	out := make(datatypes.JSONMap, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
