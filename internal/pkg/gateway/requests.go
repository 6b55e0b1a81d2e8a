package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var validate = newValidator()

type CreateCustomerRequest struct {
	Email    string            `json:"email" validate:"required,email"`
	Name     string            `json:"name" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateCustomerRequest is a partial update: nil fields are not sent.
type UpdateCustomerRequest struct {
	Email    *string           `json:"email,omitempty" validate:"omitempty,email"`
	Name     *string           `json:"name,omitempty" validate:"omitempty,min=1"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateCardRequest carries a provider-issued token, never card numbers.
type CreateCardRequest struct {
	Token string `json:"token" validate:"required"`
}

type CreatePlanRequest struct {
	Name          string            `json:"name" validate:"required"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency" validate:"required,len=3,alpha"`
	Interval      string            `json:"interval" validate:"required,oneof=day week month year"`
	IntervalCount int               `json:"interval_count" validate:"gte=0"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// UpdatePlanRequest only carries the fields every gateway can change on an
// existing plan. Amount and interval are fixed once a plan exists remotely.
type UpdatePlanRequest struct {
	Name     *string           `json:"name,omitempty" validate:"omitempty,min=1"`
	Active   *bool             `json:"active,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CreateSubscriptionRequest struct {
	CustomerID string            `json:"customer_id" validate:"required"`
	PriceID    string            `json:"price_id" validate:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// UpdateSubscriptionRequest: Cancel wins over PriceID when both are set.
type UpdateSubscriptionRequest struct {
	Cancel   bool              `json:"cancel"`
	PriceID  string            `json:"price_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type CreatePaymentLinkRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency" validate:"required,len=3,alpha"`
	Description string            `json:"description" validate:"required"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct checks the validate tags of a request and returns a
// human-readable error naming the first offending field.
func ValidateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "len":
		return fmt.Errorf("%s must be %s characters long", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

// ValidateAmount requires a strictly positive amount with at most two decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return errors.New("amount must have at most two decimal places")
	}
	return nil
}

// Normalize fills defaults and canonicalizes casing.
func (r CreatePlanRequest) Normalize() CreatePlanRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	r.Interval = strings.ToLower(strings.TrimSpace(r.Interval))
	if r.IntervalCount == 0 {
		r.IntervalCount = 1
	}
	return r
}

func (r CreatePlanRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	return ValidateAmount(r.Amount)
}

func (r CreatePaymentLinkRequest) Normalize() CreatePaymentLinkRequest {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	r.Description = strings.TrimSpace(r.Description)
	return r
}

func (r CreatePaymentLinkRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return ValidateStruct(r)
}

func (r CreateCustomerRequest) Normalize() CreateCustomerRequest {
	r.Email = strings.TrimSpace(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	return r
}

// minorUnits converts a 2-place amount into cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
