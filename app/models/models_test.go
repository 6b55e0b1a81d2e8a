package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPaymentLinkIsActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		link PaymentLink
		want bool
	}{
		{name: "no expiry", link: PaymentLink{Status: PaymentLinkStatusActive}, want: true},
		{name: "future expiry", link: PaymentLink{Status: PaymentLinkStatusActive, ExpiresAt: &future}, want: true},
		{name: "past expiry", link: PaymentLink{Status: PaymentLinkStatusActive, ExpiresAt: &past}, want: false},
		{name: "expired status", link: PaymentLink{Status: PaymentLinkStatusExpired}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.link.IsActive(now))
		})
	}
}

func TestPaymentCardIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.False(t, PaymentCard{ExpMonth: 6, ExpYear: 2025}.IsExpired(now))
	assert.True(t, PaymentCard{ExpMonth: 5, ExpYear: 2025}.IsExpired(now))
	assert.False(t, PaymentCard{ExpMonth: 1, ExpYear: 2026}.IsExpired(now))
	assert.True(t, PaymentCard{ExpMonth: 12, ExpYear: 2024}.IsExpired(now))
}

func TestIsValidPlanInterval(t *testing.T) {
	for _, in := range []string{"day", "week", "month", "year"} {
		assert.True(t, IsValidPlanInterval(in), in)
	}
	for _, in := range []string{"", "Month", "quarter", "days"} {
		assert.False(t, IsValidPlanInterval(in), in)
	}
}
