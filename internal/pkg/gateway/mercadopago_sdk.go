package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/customer"
	"github.com/mercadopago/sdk-go/pkg/customercard"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
	"github.com/mercadopago/sdk-go/pkg/preapprovalplan"
	"github.com/mercadopago/sdk-go/pkg/preference"
)

type mercadoPagoSDK struct {
	customers customer.Client
	cards     customercard.Client
	plans     preapprovalplan.Client
	preapps   preapproval.Client
	prefs     preference.Client
}

func newMercadoPagoSDK(accessToken string) (*mercadoPagoSDK, error) {
	cfg, err := config.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago sdk config: %w", err)
	}
	return &mercadoPagoSDK{
		customers: customer.NewClient(cfg),
		cards:     customercard.NewClient(cfg),
		plans:     preapprovalplan.NewClient(cfg),
		preapps:   preapproval.NewClient(cfg),
		prefs:     preference.NewClient(cfg),
	}, nil
}

func (s *mercadoPagoSDK) CreateCustomer(ctx context.Context, in mpCustomerInput) (string, map[string]any, error) {
	resp, err := s.customers.Create(ctx, customer.Request{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		return "", nil, err
	}
	return resp.ID, toRaw(resp), nil
}

func (s *mercadoPagoSDK) UpdateCustomer(ctx context.Context, id string, in mpCustomerInput) (map[string]any, error) {
	resp, err := s.customers.Update(ctx, id, customer.Request{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		return nil, err
	}
	return toRaw(resp), nil
}

func (s *mercadoPagoSDK) CustomerEmail(ctx context.Context, id string) (string, error) {
	resp, err := s.customers.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return resp.Email, nil
}

func (s *mercadoPagoSDK) CreateCard(ctx context.Context, customerID, token string) (mpCard, map[string]any, error) {
	resp, err := s.cards.Create(ctx, customerID, customercard.Request{Token: token})
	if err != nil {
		return mpCard{}, nil, err
	}
	return mpCard{
		ID:       resp.ID,
		Brand:    resp.PaymentMethod.ID,
		LastFour: resp.LastFourDigits,
		ExpMonth: resp.ExpirationMonth,
		ExpYear:  resp.ExpirationYear,
	}, toRaw(resp), nil
}

func (s *mercadoPagoSDK) CreatePlan(ctx context.Context, in mpPlanInput) (string, map[string]any, error) {
	resp, err := s.plans.Create(ctx, preapprovalplan.Request{
		Reason:  in.Reason,
		BackURL: in.BackURL,
		AutoRecurring: &preapprovalplan.AutoRecurringRequest{
			Frequency:         in.Frequency,
			FrequencyType:     in.FrequencyType,
			TransactionAmount: in.Amount,
			CurrencyID:        in.CurrencyID,
		},
	})
	if err != nil {
		return "", nil, err
	}
	return resp.ID, toRaw(resp), nil
}

func (s *mercadoPagoSDK) UpdatePlanReason(ctx context.Context, id, reason string) (map[string]any, error) {
	resp, err := s.plans.Update(ctx, id, preapprovalplan.Request{Reason: reason})
	if err != nil {
		return nil, err
	}
	return toRaw(resp), nil
}

func (s *mercadoPagoSDK) CreateSubscription(ctx context.Context, in mpSubscriptionInput) (mpSubscription, map[string]any, error) {
	resp, err := s.preapps.Create(ctx, preapproval.Request{
		PreapprovalPlanID: in.PlanID,
		PayerEmail:        in.PayerEmail,
		BackURL:           in.BackURL,
		ExternalReference: in.ExternalReference,
	})
	if err != nil {
		return mpSubscription{}, nil, err
	}
	return mpSubscription{
		ID:              resp.ID,
		Status:          resp.Status,
		InitPoint:       resp.InitPoint,
		DateCreated:     nonZero(resp.DateCreated),
		NextPaymentDate: nonZero(resp.NextPaymentDate),
	}, toRaw(resp), nil
}

func (s *mercadoPagoSDK) UpdateSubscriptionStatus(ctx context.Context, id, status string) (mpSubscription, map[string]any, error) {
	resp, err := s.preapps.Update(ctx, id, preapproval.UpdateRequest{Status: status})
	if err != nil {
		return mpSubscription{}, nil, err
	}
	return mpSubscription{ID: resp.ID, Status: resp.Status, InitPoint: resp.InitPoint}, toRaw(resp), nil
}

func (s *mercadoPagoSDK) CreatePreference(ctx context.Context, in mpPreferenceInput) (mpPreference, map[string]any, error) {
	req := preference.Request{
		Items: []preference.ItemRequest{{
			Title:      in.Title,
			Quantity:   1,
			UnitPrice:  in.UnitPrice,
			CurrencyID: in.CurrencyID,
		}},
		BackURLs: &preference.BackURLsRequest{
			Success: in.Success,
			Failure: in.Failure,
			Pending: in.Pending,
		},
		AutoReturn: "approved",
		Metadata:   in.Metadata,
	}
	if in.ExpiresAt != nil {
		req.Expires = true
		req.ExpirationDateTo = in.ExpiresAt
	}
	resp, err := s.prefs.Create(ctx, req)
	if err != nil {
		return mpPreference{}, nil, err
	}
	return mpPreference{ID: resp.ID, InitPoint: resp.InitPoint}, toRaw(resp), nil
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
