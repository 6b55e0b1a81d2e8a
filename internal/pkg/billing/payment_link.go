package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

type PaymentLinkService struct {
	repo     Repository
	gateways GatewayResolver
	now      func() time.Time
}

func NewPaymentLinkService(repo Repository, gateways GatewayResolver, now func() time.Time) *PaymentLinkService {
	if now == nil {
		now = time.Now
	}
	return &PaymentLinkService{repo: repo, gateways: gateways, now: now}
}

// CreatePaymentLink creates a one-off payable URL on the gateway.
func (s *PaymentLinkService) CreatePaymentLink(ctx context.Context, gatewayName string, in CreatePaymentLinkInput) (*models.PaymentLink, error) {
	const op = "create_payment_link"
	name := gateway.NormalizeName(gatewayName)
	req := gateway.CreatePaymentLinkRequest{
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
		ExpiresAt:   in.ExpiresAt,
		Metadata:    in.Metadata,
	}.Normalize()
	if err := req.Validate(); err != nil {
		return nil, validationError(op, "%s", err.Error())
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, validationError(op, "expires_at must be in the future")
	}
	client, err := resolve(s.gateways, op, name)
	if err != nil {
		return nil, err
	}

	res := client.CreatePaymentLink(ctx, req)
	if !res.Success {
		return nil, resultError(op, name, res.Result)
	}

	link := &models.PaymentLink{
		Gateway:       name,
		GatewayLinkID: res.GatewayLinkID,
		Amount:        req.Amount.Round(2),
		Currency:      req.Currency,
		Description:   req.Description,
		URL:           res.URL,
		Status:        models.PaymentLinkStatusActive,
		ExpiresAt:     req.ExpiresAt,
		Metadata:      toJSONMap(req.Metadata),
	}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.CreatePaymentLink(ctx, link)
	})
	if err != nil {
		return nil, storageError(op, "payment link", err)
	}
	return link, nil
}

// GetActiveLinks returns links with status active whose expiry has not
// passed, newest first. An empty gatewayName lists every gateway.
func (s *PaymentLinkService) GetActiveLinks(ctx context.Context, gatewayName string) ([]models.PaymentLink, error) {
	links, err := s.repo.ListPaymentLinks(ctx, gateway.NormalizeName(gatewayName), models.PaymentLinkStatusActive)
	if err != nil {
		return nil, storageError("get_active_links", "payment links", err)
	}
	now := s.now()
	active := make([]models.PaymentLink, 0, len(links))
	for _, l := range links {
		if l.IsActive(now) {
			active = append(active, l)
		}
	}
	return active, nil
}
