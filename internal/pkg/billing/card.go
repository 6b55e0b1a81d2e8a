package billing

import (
	"context"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// CardService manages tokenized cards. At most one card per customer is
// the default.
type CardService struct {
	repo     Repository
	gateways GatewayResolver
}

func NewCardService(repo Repository, gateways GatewayResolver) *CardService {
	return &CardService{repo: repo, gateways: gateways}
}

// CreateCard attaches token to the customer on its gateway. With
// setAsDefault the new card replaces the previous default atomically.
func (s *CardService) CreateCard(ctx context.Context, customerID uint, token string, setAsDefault bool) (*models.PaymentCard, error) {
	const op = "create_card"
	req := gateway.CreateCardRequest{Token: strings.TrimSpace(token)}
	if err := gateway.ValidateStruct(req); err != nil {
		return nil, validationError(op, "%s", err.Error())
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, storageError(op, "customer", err)
	}
	client, err := resolve(s.gateways, op, customer.Gateway)
	if err != nil {
		return nil, err
	}

	res := client.CreateCard(ctx, customer.GatewayCustomerID, req)
	if !res.Success {
		return nil, resultError(op, customer.Gateway, res.Result)
	}

	card := &models.PaymentCard{
		PaymentCustomerID: customer.ID,
		GatewayCardID:     res.GatewayCardID,
		Brand:             res.Brand,
		LastFour:          res.LastFour,
		ExpMonth:          res.ExpMonth,
		ExpYear:           res.ExpYear,
		IsDefault:         setAsDefault,
	}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		if setAsDefault {
			// serializes default flips of one customer under READ COMMITTED
			if _, err := tx.LockCustomer(ctx, customer.ID); err != nil {
				return err
			}
			if err := tx.ClearDefaultCards(ctx, customer.ID); err != nil {
				return err
			}
		}
		return tx.CreateCard(ctx, card)
	})
	if err != nil {
		return nil, storageError(op, "card", err)
	}
	return card, nil
}

// ListCards returns the default card first, then the newest.
func (s *CardService) ListCards(ctx context.Context, customerID uint) ([]models.PaymentCard, error) {
	cards, err := s.repo.ListCards(ctx, customerID)
	if err != nil {
		return nil, storageError("list_cards", "cards", err)
	}
	return cards, nil
}

func (s *CardService) GetDefaultCard(ctx context.Context, customerID uint) (*models.PaymentCard, error) {
	cards, err := s.ListCards(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 || !cards[0].IsDefault {
		return nil, storageError("get_default_card", "default card", ErrNotFound)
	}
	return &cards[0], nil
}

// SetAsDefault makes the card the customer's only default. Local only.
func (s *CardService) SetAsDefault(ctx context.Context, cardID uint) (*models.PaymentCard, error) {
	const op = "set_default_card"
	var card *models.PaymentCard
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		c, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if _, err := tx.LockCustomer(ctx, c.PaymentCustomerID); err != nil {
			return err
		}
		if err := tx.ClearDefaultCards(ctx, c.PaymentCustomerID); err != nil {
			return err
		}
		if err := tx.SetCardDefault(ctx, c.ID); err != nil {
			return err
		}
		c.IsDefault = true
		card = c
		return nil
	})
	if err != nil {
		return nil, storageError(op, "card", err)
	}
	return card, nil
}

// DeleteCard removes the local record only; the gateway keeps its copy.
func (s *CardService) DeleteCard(ctx context.Context, cardID uint) error {
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.DeleteCard(ctx, cardID)
	})
	if err != nil {
		return storageError("delete_card", "card", err)
	}
	return nil
}
