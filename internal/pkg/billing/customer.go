package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"gorm.io/gorm"
)

// CustomerService keeps at most one gateway customer per (user, gateway).
type CustomerService struct {
	repo     Repository
	gateways GatewayResolver
	locks    *keyedMutex
}

func NewCustomerService(repo Repository, gateways GatewayResolver) *CustomerService {
	return &CustomerService{repo: repo, gateways: gateways, locks: newKeyedMutex()}
}

// CreateCustomer registers user with the gateway and stores the mapping.
// The duplicate check runs before the remote call under a per-(user, gateway)
// lock; the unique index catches races between processes.
func (s *CustomerService) CreateCustomer(ctx context.Context, user User, gatewayName string, metadata map[string]string) (*models.PaymentCustomer, error) {
	const op = "create_customer"
	name := gateway.NormalizeName(gatewayName)
	if user.ID == 0 {
		return nil, validationError(op, "user is required")
	}
	req := gateway.CreateCustomerRequest{Email: user.Email, Name: user.Name}.Normalize()
	if err := gateway.ValidateStruct(req); err != nil {
		return nil, validationError(op, "%s", err.Error())
	}
	client, err := resolve(s.gateways, op, name)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(fmt.Sprintf("%d:%s", user.ID, name))
	defer unlock()

	if _, err := s.repo.FindCustomer(ctx, user.ID, name); err == nil {
		return nil, conflictError(op, ErrDuplicateCustomer)
	} else if !isNotFound(err) {
		return nil, storageError(op, "customer", err)
	}

	req.Metadata = withUserID(metadata, user.ID)
	res := client.CreateCustomer(ctx, req)
	if !res.Success {
		return nil, resultError(op, name, res.Result)
	}

	customer := &models.PaymentCustomer{
		UserID:            user.ID,
		Gateway:           name,
		GatewayCustomerID: res.GatewayCustomerID,
		Email:             req.Email,
		Name:              req.Name,
		Metadata:          toJSONMap(metadata),
	}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.CreateCustomer(ctx, customer)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, s.duplicateCustomer(ctx, op, user.ID, name, res.GatewayCustomerID)
	}
	if err != nil {
		return nil, storageError(op, "customer", err)
	}

	slog.Info("payment customer created", "gateway", name, "user_id", user.ID, "customer_id", customer.ID)
	return customer, nil
}

// duplicateCustomer tells the two unique keys apart. Either another process
// created the user's customer first, or the gateway returned an id that is
// already mapped to a different user.
func (s *CustomerService) duplicateCustomer(ctx context.Context, op string, userID uint, name, gatewayCustomerID string) error {
	if _, err := s.repo.FindCustomer(ctx, userID, name); err == nil {
		slog.Warn("gateway customer orphaned by concurrent create",
			"gateway", name, "user_id", userID, "gateway_customer_id", gatewayCustomerID)
		return conflictError(op, ErrDuplicateCustomer)
	}
	slog.Warn("gateway customer id already linked to another user",
		"gateway", name, "user_id", userID, "gateway_customer_id", gatewayCustomerID)
	return conflictError(op, ErrGatewayCustomerTaken)
}

// GetCustomer returns the user's customer on the gateway.
func (s *CustomerService) GetCustomer(ctx context.Context, userID uint, gatewayName string) (*models.PaymentCustomer, error) {
	c, err := s.repo.FindCustomer(ctx, userID, gateway.NormalizeName(gatewayName))
	if err != nil {
		return nil, storageError("get_customer", "customer", err)
	}
	return c, nil
}

func (s *CustomerService) GetCustomerByID(ctx context.Context, id uint) (*models.PaymentCustomer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, storageError("get_customer", "customer", err)
	}
	return c, nil
}

// GetOrCreateCustomer returns the existing customer or creates one.
func (s *CustomerService) GetOrCreateCustomer(ctx context.Context, user User, gatewayName string, metadata map[string]string) (*models.PaymentCustomer, error) {
	c, err := s.GetCustomer(ctx, user.ID, gatewayName)
	if err == nil {
		return c, nil
	}
	if !IsKind(err, KindNotFound) {
		return nil, err
	}
	c, err = s.CreateCustomer(ctx, user, gatewayName, metadata)
	if errors.Is(err, ErrDuplicateCustomer) {
		return s.GetCustomer(ctx, user.ID, gatewayName)
	}
	return c, err
}

// UpdateCustomer pushes the changed fields to the gateway, then stores them.
func (s *CustomerService) UpdateCustomer(ctx context.Context, customerID uint, in UpdateCustomerInput) (*models.PaymentCustomer, error) {
	const op = "update_customer"
	if in.Email != nil {
		trimmed := strings.TrimSpace(*in.Email)
		in.Email = &trimmed
	}
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	req := gateway.UpdateCustomerRequest{Email: in.Email, Name: in.Name, Metadata: in.Metadata}
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

	res := client.UpdateCustomer(ctx, customer.GatewayCustomerID, req)
	if !res.Success {
		return nil, resultError(op, customer.Gateway, res)
	}

	if in.Email != nil {
		customer.Email = *in.Email
	}
	if in.Name != nil {
		customer.Name = *in.Name
	}
	customer.Metadata = mergeMetadata(customer.Metadata, in.Metadata)
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.SaveCustomer(ctx, customer)
	})
	if err != nil {
		return nil, storageError(op, "customer", err)
	}
	return customer, nil
}

func withUserID(metadata map[string]string, userID uint) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["user_id"] = fmt.Sprint(userID)
	return out
}
