package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

const (
	DefaultPlanCacheTTL = time.Hour

	planCacheAllKey    = "plans.active.all"
	planCacheKeyPrefix = "plans.active."
)

// PlanCacheKey returns the cache key for the active-plan list of gatewayName,
// or of all gateways when gatewayName is empty.
func PlanCacheKey(gatewayName string) string {
	if gatewayName == "" {
		return planCacheAllKey
	}
	return planCacheKeyPrefix + gatewayName
}

// PlanService manages plans and serves the cached active-plan catalog.
type PlanService struct {
	repo     Repository
	gateways GatewayResolver
	cache    cache.Cache
	ttl      time.Duration
}

func NewPlanService(repo Repository, gateways GatewayResolver, c cache.Cache, ttl time.Duration) *PlanService {
	if ttl <= 0 {
		ttl = DefaultPlanCacheTTL
	}
	return &PlanService{repo: repo, gateways: gateways, cache: c, ttl: ttl}
}

// CreatePlan validates the input before any remote call, creates the plan
// on the gateway and stores it. Plans are active unless in.Active says
// otherwise.
func (s *PlanService) CreatePlan(ctx context.Context, gatewayName string, in CreatePlanInput) (*models.PaymentPlan, error) {
	const op = "create_plan"
	name := gateway.NormalizeName(gatewayName)
	req := gateway.CreatePlanRequest{
		Name:          in.Name,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Interval:      in.Interval,
		IntervalCount: in.IntervalCount,
		Metadata:      in.Metadata,
	}.Normalize()
	if err := req.Validate(); err != nil {
		return nil, validationError(op, "%s", err.Error())
	}
	client, err := resolve(s.gateways, op, name)
	if err != nil {
		return nil, err
	}

	res := client.CreatePlan(ctx, req)
	if !res.Success {
		return nil, resultError(op, name, res.Result)
	}

	active := in.Active == nil || *in.Active
	if !active {
		off := false
		if upd := client.UpdatePlan(ctx, res.GatewayPlanID, gateway.UpdatePlanRequest{Active: &off}); !upd.Success {
			slog.Warn("failed to deactivate new plan on gateway", "gateway", name, "gateway_plan_id", res.GatewayPlanID, "error", upd.Error)
		}
	}

	plan := &models.PaymentPlan{
		Gateway:       name,
		GatewayPlanID: res.GatewayPlanID,
		Name:          req.Name,
		Amount:        req.Amount.Round(2),
		Currency:      req.Currency,
		Interval:      req.Interval,
		IntervalCount: req.IntervalCount,
		Active:        active,
		Metadata:      toJSONMap(req.Metadata),
	}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.CreatePlan(ctx, plan)
	})
	if err != nil {
		return nil, storageError(op, "plan", err)
	}
	s.invalidate(ctx, name)
	return plan, nil
}

// UpdatePlan changes name, active flag or metadata. Amount and interval are
// fixed once a plan exists.
func (s *PlanService) UpdatePlan(ctx context.Context, planID uint, in UpdatePlanInput) (*models.PaymentPlan, error) {
	const op = "update_plan"
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	req := gateway.UpdatePlanRequest{Name: in.Name, Active: in.Active, Metadata: in.Metadata}
	if err := gateway.ValidateStruct(req); err != nil {
		return nil, validationError(op, "%s", err.Error())
	}

	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, storageError(op, "plan", err)
	}
	client, err := resolve(s.gateways, op, plan.Gateway)
	if err != nil {
		return nil, err
	}

	res := client.UpdatePlan(ctx, plan.GatewayPlanID, req)
	if !res.Success {
		return nil, resultError(op, plan.Gateway, res)
	}

	if in.Name != nil {
		plan.Name = *in.Name
	}
	if in.Active != nil {
		plan.Active = *in.Active
	}
	plan.Metadata = mergeMetadata(plan.Metadata, in.Metadata)
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.SavePlan(ctx, plan)
	})
	if err != nil {
		return nil, storageError(op, "plan", err)
	}
	s.invalidate(ctx, plan.Gateway)
	return plan, nil
}

func (s *PlanService) GetPlan(ctx context.Context, planID uint) (*models.PaymentPlan, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, storageError("get_plan", "plan", err)
	}
	return plan, nil
}

// GetActivePlans returns active plans for gatewayName, or for every gateway
// when it is empty. Results are cached; a cache outage falls back to the
// repository.
func (s *PlanService) GetActivePlans(ctx context.Context, gatewayName string) ([]models.PaymentPlan, error) {
	name := gateway.NormalizeName(gatewayName)
	key := PlanCacheKey(name)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var plans []models.PaymentPlan
			if jerr := json.Unmarshal([]byte(raw), &plans); jerr == nil {
				return plans, nil
			}
			slog.Warn("discarding undecodable plan cache entry", "key", key)
		case !errors.Is(err, cache.ErrMiss):
			slog.Warn("plan cache read failed", "key", key, "error", err)
		}
	}

	plans, err := s.repo.ListActivePlans(ctx, name)
	if err != nil {
		return nil, storageError("get_active_plans", "plans", err)
	}
	if plans == nil {
		plans = []models.PaymentPlan{}
	}

	if s.cache != nil {
		if b, err := json.Marshal(plans); err == nil {
			if err := s.cache.Set(ctx, key, string(b), s.ttl); err != nil {
				slog.Warn("plan cache write failed", "key", key, "error", err)
			}
		}
	}
	return plans, nil
}

// invalidate drops the all-gateways list and the list of gatewayName.
func (s *PlanService) invalidate(ctx context.Context, gatewayName string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, PlanCacheKey(""), PlanCacheKey(gatewayName)); err != nil {
		slog.Error("plan cache invalidation failed", "gateway", gatewayName, "error", err)
	}
}
