// Package bootstrap builds the billing services from configuration. It is
// shared by the HTTP server and the paytest CLI.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

var ErrNoGateways = errors.New("no payment gateway configured: set STRIPE_SECRET, PAYPAL_CLIENT_ID and PAYPAL_SECRET, or MERCADOPAGO_ACCESS_TOKEN")

// Gateways registers every provider that has credentials in cfg.
func Gateways(cfg *config.Config) (*gateway.Registry, error) {
	var clients []gateway.Client
	if cfg.StripeEnabled() {
		clients = append(clients, gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey: cfg.StripeSecret,
			Timeout:   cfg.GatewayTimeout,
		}))
	}
	if cfg.PayPalEnabled() {
		clients = append(clients, gateway.NewPayPalGateway(gateway.PayPalConfig{
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalSecret,
			BaseURL:      cfg.PayPalBaseURL,
			AppURL:       cfg.AppURL,
			Timeout:      cfg.GatewayTimeout,
		}))
	}
	if cfg.MercadoPagoEnabled() {
		mp, err := gateway.NewMercadoPagoGateway(gateway.MercadoPagoConfig{
			AccessToken: cfg.MercadoPagoToken,
			AppURL:      cfg.AppURL,
			Timeout:     cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, mp)
	}
	if len(clients) == 0 {
		return nil, ErrNoGateways
	}
	return gateway.NewRegistry(clients...)
}

// Repository opens the configured store. DB_DRIVER=memory keeps everything
// in process and is meant for local trials.
func Repository(cfg *config.Config) (billing.Repository, func(), error) {
	if cfg.DBDriver == "memory" {
		slog.Warn("using in-memory store; data is lost on restart")
		return billing.NewMemoryRepository(), func() {}, nil
	}
	db, err := database.SetupDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return billing.NewRepository(db), func() { database.Close(db) }, nil
}

// Cache connects to Redis when CACHE_HOST is set and falls back to a
// process-local cache otherwise.
func Cache(ctx context.Context, cfg *config.Config) (cache.Cache, func()) {
	if cfg.CacheHost == "" {
		return cache.NewMemoryCache(), func() {}
	}
	rc := cache.SetupCache(ctx, cache.Options{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
		DB:       cfg.CacheDB,
	})
	return rc, func() {
		if err := rc.Close(); err != nil {
			slog.Warn("cache close error", "error", err)
		}
	}
}

// Stack is everything a process needs to run billing operations.
type Stack struct {
	Services *billing.Services
	Gateways *gateway.Registry
	close    []func()
}

// Close releases the store and cache connections in reverse order.
func (s *Stack) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

func New(ctx context.Context, cfg *config.Config) (*Stack, error) {
	registry, err := Gateways(cfg)
	if err != nil {
		return nil, err
	}
	repo, closeRepo, err := Repository(cfg)
	if err != nil {
		return nil, err
	}
	c, closeCache := Cache(ctx, cfg)

	slog.Info("payment gateways registered", "gateways", registry.Available())
	return &Stack{
		Services: billing.NewServices(repo, registry, c, billing.Options{
			PlanCacheTTL:        cfg.PlanCacheTTL,
			StripeWebhookSecret: cfg.StripeWebhookSecret,
		}),
		Gateways: registry,
		close:    []func(){closeRepo, closeCache},
	}, nil
}
