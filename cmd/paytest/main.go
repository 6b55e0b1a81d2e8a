// Command paytest runs one billing operation against a configured gateway so
// operators can check credentials and connectivity end to end.
//
//	paytest customer -gateway stripe -user 1 -email test@example.com
//	paytest plan -gateway paypal -amount 9.99 -interval month
//	paytest subscription -gateway stripe -customer 3 -plan 7
//	paytest link -gateway mercadopago -amount 25 -description "Test payment"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	env.SetupEnvFile()
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)

	action := os.Args[1]
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	gatewayName := fs.String("gateway", "stripe", "gateway name (stripe|paypal|mercadopago)")
	timeout := fs.Duration("timeout", time.Minute, "overall timeout")

	var run func(ctx context.Context, services *billing.Services) error
	switch action {
	case "customer":
		userID := fs.Uint("user", 1, "local user id")
		email := fs.String("email", "test@example.com", "customer email")
		name := fs.String("name", "Test User", "customer name")
		run = func(ctx context.Context, s *billing.Services) error {
			customer, err := s.Customers.CreateCustomer(ctx, billing.User{ID: *userID, Email: *email, Name: *name}, *gatewayName, nil)
			if err != nil {
				return err
			}
			fmt.Printf("customer created: id=%d gateway_customer_id=%s\n", customer.ID, customer.GatewayCustomerID)
			return nil
		}
	case "plan":
		name := fs.String("name", "Test Plan", "plan name")
		amount := fs.String("amount", "9.99", "amount per interval")
		currency := fs.String("currency", "USD", "ISO currency code")
		interval := fs.String("interval", "month", "day|week|month|year")
		count := fs.Int("count", 1, "interval count")
		run = func(ctx context.Context, s *billing.Services) error {
			amt, err := decimal.NewFromString(*amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", *amount, err)
			}
			plan, err := s.Plans.CreatePlan(ctx, *gatewayName, billing.CreatePlanInput{
				Name:          *name,
				Amount:        amt,
				Currency:      *currency,
				Interval:      *interval,
				IntervalCount: *count,
			})
			if err != nil {
				return err
			}
			fmt.Printf("plan created: id=%d %s gateway_plan_id=%s\n", plan.ID, plan.Name, plan.GatewayPlanID)
			return nil
		}
	case "subscription":
		customerID := fs.Uint("customer", 0, "local customer id")
		planID := fs.Uint("plan", 0, "local plan id")
		run = func(ctx context.Context, s *billing.Services) error {
			if *customerID == 0 || *planID == 0 {
				return fmt.Errorf("-customer and -plan are required")
			}
			sub, err := s.Subscriptions.CreateSubscription(ctx, *customerID, *planID, nil)
			if err != nil {
				return err
			}
			fmt.Printf("subscription created: id=%d gateway_subscription_id=%s status=%s\n", sub.ID, sub.GatewaySubscriptionID, sub.Status)
			return nil
		}
	case "link":
		amount := fs.String("amount", "25.00", "amount")
		currency := fs.String("currency", "USD", "ISO currency code")
		description := fs.String("description", "Test payment", "line item description")
		run = func(ctx context.Context, s *billing.Services) error {
			amt, err := decimal.NewFromString(*amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", *amount, err)
			}
			link, err := s.PaymentLinks.CreatePaymentLink(ctx, *gatewayName, billing.CreatePaymentLinkInput{
				Amount:      amt,
				Currency:    *currency,
				Description: *description,
			})
			if err != nil {
				return err
			}
			fmt.Printf("payment link created: id=%d url=%s\n", link.ID, link.URL)
			return nil
		}
	default:
		printUsage()
		os.Exit(1)
	}

	_ = fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stack, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	if err := run(ctx, stack.Services); err != nil {
		slog.Error("paytest failed", "action", action, "gateway", *gatewayName, "kind", billing.KindOf(err), "error", err)
		stack.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: paytest <customer|plan|subscription|link> [flags]")
	fmt.Println("Run `paytest <action> -h` for the flags of an action.")
}
