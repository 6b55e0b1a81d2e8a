package billing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway/gatewaytest"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newSQLiteRepository opens a file-backed SQLite database with the production
// schema. Foreign keys are enforced and driver errors are translated, so the
// GORM repository reports the same sentinel errors as on MySQL or Postgres.
func newSQLiteRepository(t *testing.T) Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "payfox.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close(db) })

	require.NoError(t, database.Migrate(db))
	return NewRepository(db)
}

func TestGormRepository_WebhookLedger(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	created, stored, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{
		Gateway: models.GatewayStripe, EventID: "evt_1", EventType: "invoice.paid",
		Payload: map[string]interface{}{"id": "evt_1"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, stored.ID)
	assert.Equal(t, "evt_1", stored.Payload["id"])
	assert.False(t, stored.Processed)
	assert.Nil(t, stored.ProcessedAt)

	created, again, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{
		Gateway: models.GatewayStripe, EventID: "evt_1", EventType: "invoice.paid",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	created, other, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{
		Gateway: models.GatewayPayPal, EventID: "evt_1", EventType: "PAYMENT.SALE.COMPLETED",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, stored.ID, other.ID)

	require.NoError(t, repo.MarkWebhookProcessed(ctx, stored.ID, ""))
	_, done, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: models.GatewayStripe, EventID: "evt_1", EventType: "invoice.paid"})
	require.NoError(t, err)
	assert.True(t, done.Processed)
	assert.NotNil(t, done.ProcessedAt)
	assert.Empty(t, done.Error)

	require.NoError(t, repo.MarkWebhookProcessed(ctx, other.ID, "subscription id missing"))
	_, failed, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: models.GatewayPayPal, EventID: "evt_1", EventType: "PAYMENT.SALE.COMPLETED"})
	require.NoError(t, err)
	assert.False(t, failed.Processed)
	assert.Nil(t, failed.ProcessedAt)
	assert.Equal(t, "subscription id missing", failed.Error)

	assert.ErrorIs(t, repo.MarkWebhookProcessed(ctx, 9999, ""), gorm.ErrRecordNotFound)
}

func TestGormRepository_Constraints(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	customer := &models.PaymentCustomer{UserID: 1, Gateway: models.GatewayStripe, GatewayCustomerID: "cus_1", Email: "a@x.com"}
	require.NoError(t, repo.CreateCustomer(ctx, customer))

	err := repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: models.GatewayStripe, GatewayCustomerID: "cus_2", Email: "a@x.com"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	err = repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 2, Gateway: models.GatewayStripe, GatewayCustomerID: "cus_1", Email: "b@x.com"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.NoError(t, repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: models.GatewayPayPal, GatewayCustomerID: "cus_1", Email: "a@x.com"}))

	err = repo.CreateCard(ctx, &models.PaymentCard{PaymentCustomerID: 9999, GatewayCardID: "pm_orphan"})
	assert.ErrorIs(t, err, gorm.ErrForeignKeyViolated)

	require.NoError(t, repo.CreateCard(ctx, &models.PaymentCard{PaymentCustomerID: customer.ID, GatewayCardID: "pm_1"}))
	err = repo.CreateCard(ctx, &models.PaymentCard{PaymentCustomerID: customer.ID, GatewayCardID: "pm_1"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	assert.ErrorIs(t, repo.SetCardDefault(ctx, 9999), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.DeleteCard(ctx, 9999), gorm.ErrRecordNotFound)

	_, err = repo.LockCustomer(ctx, 9999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGormRepository_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: models.GatewayStripe, GatewayCustomerID: "cus_1", Email: "a@x.com"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.FindCustomer(ctx, 1, models.GatewayStripe)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGormRepository_DefaultCardFlip(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	registry, err := gateway.NewRegistry(gatewaytest.New(models.GatewayStripe))
	require.NoError(t, err)
	svc := NewServices(repo, registry, cache.NewMemoryCache(), Options{PlanCacheTTL: time.Hour, Now: time.Now})

	c, err := svc.Customers.CreateCustomer(ctx, User{ID: 1, Email: "a@x.com", Name: "Alice"}, models.GatewayStripe, map[string]string{"source": "signup"})
	require.NoError(t, err)
	stored, err := repo.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "signup", stored.Metadata["source"])

	first, err := svc.Cards.CreateCard(ctx, c.ID, "tok_visa", true)
	require.NoError(t, err)
	second, err := svc.Cards.CreateCard(ctx, c.ID, "tok_mastercard", true)
	require.NoError(t, err)

	cards, err := svc.Cards.ListCards(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, 1, countDefaults(cards))
	assert.Equal(t, second.ID, cards[0].ID)

	_, err = svc.Cards.SetAsDefault(ctx, first.ID)
	require.NoError(t, err)
	cards, err = svc.Cards.ListCards(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countDefaults(cards))
	assert.Equal(t, first.ID, cards[0].ID)

	require.NoError(t, svc.Cards.DeleteCard(ctx, first.ID))
	err = svc.Cards.DeleteCard(ctx, first.ID)
	assert.True(t, IsKind(err, KindNotFound))
}
