package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMemoryRepository_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1", Email: "a@x.com"}))

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 2, Gateway: "stripe", GatewayCustomerID: "cus_2"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.FindCustomer(ctx, 2, "stripe")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindCustomer(ctx, 1, "stripe")
	assert.NoError(t, err)
}

func TestMemoryRepository_RollbackKeepsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx Repository) error {
		require.NoError(t, tx.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1"}))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_1", EventType: "x"})
			assert.NoError(t, err)
			assert.True(t, created)
		}()
		wg.Wait()
		return boom
	})
	assert.ErrorIs(t, err, boom)

	events := repo.WebhookEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "evt_1", events[0].EventID)
	_, err = repo.FindCustomer(ctx, 1, "stripe")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMemoryRepository_CommitReplaysOntoConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	var inTx *models.PaymentCustomer
	err := repo.Transaction(ctx, func(tx Repository) error {
		inTx = &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1"}
		if err := tx.CreateCustomer(ctx, inTx); err != nil {
			return err
		}
		_, _, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_1", EventType: "x"})
		return err
	})
	require.NoError(t, err)

	assert.Len(t, repo.WebhookEvents(), 1)
	got, err := repo.FindCustomer(ctx, 1, "stripe")
	require.NoError(t, err)
	assert.Equal(t, inTx.ID, got.ID)
}

func TestMemoryRepository_CommitFailsOnConflictingConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	err := repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1"}); err != nil {
			return err
		}
		return repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_2"})
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	got, err := repo.FindCustomer(ctx, 1, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "cus_2", got.GatewayCustomerID)
}

func TestMemoryRepository_ReadersDoNotSeeOpenTransaction(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	customer := &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1"}
	require.NoError(t, repo.CreateCustomer(ctx, customer))
	first := &models.PaymentCard{PaymentCustomerID: customer.ID, GatewayCardID: "pm_1", IsDefault: true}
	require.NoError(t, repo.CreateCard(ctx, first))

	defaults := func(cards []models.PaymentCard) int {
		n := 0
		for _, c := range cards {
			if c.IsDefault {
				n++
			}
		}
		return n
	}

	second := &models.PaymentCard{PaymentCustomerID: customer.ID, GatewayCardID: "pm_2", IsDefault: true}
	err := repo.Transaction(ctx, func(tx Repository) error {
		if _, err := tx.LockCustomer(ctx, customer.ID); err != nil {
			return err
		}
		if err := tx.ClearDefaultCards(ctx, customer.ID); err != nil {
			return err
		}

		cards, err := repo.ListCards(ctx, customer.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, defaults(cards))
		assert.True(t, cards[0].IsDefault)
		assert.Equal(t, first.ID, cards[0].ID)

		staged, err := tx.ListCards(ctx, customer.ID)
		require.NoError(t, err)
		assert.Zero(t, defaults(staged))

		if err := tx.CreateCard(ctx, second); err != nil {
			return err
		}
		cards, err = repo.ListCards(ctx, customer.ID)
		require.NoError(t, err)
		assert.Len(t, cards, 1)
		return nil
	})
	require.NoError(t, err)

	cards, err := repo.ListCards(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, 1, defaults(cards))
	assert.Equal(t, second.ID, cards[0].ID)
}

func TestMemoryRepository_UniqueKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1"}))

	err := repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_2"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	err = repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 2, Gateway: "stripe", GatewayCustomerID: "cus_1"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.NoError(t, repo.CreateCustomer(ctx, &models.PaymentCustomer{UserID: 1, Gateway: "paypal", GatewayCustomerID: "cus_1"}))
}

func TestMemoryRepository_WebhookLedger(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	created, stored, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_1", EventType: "x"})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, repo.MarkWebhookProcessed(ctx, stored.ID, ""))

	created, again, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_1", EventType: "x"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
	assert.True(t, again.Processed)
	assert.NotNil(t, again.ProcessedAt)

	_, failed, err := repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_2", EventType: "x"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkWebhookProcessed(ctx, failed.ID, "handler failed"))
	_, failed, err = repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "stripe", EventID: "evt_2", EventType: "x"})
	require.NoError(t, err)
	assert.False(t, failed.Processed)
	assert.Nil(t, failed.ProcessedAt)
	assert.Equal(t, "handler failed", failed.Error)
	assert.ErrorIs(t, repo.MarkWebhookProcessed(ctx, 999, ""), gorm.ErrRecordNotFound)

	created, _, err = repo.CreateWebhookEventIfNotExists(ctx, &models.PaymentWebhookEvent{Gateway: "paypal", EventID: "evt_1", EventType: "x"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, repo.WebhookEvents(), 3)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := &models.PaymentCustomer{UserID: 1, Gateway: "stripe", GatewayCustomerID: "cus_1", Metadata: map[string]interface{}{"a": "1"}}
	require.NoError(t, repo.CreateCustomer(ctx, c))

	got, err := repo.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	got.Metadata["a"] = "changed"
	got.Email = "changed@example.com"

	again, err := repo.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Metadata["a"])
	assert.Empty(t, again.Email)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlockB := k.Lock("b")
	unlock()
	unlockB()
	assert.Empty(t, k.locks)
}
