package billing

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MemoryRepository is a process-local Repository. It enforces the same unique
// and foreign keys as the SQL schema. It backs DB_DRIVER=memory and the
// service tests.
//
// Writes outside a transaction apply directly under mu. A transaction works
// on a private copy of the tables and records every write; on commit the
// writes are replayed against the current tables under mu and the result is
// swapped in. Readers never see a half-applied transaction and a rollback
// never discards writes made by others in the meantime.
type MemoryRepository struct {
	memoryOps

	txMu sync.Mutex
	mu   sync.RWMutex
	data *memoryTables
	ids  atomic.Uint64
}

type memoryTables struct {
	customers map[uint]models.PaymentCustomer
	cards     map[uint]models.PaymentCard
	plans     map[uint]models.PaymentPlan
	subs      map[uint]models.PaymentSubscription
	links     map[uint]models.PaymentLink
	events    map[uint]models.PaymentWebhookEvent
}

func newMemoryTables() *memoryTables {
	return &memoryTables{
		customers: map[uint]models.PaymentCustomer{},
		cards:     map[uint]models.PaymentCard{},
		plans:     map[uint]models.PaymentPlan{},
		subs:      map[uint]models.PaymentSubscription{},
		links:     map[uint]models.PaymentLink{},
		events:    map[uint]models.PaymentWebhookEvent{},
	}
}

// clone copies the row maps. Rows are replaced on write, never mutated in
// place, so sharing their metadata maps between copies is safe.
func (t *memoryTables) clone() *memoryTables {
	return &memoryTables{
		customers: maps.Clone(t.customers),
		cards:     maps.Clone(t.cards),
		plans:     maps.Clone(t.plans),
		subs:      maps.Clone(t.subs),
		links:     maps.Clone(t.links),
		events:    maps.Clone(t.events),
	}
}

func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{data: newMemoryTables()}
	r.memoryOps = memoryOps{store: r, ids: &r.ids, now: time.Now}
	return r
}

func (r *MemoryRepository) view(fn func(t *memoryTables)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.data)
}

func (r *MemoryRepository) apply(fn func(t *memoryTables) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.data)
}

func (r *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	staged := r.data.clone()
	r.mu.RUnlock()

	tx := &memoryTx{staged: staged}
	tx.memoryOps = memoryOps{store: tx, ids: &r.ids, now: r.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.data.clone()
	for _, op := range tx.log {
		if err := op(next); err != nil {
			return err
		}
	}
	r.data = next
	return nil
}

// memoryTx is handed to Transaction callbacks; nested transactions join the
// outer one.
type memoryTx struct {
	memoryOps

	mu     sync.Mutex
	staged *memoryTables
	log    []func(t *memoryTables) error
}

func (tx *memoryTx) view(fn func(t *memoryTables)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	fn(tx.staged)
}

func (tx *memoryTx) apply(fn func(t *memoryTables) error) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := fn(tx.staged); err != nil {
		return err
	}
	tx.log = append(tx.log, fn)
	return nil
}

func (tx *memoryTx) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return fn(tx)
}

type memoryStore interface {
	view(fn func(t *memoryTables))
	// apply runs a write. fn must depend only on the tables and on values
	// it captured by copy, since a transaction replays it on commit.
	apply(fn func(t *memoryTables) error) error
}

// memoryOps implements the Repository queries against a memoryStore. IDs come
// from a counter shared by the repository and its transactions, so a
// replayed write keeps the ID it was given inside the transaction.
type memoryOps struct {
	store memoryStore
	ids   *atomic.Uint64
	now   func() time.Time
}

func (m memoryOps) nextID() uint {
	return uint(m.ids.Add(1))
}

func cloneMap(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func stamp(now time.Time, created *time.Time, updated *time.Time) {
	if created != nil && created.IsZero() {
		*created = now
	}
	*updated = now
}

func (m memoryOps) GetCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error) {
	var (
		c  models.PaymentCustomer
		ok bool
	)
	m.store.view(func(t *memoryTables) { c, ok = t.customers[id] })
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c.Metadata = cloneMap(c.Metadata)
	return &c, nil
}

// LockCustomer reads the customer row. Transactions are serialized already, so
// no row lock is needed here.
func (m memoryOps) LockCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error) {
	return m.GetCustomer(ctx, id)
}

func (m memoryOps) FindCustomer(ctx context.Context, userID uint, gateway string) (*models.PaymentCustomer, error) {
	var (
		found models.PaymentCustomer
		ok    bool
	)
	m.store.view(func(t *memoryTables) {
		for _, c := range t.customers {
			if c.UserID == userID && c.Gateway == gateway {
				found, ok = c, true
				return
			}
		}
	})
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	found.Metadata = cloneMap(found.Metadata)
	return &found, nil
}

func (t *memoryTables) customerConflicts(c *models.PaymentCustomer) bool {
	for id, existing := range t.customers {
		if id == c.ID || existing.Gateway != c.Gateway {
			continue
		}
		if existing.UserID == c.UserID || existing.GatewayCustomerID == c.GatewayCustomerID {
			return true
		}
	}
	return false
}

func (m memoryOps) CreateCustomer(ctx context.Context, customer *models.PaymentCustomer) error {
	stored := *customer
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	stored.Metadata = cloneMap(customer.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if t.customerConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.customers[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	customer.ID, customer.CreatedAt, customer.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m memoryOps) SaveCustomer(ctx context.Context, customer *models.PaymentCustomer) error {
	stored := *customer
	stamp(m.now(), nil, &stored.UpdatedAt)
	stored.Metadata = cloneMap(customer.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.customers[stored.ID]; !ok {
			return gorm.ErrRecordNotFound
		}
		if t.customerConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.customers[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	customer.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m memoryOps) GetCard(ctx context.Context, id uint) (*models.PaymentCard, error) {
	var (
		card models.PaymentCard
		ok   bool
	)
	m.store.view(func(t *memoryTables) { card, ok = t.cards[id] })
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &card, nil
}

func (m memoryOps) ListCards(ctx context.Context, customerID uint) ([]models.PaymentCard, error) {
	var cards []models.PaymentCard
	m.store.view(func(t *memoryTables) {
		for _, card := range t.cards {
			if card.PaymentCustomerID == customerID {
				cards = append(cards, card)
			}
		}
	})
	slices.SortFunc(cards, func(a, b models.PaymentCard) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return -1
			}
			return 1
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return cards, nil
}

func (m memoryOps) CreateCard(ctx context.Context, card *models.PaymentCard) error {
	stored := *card
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.customers[stored.PaymentCustomerID]; !ok {
			return gorm.ErrForeignKeyViolated
		}
		for _, existing := range t.cards {
			if existing.GatewayCardID == stored.GatewayCardID {
				return gorm.ErrDuplicatedKey
			}
		}
		t.cards[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	card.ID, card.CreatedAt, card.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m memoryOps) ClearDefaultCards(ctx context.Context, customerID uint) error {
	now := m.now()
	return m.store.apply(func(t *memoryTables) error {
		for id, card := range t.cards {
			if card.PaymentCustomerID == customerID && card.IsDefault {
				card.IsDefault = false
				card.UpdatedAt = now
				t.cards[id] = card
			}
		}
		return nil
	})
}

func (m memoryOps) SetCardDefault(ctx context.Context, id uint) error {
	now := m.now()
	return m.store.apply(func(t *memoryTables) error {
		card, ok := t.cards[id]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		card.IsDefault = true
		card.UpdatedAt = now
		t.cards[id] = card
		return nil
	})
}

func (m memoryOps) DeleteCard(ctx context.Context, id uint) error {
	return m.store.apply(func(t *memoryTables) error {
		if _, ok := t.cards[id]; !ok {
			return gorm.ErrRecordNotFound
		}
		delete(t.cards, id)
		return nil
	})
}

func (m memoryOps) GetPlan(ctx context.Context, id uint) (*models.PaymentPlan, error) {
	var (
		p  models.PaymentPlan
		ok bool
	)
	m.store.view(func(t *memoryTables) { p, ok = t.plans[id] })
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	p.Metadata = cloneMap(p.Metadata)
	return &p, nil
}

func (m memoryOps) ListActivePlans(ctx context.Context, gateway string) ([]models.PaymentPlan, error) {
	var plans []models.PaymentPlan
	m.store.view(func(t *memoryTables) {
		for _, p := range t.plans {
			if !p.Active || (gateway != "" && p.Gateway != gateway) {
				continue
			}
			p.Metadata = cloneMap(p.Metadata)
			plans = append(plans, p)
		}
	})
	slices.SortFunc(plans, func(a, b models.PaymentPlan) int {
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return plans, nil
}

func (t *memoryTables) planConflicts(p *models.PaymentPlan) bool {
	for id, existing := range t.plans {
		if id != p.ID && existing.Gateway == p.Gateway && existing.GatewayPlanID == p.GatewayPlanID {
			return true
		}
	}
	return false
}

func (m memoryOps) CreatePlan(ctx context.Context, plan *models.PaymentPlan) error {
	stored := *plan
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	stored.Metadata = cloneMap(plan.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if t.planConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.plans[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	plan.ID, plan.CreatedAt, plan.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m memoryOps) SavePlan(ctx context.Context, plan *models.PaymentPlan) error {
	stored := *plan
	stamp(m.now(), nil, &stored.UpdatedAt)
	stored.Metadata = cloneMap(plan.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.plans[stored.ID]; !ok {
			return gorm.ErrRecordNotFound
		}
		if t.planConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.plans[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	plan.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m memoryOps) GetSubscription(ctx context.Context, id uint) (*models.PaymentSubscription, error) {
	var (
		s  models.PaymentSubscription
		ok bool
	)
	m.store.view(func(t *memoryTables) { s, ok = t.subs[id] })
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	s.Metadata = cloneMap(s.Metadata)
	return &s, nil
}

func (m memoryOps) FindSubscriptionByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*models.PaymentSubscription, error) {
	var (
		found models.PaymentSubscription
		ok    bool
	)
	m.store.view(func(t *memoryTables) {
		for _, s := range t.subs {
			if s.Gateway == gateway && s.GatewaySubscriptionID == gatewaySubscriptionID {
				found, ok = s, true
				return
			}
		}
	})
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	found.Metadata = cloneMap(found.Metadata)
	return &found, nil
}

func (m memoryOps) ListSubscriptions(ctx context.Context, customerID uint, status string) ([]models.PaymentSubscription, error) {
	var subs []models.PaymentSubscription
	m.store.view(func(t *memoryTables) {
		for _, s := range t.subs {
			if s.PaymentCustomerID != customerID || (status != "" && s.Status != status) {
				continue
			}
			s.Metadata = cloneMap(s.Metadata)
			subs = append(subs, s)
		}
	})
	slices.SortFunc(subs, func(a, b models.PaymentSubscription) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return subs, nil
}

func (t *memoryTables) subscriptionConflicts(s *models.PaymentSubscription) bool {
	for id, existing := range t.subs {
		if id != s.ID && existing.Gateway == s.Gateway && existing.GatewaySubscriptionID == s.GatewaySubscriptionID {
			return true
		}
	}
	return false
}

func (m memoryOps) CreateSubscription(ctx context.Context, sub *models.PaymentSubscription) error {
	stored := *sub
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	stored.Metadata = cloneMap(sub.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.customers[stored.PaymentCustomerID]; !ok {
			return gorm.ErrForeignKeyViolated
		}
		if _, ok := t.plans[stored.PaymentPlanID]; !ok {
			return gorm.ErrForeignKeyViolated
		}
		if t.subscriptionConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.subs[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	sub.ID, sub.CreatedAt, sub.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m memoryOps) SaveSubscription(ctx context.Context, sub *models.PaymentSubscription) error {
	stored := *sub
	stamp(m.now(), nil, &stored.UpdatedAt)
	stored.Metadata = cloneMap(sub.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.subs[stored.ID]; !ok {
			return gorm.ErrRecordNotFound
		}
		if t.subscriptionConflicts(&stored) {
			return gorm.ErrDuplicatedKey
		}
		t.subs[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	sub.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m memoryOps) GetPaymentLink(ctx context.Context, id uint) (*models.PaymentLink, error) {
	var (
		l  models.PaymentLink
		ok bool
	)
	m.store.view(func(t *memoryTables) { l, ok = t.links[id] })
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	l.Metadata = cloneMap(l.Metadata)
	return &l, nil
}

func (m memoryOps) ListPaymentLinks(ctx context.Context, gateway, status string) ([]models.PaymentLink, error) {
	var links []models.PaymentLink
	m.store.view(func(t *memoryTables) {
		for _, l := range t.links {
			if (gateway != "" && l.Gateway != gateway) || (status != "" && l.Status != status) {
				continue
			}
			l.Metadata = cloneMap(l.Metadata)
			links = append(links, l)
		}
	})
	slices.SortFunc(links, func(a, b models.PaymentLink) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return links, nil
}

func (m memoryOps) CreatePaymentLink(ctx context.Context, link *models.PaymentLink) error {
	stored := *link
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	stored.Metadata = cloneMap(link.Metadata)
	err := m.store.apply(func(t *memoryTables) error {
		for _, existing := range t.links {
			if existing.Gateway == stored.Gateway && existing.GatewayLinkID == stored.GatewayLinkID {
				return gorm.ErrDuplicatedKey
			}
		}
		t.links[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	link.ID, link.CreatedAt, link.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (t *memoryTables) findEvent(gateway, eventID string) (models.PaymentWebhookEvent, bool) {
	for _, e := range t.events {
		if e.Gateway == gateway && e.EventID == eventID {
			return e, true
		}
	}
	return models.PaymentWebhookEvent{}, false
}

func (m memoryOps) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	stored := *event
	stored.ID = m.nextID()
	stamp(m.now(), &stored.CreatedAt, &stored.UpdatedAt)
	stored.Payload = cloneMap(event.Payload)
	err := m.store.apply(func(t *memoryTables) error {
		if _, ok := t.findEvent(stored.Gateway, stored.EventID); ok {
			return gorm.ErrDuplicatedKey
		}
		t.events[stored.ID] = stored
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var (
			existing models.PaymentWebhookEvent
			ok       bool
		)
		m.store.view(func(t *memoryTables) { existing, ok = t.findEvent(event.Gateway, event.EventID) })
		if !ok {
			return false, nil, gorm.ErrRecordNotFound
		}
		existing.Payload = cloneMap(existing.Payload)
		return false, &existing, nil
	}
	if err != nil {
		return false, nil, err
	}

	event.ID, event.CreatedAt, event.UpdatedAt = stored.ID, stored.CreatedAt, stored.UpdatedAt
	out := stored
	out.Payload = cloneMap(stored.Payload)
	return true, &out, nil
}

// MarkWebhookProcessed stamps processed_at only when processing succeeded; a
// failed event keeps processed_at empty and carries the error instead.
func (m memoryOps) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := m.now().UTC()
	return m.store.apply(func(t *memoryTables) error {
		e, ok := t.events[id]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		e.Processed = processingError == ""
		e.ProcessedAt = nil
		if e.Processed {
			at := now
			e.ProcessedAt = &at
		}
		e.Error = processingError
		e.UpdatedAt = now
		t.events[id] = e
		return nil
	})
}

// WebhookEvents returns every ledger row, oldest first.
func (r *MemoryRepository) WebhookEvents() []models.PaymentWebhookEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := slices.Collect(maps.Values(r.data.events))
	slices.SortFunc(events, func(a, b models.PaymentWebhookEvent) int { return cmp.Compare(a.ID, b.ID) })
	return events
}
