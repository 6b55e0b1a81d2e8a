package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the persistence operations used by the billing services.
// Lookups return gorm.ErrRecordNotFound (or ErrNotFound) when nothing matches.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction.
	// Returning an error from fn rolls back every write made through tx.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	GetCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error)
	// LockCustomer reads the customer and holds a row lock on it until the
	// surrounding transaction ends. Writers that touch every card of a
	// customer take this lock first.
	LockCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error)
	FindCustomer(ctx context.Context, userID uint, gateway string) (*models.PaymentCustomer, error)
	CreateCustomer(ctx context.Context, customer *models.PaymentCustomer) error
	SaveCustomer(ctx context.Context, customer *models.PaymentCustomer) error

	GetCard(ctx context.Context, id uint) (*models.PaymentCard, error)
	ListCards(ctx context.Context, customerID uint) ([]models.PaymentCard, error)
	CreateCard(ctx context.Context, card *models.PaymentCard) error
	ClearDefaultCards(ctx context.Context, customerID uint) error
	SetCardDefault(ctx context.Context, id uint) error
	DeleteCard(ctx context.Context, id uint) error

	GetPlan(ctx context.Context, id uint) (*models.PaymentPlan, error)
	ListActivePlans(ctx context.Context, gateway string) ([]models.PaymentPlan, error)
	CreatePlan(ctx context.Context, plan *models.PaymentPlan) error
	SavePlan(ctx context.Context, plan *models.PaymentPlan) error

	GetSubscription(ctx context.Context, id uint) (*models.PaymentSubscription, error)
	FindSubscriptionByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*models.PaymentSubscription, error)
	ListSubscriptions(ctx context.Context, customerID uint, status string) ([]models.PaymentSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.PaymentSubscription) error
	SaveSubscription(ctx context.Context, sub *models.PaymentSubscription) error

	GetPaymentLink(ctx context.Context, id uint) (*models.PaymentLink, error)
	ListPaymentLinks(ctx context.Context, gateway, status string) ([]models.PaymentLink, error)
	CreatePaymentLink(ctx context.Context, link *models.PaymentLink) error

	// CreateWebhookEventIfNotExists inserts the event unless a row with the
	// same (gateway, event_id) exists. It reports whether a row was created
	// and always returns the stored row.
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error) {
	var c models.PaymentCustomer
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) LockCustomer(ctx context.Context, id uint) (*models.PaymentCustomer, error) {
	var c models.PaymentCustomer
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) FindCustomer(ctx context.Context, userID uint, gateway string) (*models.PaymentCustomer, error) {
	var c models.PaymentCustomer
	err := r.db.WithContext(ctx).Where("user_id = ? AND gateway = ?", userID, gateway).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) CreateCustomer(ctx context.Context, customer *models.PaymentCustomer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *gormRepository) SaveCustomer(ctx context.Context, customer *models.PaymentCustomer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *gormRepository) GetCard(ctx context.Context, id uint) (*models.PaymentCard, error) {
	var card models.PaymentCard
	if err := r.db.WithContext(ctx).First(&card, id).Error; err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *gormRepository) ListCards(ctx context.Context, customerID uint) ([]models.PaymentCard, error) {
	var cards []models.PaymentCard
	err := r.db.WithContext(ctx).
		Where("payment_customer_id = ?", customerID).
		Order("is_default DESC").
		Order("created_at DESC").
		Order("id DESC").
		Find(&cards).Error
	return cards, err
}

func (r *gormRepository) CreateCard(ctx context.Context, card *models.PaymentCard) error {
	return r.db.WithContext(ctx).Create(card).Error
}

func (r *gormRepository) ClearDefaultCards(ctx context.Context, customerID uint) error {
	return r.db.WithContext(ctx).Model(&models.PaymentCard{}).
		Where("payment_customer_id = ? AND is_default = ?", customerID, true).
		Update("is_default", false).Error
}

func (r *gormRepository) SetCardDefault(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentCard{}).Where("id = ?", id).Update("is_default", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) DeleteCard(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.PaymentCard{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) GetPlan(ctx context.Context, id uint) (*models.PaymentPlan, error) {
	var p models.PaymentPlan
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListActivePlans(ctx context.Context, gateway string) ([]models.PaymentPlan, error) {
	q := r.db.WithContext(ctx).Where("active = ?", true)
	if gateway != "" {
		q = q.Where("gateway = ?", gateway)
	}
	var plans []models.PaymentPlan
	err := q.Order("amount ASC").Order("id ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreatePlan(ctx context.Context, plan *models.PaymentPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *gormRepository) SavePlan(ctx context.Context, plan *models.PaymentPlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *gormRepository) GetSubscription(ctx context.Context, id uint) (*models.PaymentSubscription, error) {
	var s models.PaymentSubscription
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) FindSubscriptionByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*models.PaymentSubscription, error) {
	var s models.PaymentSubscription
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_subscription_id = ?", gateway, gatewaySubscriptionID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ListSubscriptions(ctx context.Context, customerID uint, status string) ([]models.PaymentSubscription, error) {
	q := r.db.WithContext(ctx).Where("payment_customer_id = ?", customerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var subs []models.PaymentSubscription
	err := q.Order("created_at DESC").Order("id DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.PaymentSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.PaymentSubscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) GetPaymentLink(ctx context.Context, id uint) (*models.PaymentLink, error) {
	var l models.PaymentLink
	if err := r.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *gormRepository) ListPaymentLinks(ctx context.Context, gateway, status string) ([]models.PaymentLink, error) {
	q := r.db.WithContext(ctx).Model(&models.PaymentLink{})
	if gateway != "" {
		q = q.Where("gateway = ?", gateway)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var links []models.PaymentLink
	err := q.Order("created_at DESC").Order("id DESC").Find(&links).Error
	return links, err
}

func (r *gormRepository) CreatePaymentLink(ctx context.Context, link *models.PaymentLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, nil, res.Error
	}

	var stored models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).Where("gateway = ? AND event_id = ?", event.Gateway, event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return res.RowsAffected > 0, &stored, nil
}

// MarkWebhookProcessed stamps processed_at only when processing succeeded; a
// failed event keeps processed_at NULL and carries the error instead.
func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	var processedAt interface{}
	if processingError == "" {
		processedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    processingError == "",
			"processed_at": processedAt,
			"error":        processingError,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
