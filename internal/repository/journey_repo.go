package repository

import (
	"context"
	"errors"

	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JourneyRepository customer journey access
type JourneyRepository interface {
	FindByVisitor(ctx context.Context, visitorID, shop string) (*domain.CustomerJourney, error)
	CreateIfAbsent(ctx context.Context, journey *domain.CustomerJourney) (bool, error)
	Update(ctx context.Context, id uint64, updates map[string]interface{}) error
	ListByShop(ctx context.Context, shop string, limit int) ([]*domain.CustomerJourney, error)
}

type journeyRepository struct {
	db *gorm.DB
}

// NewJourneyRepository creates a new JourneyRepository
func NewJourneyRepository(db *gorm.DB) JourneyRepository {
	return &journeyRepository{db: db}
}

// FindByVisitor returns common.ErrNotFound when the visitor has no journey
func (r *journeyRepository) FindByVisitor(ctx context.Context, visitorID, shop string) (*domain.CustomerJourney, error) {
	var journey domain.CustomerJourney
	err := r.db.WithContext(ctx).
		Where("visitor_id = ? AND shop_domain = ?", visitorID, shop).
		First(&journey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &journey, nil
}

// CreateIfAbsent inserts the journey unless (visitor_id, shop_domain) exists.
// Reports whether a row was created.
func (r *journeyRepository) CreateIfAbsent(ctx context.Context, journey *domain.CustomerJourney) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "visitor_id"}, {Name: "shop_domain"}},
			DoNothing: true,
		}).
		Create(journey)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Update applies column updates; values may be gorm.Expr for atomic increments
func (r *journeyRepository) Update(ctx context.Context, id uint64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&domain.CustomerJourney{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListByShop most recently active journeys of a shop
func (r *journeyRepository) ListByShop(ctx context.Context, shop string, limit int) ([]*domain.CustomerJourney, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var journeys []*domain.CustomerJourney
	err := r.db.WithContext(ctx).
		Where("shop_domain = ?", shop).
		Order("updated_at DESC").
		Limit(limit).
		Find(&journeys).Error
	if err != nil {
		return nil, err
	}
	return journeys, nil
}
