package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversionRepository attributed conversion access
type ConversionRepository interface {
	CreateIfAbsent(ctx context.Context, conv *domain.AttributedConversion) (bool, error)
	FindByConversionEventID(ctx context.Context, eventID string) (*domain.AttributedConversion, error)
	FindLatestUnpurchased(ctx context.Context, shop, email string, from, to time.Time) (*domain.AttributedConversion, error)
	AttachOrder(ctx context.Context, id uint64, orderID string, revenue float64, purchasedAt time.Time, timeToPurchase int64) (bool, error)
	Summary(ctx context.Context, shop string, from time.Time) (*domain.ConversionSummary, error)
}

type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository creates a new ConversionRepository
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &conversionRepository{db: db}
}

// CreateIfAbsent inserts unless conversion_event_id exists. Reports whether a row was created.
func (r *conversionRepository) CreateIfAbsent(ctx context.Context, conv *domain.AttributedConversion) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversion_event_id"}},
			DoNothing: true,
		}).
		Create(conv)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByConversionEventID nil when absent
func (r *conversionRepository) FindByConversionEventID(ctx context.Context, eventID string) (*domain.AttributedConversion, error) {
	var conv domain.AttributedConversion
	err := r.db.WithContext(ctx).
		Where("conversion_event_id = ?", eventID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindLatestUnpurchased most recent conversion for email+shop without an order, converted in [from, to]
func (r *conversionRepository) FindLatestUnpurchased(ctx context.Context, shop, email string, from, to time.Time) (*domain.AttributedConversion, error) {
	var conv domain.AttributedConversion
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND email = ?", shop, email).
		Where("order_id IS NULL").
		Where("converted_at >= ? AND converted_at <= ?", from, to).
		Order("converted_at DESC, id DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AttachOrder links an order to a conversion that has none yet.
// Reports false when another purchase got there first.
func (r *conversionRepository) AttachOrder(ctx context.Context, id uint64, orderID string, revenue float64, purchasedAt time.Time, timeToPurchase int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.AttributedConversion{}).
		Where("id = ? AND order_id IS NULL", id).
		Updates(map[string]interface{}{
			"order_id":                 orderID,
			"revenue_amount":           revenue,
			"purchased_at":             purchasedAt,
			"time_to_purchase_seconds": timeToPurchase,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Summary conversion counts and revenue since from
func (r *conversionRepository) Summary(ctx context.Context, shop string, from time.Time) (*domain.ConversionSummary, error) {
	var row struct {
		Conversions           int64
		ConversionsWithOrders int64
		Revenue               float64
		AvgTimeToConversion   float64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.AttributedConversion{}).
		Select(`COUNT(*) AS conversions,
			COALESCE(SUM(CASE WHEN order_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS conversions_with_orders,
			COALESCE(SUM(revenue_amount), 0) AS revenue,
			COALESCE(AVG(time_to_conversion_seconds), 0) AS avg_time_to_conversion`).
		Where("shop_domain = ? AND converted_at >= ?", shop, from).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &domain.ConversionSummary{
		Conversions:             row.Conversions,
		ConversionsWithOrders:   row.ConversionsWithOrders,
		Revenue:                 row.Revenue,
		AvgTimeToConversionSecs: row.AvgTimeToConversion,
	}, nil
}
