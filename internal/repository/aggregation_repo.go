package repository

import (
	"context"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregationRepository rollup bucket access
type AggregationRepository interface {
	Upsert(ctx context.Context, buckets []*domain.AggregationBucket) error
	ListByShop(ctx context.Context, shop string, granularity domain.Granularity, from, to time.Time) ([]*domain.AggregationBucket, error)
}

type aggregationRepository struct {
	db *gorm.DB
}

// NewAggregationRepository creates a new AggregationRepository
func NewAggregationRepository(db *gorm.DB) AggregationRepository {
	return &aggregationRepository{db: db}
}

// Upsert writes buckets, overwriting counters on (shop_domain, popup_id, granularity, bucket_start)
func (r *aggregationRepository) Upsert(ctx context.Context, buckets []*domain.AggregationBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "shop_domain"},
				{Name: "popup_id"},
				{Name: "granularity"},
				{Name: "bucket_start"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_views",
				"total_conversions",
				"total_closes",
				"unique_visitors",
				"conversion_rate",
				"updated_at",
			}),
		}).
		CreateInBatches(buckets, 200).Error
}

// ListByShop buckets with bucket_start in [from, to), ordered by bucket_start then popup
func (r *aggregationRepository) ListByShop(ctx context.Context, shop string, granularity domain.Granularity, from, to time.Time) ([]*domain.AggregationBucket, error) {
	var buckets []*domain.AggregationBucket
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND granularity = ?", shop, granularity).
		Where("bucket_start >= ? AND bucket_start < ?", from, to).
		Order("bucket_start ASC, popup_id ASC").
		Find(&buckets).Error
	if err != nil {
		return nil, err
	}
	return buckets, nil
}
