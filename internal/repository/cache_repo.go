package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepository durable cache tier on the cache_storage table
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a cache.Backend backed by cache_storage
func NewCacheRepository(db *gorm.DB) cache.Backend {
	return &cacheRepository{db: db}
}

// Get returns the stored row regardless of expiry; nil when absent
func (r *cacheRepository) Get(ctx context.Context, key string) (*cache.Record, error) {
	var row domain.CacheEntry
	err := r.db.WithContext(ctx).
		Where("cache_key = ?", key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cache.Record{
		Key:        row.CacheKey,
		Value:      []byte(row.Value),
		ExpiresAt:  row.ExpiresAt.UTC(),
		Category:   cache.Category(row.Category),
		ShopDomain: row.ShopDomain,
		CreatedAt:  row.CreatedAt,
	}, nil
}

// Put upserts on cache_key
func (r *cacheRepository) Put(ctx context.Context, rec *cache.Record) error {
	row := &domain.CacheEntry{
		CacheKey:   rec.Key,
		Value:      datatypes.JSON(rec.Value),
		ExpiresAt:  rec.ExpiresAt.UTC(),
		ShopDomain: rec.ShopDomain,
		Category:   string(rec.Category),
		CreatedAt:  rec.CreatedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"cache_value", "expires_at", "shop_domain", "category", "updated_at"}),
		}).
		Create(row).Error
}

// Delete removes one key
func (r *cacheRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).
		Where("cache_key = ?", key).
		Delete(&domain.CacheEntry{}).Error
}

// DeleteMatching removes keys matching pattern, optionally restricted to a shop.
// Prefix and substring patterns are evaluated in SQL; others are filtered in Go.
func (r *cacheRepository) DeleteMatching(ctx context.Context, pattern cache.Pattern, shop string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.CacheEntry{})
	if shop != "" {
		q = q.Where("shop_domain = ?", shop)
	}

	switch p := pattern.(type) {
	case cache.Prefix:
		result := q.Where("cache_key LIKE ? ESCAPE '!'", escapeLike(string(p))+"%").
			Delete(&domain.CacheEntry{})
		return result.RowsAffected, result.Error
	case cache.Contains:
		result := q.Where("cache_key LIKE ? ESCAPE '!'", "%"+escapeLike(string(p))+"%").
			Delete(&domain.CacheEntry{})
		return result.RowsAffected, result.Error
	}

	var keys []string
	if err := q.Pluck("cache_key", &keys).Error; err != nil {
		return 0, err
	}
	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		if pattern.Match(k) {
			matched = append(matched, k)
		}
	}

	var deleted int64
	for start := 0; start < len(matched); start += inClauseChunk {
		end := min(start+inClauseChunk, len(matched))
		result := r.db.WithContext(ctx).
			Where("cache_key IN ?", matched[start:end]).
			Delete(&domain.CacheEntry{})
		if result.Error != nil {
			return deleted, result.Error
		}
		deleted += result.RowsAffected
	}
	return deleted, nil
}

// DeleteExpired purges rows at or past expires_at
func (r *cacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.CacheEntry{})
	return result.RowsAffected, result.Error
}

// DeleteAll empties the table
func (r *cacheRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&domain.CacheEntry{}).Error
}
