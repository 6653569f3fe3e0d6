package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRepository append-only event log access
type EventRepository interface {
	FindExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, events []*domain.Event) ([]*domain.Event, error)

	// attribution lookups
	FindLatestShown(ctx context.Context, visitorID, shop string, from, to time.Time) (*domain.Event, error)
	FindLatestSubmissionByEmail(ctx context.Context, shop, email string, from, to time.Time) (*domain.Event, error)

	// rollup input
	ListByShopBetween(ctx context.Context, shop string, from, to time.Time) ([]*domain.Event, error)
	ListTouchedHours(ctx context.Context, createdFrom, createdTo time.Time) ([]domain.ShopHour, error)
	CountByType(ctx context.Context, shop string, from, to time.Time) (map[domain.EventType]int64, int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// FindExistingIDs returns the subset of ids already present in the log
func (r *eventRepository) FindExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	for start := 0; start < len(ids); start += inClauseChunk {
		end := min(start+inClauseChunk, len(ids))
		var found []string
		err := r.db.WithContext(ctx).
			Model(&domain.Event{}).
			Where("event_id IN ?", ids[start:end]).
			Pluck("event_id", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

var errPartialInsert = errors.New("partial insert")

func skipExisting() clause.Expression {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}
}

// InsertBatch inserts events, skipping ids that already exist.
// Returns only the events this call actually wrote.
func (r *eventRepository) InsertBatch(ctx context.Context, events []*domain.Event) ([]*domain.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(skipExisting()).Create(events)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(events)) {
			return errPartialInsert
		}
		return nil
	})
	if err == nil {
		return events, nil
	}
	if !errors.Is(err, errPartialInsert) {
		return nil, err
	}

	// 다른 writer와 충돌: 롤백 후 행 단위로 다시 넣어 실제 삽입분만 반환
	var inserted []*domain.Event
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted = inserted[:0]
		for _, e := range events {
			e.ID = 0
			result := tx.Clauses(skipExisting()).Create(e)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				inserted = append(inserted, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// FindLatestShown last popup impression of the visitor in [from, to], nil when none
func (r *eventRepository) FindLatestShown(ctx context.Context, visitorID, shop string, from, to time.Time) (*domain.Event, error) {
	var event domain.Event
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND visitor_id = ?", shop, visitorID).
		Where("event_type IN ?", domain.ShownEventTypes()).
		Where("popup_id <> ''").
		Where("event_timestamp >= ? AND event_timestamp <= ?", from, to).
		Order("event_timestamp DESC, id DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindLatestSubmissionByEmail last email submission with the given email in [from, to], nil when none
func (r *eventRepository) FindLatestSubmissionByEmail(ctx context.Context, shop, email string, from, to time.Time) (*domain.Event, error) {
	var event domain.Event
	err := r.db.WithContext(ctx).
		Where("shop_domain = ? AND email = ?", shop, email).
		Where("event_type IN ?", domain.SubmissionEventTypes()).
		Where("event_timestamp >= ? AND event_timestamp <= ?", from, to).
		Order("event_timestamp DESC, id DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListByShopBetween events of a shop with timestamp in [from, to)
func (r *eventRepository) ListByShopBetween(ctx context.Context, shop string, from, to time.Time) ([]*domain.Event, error) {
	var events []*domain.Event
	err := r.db.WithContext(ctx).
		Where("shop_domain = ?", shop).
		Where("event_timestamp >= ? AND event_timestamp < ?", from, to).
		Order("event_timestamp ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

type touchedRow struct {
	ShopDomain string
	Timestamp  time.Time `gorm:"column:event_timestamp"`
}

// ListTouchedHours distinct (shop, event hour) pairs of events ingested with created_at in [createdFrom, createdTo]
func (r *eventRepository) ListTouchedHours(ctx context.Context, createdFrom, createdTo time.Time) ([]domain.ShopHour, error) {
	var rows []touchedRow
	err := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Distinct("shop_domain", "event_timestamp").
		Where("created_at >= ? AND created_at <= ?", createdFrom, createdTo).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.ShopHour]struct{}, len(rows))
	touched := make([]domain.ShopHour, 0, len(rows))
	for _, row := range rows {
		sh := domain.ShopHour{Shop: row.ShopDomain, Hour: domain.GranularityHour.BucketStart(row.Timestamp)}
		if _, ok := seen[sh]; ok {
			continue
		}
		seen[sh] = struct{}{}
		touched = append(touched, sh)
	}
	sort.Slice(touched, func(i, j int) bool {
		if touched[i].Shop != touched[j].Shop {
			return touched[i].Shop < touched[j].Shop
		}
		return touched[i].Hour.Before(touched[j].Hour)
	})
	return touched, nil
}

type eventTypeCount struct {
	EventType domain.EventType
	Total     int64
}

// CountByType raw event counts per type and distinct visitors in [from, to)
func (r *eventRepository) CountByType(ctx context.Context, shop string, from, to time.Time) (map[domain.EventType]int64, int64, error) {
	var rows []eventTypeCount
	err := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Select("event_type, COUNT(*) AS total").
		Where("shop_domain = ?", shop).
		Where("event_timestamp >= ? AND event_timestamp < ?", from, to).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	var unique int64
	err = r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("shop_domain = ?", shop).
		Where("event_timestamp >= ? AND event_timestamp < ?", from, to).
		Distinct("visitor_id").
		Count(&unique).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[domain.EventType]int64, len(rows))
	for _, row := range rows {
		counts[row.EventType] = row.Total
	}
	return counts, unique, nil
}
