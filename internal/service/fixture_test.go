package service

import (
	"context"
	"testing"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/migration"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testShop = "shop.example"

var base = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migration.Run(db))
	return db
}

// pipeline wires every service over one sqlite database with a shared clock
type pipeline struct {
	db    *gorm.DB
	now   time.Time
	store *cache.Store

	events      repository.EventRepository
	journeys    repository.JourneyRepository
	conversions repository.ConversionRepository
	buckets     repository.AggregationRepository
	behaviors   repository.BehaviorRepository

	attribution *attributionService
	aggregation *aggregationService
	metrics     *metricsService
	ingest      *ingestService
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{db: setupTestDB(t), now: base}
	clock := func() time.Time { return p.now }
	// created_at 도 같은 시계를 따른다
	p.db.Config.NowFunc = clock

	p.events = repository.NewEventRepository(p.db)
	p.journeys = repository.NewJourneyRepository(p.db)
	p.conversions = repository.NewConversionRepository(p.db)
	p.buckets = repository.NewAggregationRepository(p.db)
	p.behaviors = repository.NewBehaviorRepository(p.db)
	p.store = cache.NewStore(repository.NewCacheRepository(p.db), cache.WithClock(clock))

	p.attribution = NewAttributionService(p.events, p.journeys, p.conversions, p.behaviors).(*attributionService)
	p.attribution.now = clock

	p.metrics = NewMetricsService(p.events, p.buckets, p.conversions, p.store).(*metricsService)
	p.metrics.now = clock

	p.aggregation = NewAggregationService(p.events, p.buckets, p.store, p.metrics, true).(*aggregationService)
	p.aggregation.now = clock

	p.ingest = NewIngestService(p.events, p.attribution, p.aggregation, p.store, nil, DefaultIngestConfig).(*ingestService)
	p.ingest.now = clock
	return p
}

// record persists an event and runs attribution on it
func (p *pipeline) record(t *testing.T, e *domain.Event) {
	t.Helper()
	ctx := context.Background()
	_, err := p.events.InsertBatch(ctx, []*domain.Event{e})
	require.NoError(t, err)
	require.NoError(t, p.attribution.Attribute(ctx, e))
}

func (p *pipeline) journey(t *testing.T, visitor string) *domain.CustomerJourney {
	t.Helper()
	j, err := p.journeys.FindByVisitor(context.Background(), visitor, testShop)
	require.NoError(t, err)
	return j
}

func event(id string, typ domain.EventType, popup string, ts time.Time) *domain.Event {
	return &domain.Event{
		EventID:                  id,
		SessionID:                "sess-1",
		VisitorID:                "visitor-1",
		ShopDomain:               testShop,
		EventType:                typ,
		Timestamp:                ts,
		PopupID:                  popup,
		AttributionWindowSeconds: int64(domain.DefaultAttributionWindow / time.Second),
	}
}

func input(id string, typ domain.EventType, ts time.Time) domain.EventInput {
	return domain.EventInput{
		ID:         id,
		VisitorID:  "visitor-1",
		ShopDomain: testShop,
		EventType:  typ,
		Timestamp:  domain.Timestamp{Time: ts},
		PopupID:    "popup-1",
	}
}

// MockEventRepository is a mock implementation of EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) FindExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) ([]*domain.Event, error) {
	args := m.Called(ctx, events)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Event), args.Error(1)
}

func (m *MockEventRepository) FindLatestShown(ctx context.Context, visitorID, shop string, from, to time.Time) (*domain.Event, error) {
	args := m.Called(ctx, visitorID, shop, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *MockEventRepository) FindLatestSubmissionByEmail(ctx context.Context, shop, email string, from, to time.Time) (*domain.Event, error) {
	args := m.Called(ctx, shop, email, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *MockEventRepository) ListByShopBetween(ctx context.Context, shop string, from, to time.Time) ([]*domain.Event, error) {
	args := m.Called(ctx, shop, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Event), args.Error(1)
}

func (m *MockEventRepository) ListTouchedHours(ctx context.Context, createdFrom, createdTo time.Time) ([]domain.ShopHour, error) {
	args := m.Called(ctx, createdFrom, createdTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ShopHour), args.Error(1)
}

func (m *MockEventRepository) CountByType(ctx context.Context, shop string, from, to time.Time) (map[domain.EventType]int64, int64, error) {
	args := m.Called(ctx, shop, from, to)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(map[domain.EventType]int64), args.Get(1).(int64), args.Error(2)
}
