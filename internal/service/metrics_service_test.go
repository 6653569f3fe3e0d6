package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bucket(popup string, g domain.Granularity, start time.Time, views, conversions int64) *domain.AggregationBucket {
	return &domain.AggregationBucket{
		ShopDomain:       testShop,
		PopupID:          popup,
		Granularity:      g,
		BucketStart:      start,
		TotalViews:       views,
		TotalConversions: conversions,
		UniqueVisitors:   views,
		ConversionRate:   domain.ConversionRate(views, conversions),
	}
}

func seedBuckets(t *testing.T, p *pipeline) {
	t.Helper()
	require.NoError(t, p.buckets.Upsert(context.Background(), []*domain.AggregationBucket{
		bucket("popup-1", domain.GranularityDay, today.AddDate(0, 0, -1), 100, 10),
		bucket("popup-2", domain.GranularityDay, today.AddDate(0, 0, -3), 50, 1),
		// today's daily bucket is ignored in favour of the hourly ones
		bucket("popup-1", domain.GranularityDay, today, 999, 999),
		bucket("popup-1", domain.GranularityHour, today.Add(10*time.Hour), 20, 4),
		// outside the 7d window
		bucket("popup-3", domain.GranularityDay, today.AddDate(0, 0, -10), 10, 10),
	}))
}

func TestGetDashboardMetrics_EmptyPeriod(t *testing.T) {
	p := newPipeline(t)

	m, err := p.metrics.GetDashboardMetrics(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, testShop, m.ShopDomain)
	assert.Equal(t, domain.EventTotals{}, m.Totals)
	assert.Equal(t, 0, m.ActivePopups)
	assert.Equal(t, 0.0, m.Revenue)
}

func TestGetDashboardMetrics_Totals(t *testing.T) {
	p := newPipeline(t)
	seedBuckets(t, p)

	m, err := p.metrics.GetDashboardMetrics(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, int64(180), m.Totals.Views)
	assert.Equal(t, int64(25), m.Totals.Conversions)
	assert.Equal(t, int64(20), m.Today.Views)
	assert.Equal(t, int64(4), m.Today.Conversions)
	assert.InDelta(t, 20.0, m.Today.ConversionRate, 0.0001)
	assert.Equal(t, 3, m.ActivePopups)
	assert.True(t, m.PeriodStart.Equal(today.AddDate(0, 0, -29)))
}

func TestGetDashboardMetrics_ServedFromCache(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	seedBuckets(t, p)

	first, err := p.metrics.GetDashboardMetrics(ctx, testShop)
	require.NoError(t, err)

	require.NoError(t, p.buckets.Upsert(ctx, []*domain.AggregationBucket{
		bucket("popup-9", domain.GranularityHour, today.Add(11*time.Hour), 1000, 0),
	}))

	second, err := p.metrics.GetDashboardMetrics(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, int64(1), p.store.Stats().Hits)

	p.store.Invalidate(ctx, cache.Prefix(cache.PrefixDashboard), testShop)
	third, err := p.metrics.GetDashboardMetrics(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, first.Totals.Views+1000, third.Totals.Views)

	// TTL expiry recomputes as well
	p.now = p.now.Add(cache.CategoryDashboard.TTL())
	require.NoError(t, p.buckets.Upsert(ctx, []*domain.AggregationBucket{
		bucket("popup-9", domain.GranularityHour, today.Add(11*time.Hour), 2000, 0),
	}))
	fourth, err := p.metrics.GetDashboardMetrics(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, first.Totals.Views+2000, fourth.Totals.Views)
}

func TestGetAnalytics_Trend(t *testing.T) {
	p := newPipeline(t)
	seedBuckets(t, p)

	a, err := p.metrics.GetAnalytics(context.Background(), testShop, domain.Timeframe7D)
	require.NoError(t, err)
	require.Len(t, a.Trend, 7)
	assert.Equal(t, "2024-02-24", a.Trend[0].Date)
	assert.Equal(t, "2024-03-01", a.Trend[6].Date)
	assert.Equal(t, int64(20), a.Trend[6].Views)
	assert.Equal(t, int64(100), a.Trend[5].Views)
	assert.Equal(t, int64(50), a.Trend[3].Views)
	assert.Equal(t, int64(0), a.Trend[0].Views)
	assert.Equal(t, int64(170), a.Totals.Views)
	assert.Equal(t, int64(15), a.Totals.Conversions)
}

func TestGetAnalytics_OneDayUsesHourlyOnly(t *testing.T) {
	p := newPipeline(t)
	seedBuckets(t, p)

	a, err := p.metrics.GetAnalytics(context.Background(), testShop, domain.Timeframe1D)
	require.NoError(t, err)
	require.Len(t, a.Trend, 1)
	assert.Equal(t, int64(20), a.Totals.Views)
}

func TestGetAnalytics_InvalidTimeframe(t *testing.T) {
	p := newPipeline(t)

	_, err := p.metrics.GetAnalytics(context.Background(), testShop, domain.Timeframe("2w"))
	assert.True(t, errors.Is(err, common.ErrInvalidTimeframe))
}

func TestGetAnalytics_EmptyPeriod(t *testing.T) {
	p := newPipeline(t)

	a, err := p.metrics.GetAnalytics(context.Background(), testShop, domain.Timeframe30D)
	require.NoError(t, err)
	require.Len(t, a.Trend, 30)
	assert.Equal(t, domain.EventTotals{}, a.Totals)
	for _, point := range a.Trend {
		assert.Equal(t, int64(0), point.Views)
	}
}

func TestGetPopupPerformance_Ordering(t *testing.T) {
	p := newPipeline(t)
	seedBuckets(t, p)

	report, err := p.metrics.GetPopupPerformance(context.Background(), testShop)
	require.NoError(t, err)
	require.Len(t, report.Popups, 3)
	// popup-3: 100%, popup-1: 120 views / 14 conv, popup-2: 2%
	assert.Equal(t, "popup-3", report.Popups[0].PopupID)
	assert.Equal(t, "popup-1", report.Popups[1].PopupID)
	assert.Equal(t, int64(120), report.Popups[1].Views)
	assert.Equal(t, "popup-2", report.Popups[2].PopupID)
}

func TestGetROI(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		shownAt := base.Add(time.Duration(i) * time.Hour)
		p.record(t, event("shown-"+email, domain.EventPopupShown, "popup-1", shownAt))
		submit := event("submit-"+email, domain.EventEmailSubmitted, "popup-1", shownAt.Add(time.Minute))
		submit.Email = email
		p.record(t, submit)
	}
	for _, order := range []struct {
		email string
		value float64
	}{{"a@example.com", 100}, {"b@example.com", 50}} {
		purchase := event("buy-"+order.email, domain.EventPurchaseMade, "", base.Add(4*time.Hour))
		purchase.Email = order.email
		purchase.OrderValue = order.value
		p.record(t, purchase)
	}

	roi, err := p.metrics.GetROI(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, int64(3), roi.Conversions)
	assert.Equal(t, int64(2), roi.ConversionsWithOrders)
	assert.InDelta(t, 150.0, roi.AttributedRevenue, 0.001)
	assert.InDelta(t, 75.0, roi.AverageOrderValue, 0.001)
	assert.InDelta(t, 60.0, roi.AvgTimeToConversionSecs, 0.001)
}

func TestGetRealtime(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.events.InsertBatch(ctx, []*domain.Event{
		event("old", domain.EventPopupShown, "popup-1", base.Add(-2*time.Hour)),
		event("1", domain.EventPopupShown, "popup-1", base.Add(-30*time.Minute)),
		event("2", domain.EventClose, "popup-1", base.Add(-20*time.Minute)),
		event("3", domain.EventPopupShown, "popup-1", base.Add(-10*time.Minute)),
	})
	require.NoError(t, err)

	rt, err := p.metrics.GetRealtime(ctx, testShop)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rt.Events)
	assert.Equal(t, int64(2), rt.ByType["popup_shown"])
	assert.Equal(t, int64(1), rt.ByType["close"])
	assert.Equal(t, int64(1), rt.UniqueVisitors)
}

func TestMetricsService_ComputeErrorIsReturned(t *testing.T) {
	events := new(MockEventRepository)
	dbErr := errors.New("db down")
	events.On("CountByType", mock.Anything, testShop, mock.Anything, mock.Anything).Return(nil, int64(0), dbErr)

	store := cache.NewStore(nil)
	svc := NewMetricsService(events, nil, nil, store)

	_, err := svc.GetRealtime(context.Background(), testShop)
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, 0, store.Stats().MemorySize)
	events.AssertExpectations(t)
}

func TestMetricsService_WithoutCache(t *testing.T) {
	p := newPipeline(t)
	svc := NewMetricsService(p.events, p.buckets, p.conversions, nil)

	m, err := svc.GetDashboardMetrics(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, testShop, m.ShopDomain)
}

var _ repository.EventRepository = (*MockEventRepository)(nil)
