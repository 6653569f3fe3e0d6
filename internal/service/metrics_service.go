package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/smartpop/popup-analytics/pkg/logger"
)

// dashboardDays lookback of the dashboard, ROI and popup performance views
const dashboardDays = 30

// MetricsService cached read models over the aggregation buckets
type MetricsService interface {
	GetDashboardMetrics(ctx context.Context, shop string) (*domain.DashboardMetrics, error)
	GetAnalytics(ctx context.Context, shop string, timeframe domain.Timeframe) (*domain.AnalyticsSummary, error)
	GetPopupPerformance(ctx context.Context, shop string) (*domain.PopupPerformanceReport, error)
	GetROI(ctx context.Context, shop string) (*domain.ROIMetrics, error)
	GetRealtime(ctx context.Context, shop string) (*domain.RealtimeMetrics, error)
	Warm(ctx context.Context, shop string) error
}

type metricsService struct {
	events      repository.EventRepository
	buckets     repository.AggregationRepository
	conversions repository.ConversionRepository
	cache       *cache.Store
	now         func() time.Time
	log         *zerolog.Logger
}

// NewMetricsService creates a new MetricsService. store may be nil (no caching).
func NewMetricsService(
	events repository.EventRepository,
	buckets repository.AggregationRepository,
	conversions repository.ConversionRepository,
	store *cache.Store,
) MetricsService {
	return &metricsService{
		events:      events,
		buckets:     buckets,
		conversions: conversions,
		cache:       store,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
}

// cached serves key from the store, computing and storing it on a miss.
// Cache failures fall through to compute; compute failures are returned.
func cached[T any](ctx context.Context, s *metricsService, key string, category cache.Category, shop string, compute func(context.Context) (*T, error)) (*T, error) {
	if s.cache == nil {
		return compute(ctx)
	}

	var computeErr error
	var out T
	ok, err := s.cache.GetJSON(ctx, key, category, &out, func(ctx context.Context) (any, error) {
		v, err := compute(ctx)
		if err != nil {
			computeErr = err
			return nil, err
		}
		return v, nil
	}, shop)
	if computeErr != nil {
		return nil, computeErr
	}
	if err != nil {
		s.log.Warn().Err(err).Str("cache_key", key).Msg("cached value unreadable, recomputing")
		s.cache.Delete(ctx, key)
		return compute(ctx)
	}
	if !ok {
		return compute(ctx)
	}
	return &out, nil
}

func (s *metricsService) today() time.Time {
	return domain.GranularityDay.BucketStart(s.now())
}

// loadBuckets daily buckets for [from, today) plus hourly buckets for today
func (s *metricsService) loadBuckets(ctx context.Context, shop string, from time.Time) (past, today []*domain.AggregationBucket, err error) {
	start := s.today()
	if from.Before(start) {
		past, err = s.buckets.ListByShop(ctx, shop, domain.GranularityDay, from, start)
		if err != nil {
			return nil, nil, err
		}
	}
	today, err = s.buckets.ListByShop(ctx, shop, domain.GranularityHour, start, start.Add(24*time.Hour))
	if err != nil {
		return nil, nil, err
	}
	return past, today, nil
}

// GetDashboardMetrics dashboard:metrics:<shop>
func (s *metricsService) GetDashboardMetrics(ctx context.Context, shop string) (*domain.DashboardMetrics, error) {
	return cached(ctx, s, cache.DashboardKey(shop), cache.CategoryDashboard, shop, func(ctx context.Context) (*domain.DashboardMetrics, error) {
		from := s.today().AddDate(0, 0, -(dashboardDays - 1))
		past, today, err := s.loadBuckets(ctx, shop, from)
		if err != nil {
			return nil, err
		}
		summary, err := s.conversions.Summary(ctx, shop, from)
		if err != nil {
			return nil, err
		}

		m := &domain.DashboardMetrics{
			ShopDomain:  shop,
			Revenue:     summary.Revenue,
			Conversions: summary.Conversions,
			PeriodStart: from,
			GeneratedAt: s.now().UTC(),
		}
		popups := make(map[string]struct{})
		for _, b := range past {
			m.Totals.Add(b)
			popups[b.PopupID] = struct{}{}
		}
		for _, b := range today {
			m.Totals.Add(b)
			m.Today.Add(b)
			popups[b.PopupID] = struct{}{}
		}
		m.ActivePopups = len(popups)
		return m, nil
	})
}

// GetAnalytics analytics:<shop>:<timeframe>
func (s *metricsService) GetAnalytics(ctx context.Context, shop string, timeframe domain.Timeframe) (*domain.AnalyticsSummary, error) {
	if !timeframe.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidTimeframe, timeframe)
	}

	return cached(ctx, s, cache.AnalyticsKey(shop, string(timeframe)), cache.CategoryAnalytics, shop, func(ctx context.Context) (*domain.AnalyticsSummary, error) {
		start := s.today()
		from := start.AddDate(0, 0, -(timeframe.Days() - 1))
		past, today, err := s.loadBuckets(ctx, shop, from)
		if err != nil {
			return nil, err
		}

		points := make([]domain.DailyPoint, timeframe.Days())
		index := make(map[string]int, len(points))
		for i := range points {
			date := from.AddDate(0, 0, i).Format(time.DateOnly)
			points[i].Date = date
			index[date] = i
		}

		summary := &domain.AnalyticsSummary{
			ShopDomain:  shop,
			Timeframe:   timeframe,
			PeriodStart: from,
			GeneratedAt: s.now().UTC(),
		}
		for _, b := range append(past, today...) {
			summary.Totals.Add(b)
			if i, ok := index[b.BucketStart.UTC().Format(time.DateOnly)]; ok {
				points[i].Add(b)
			}
		}
		summary.Trend = points
		return summary, nil
	})
}

// GetPopupPerformance popup:performance:<shop>, ordered by conversion rate
func (s *metricsService) GetPopupPerformance(ctx context.Context, shop string) (*domain.PopupPerformanceReport, error) {
	return cached(ctx, s, cache.PopupPerformanceKey(shop), cache.CategoryDashboard, shop, func(ctx context.Context) (*domain.PopupPerformanceReport, error) {
		from := s.today().AddDate(0, 0, -(dashboardDays - 1))
		past, today, err := s.loadBuckets(ctx, shop, from)
		if err != nil {
			return nil, err
		}

		byPopup := make(map[string]*domain.PopupPerformance)
		for _, b := range append(past, today...) {
			p, ok := byPopup[b.PopupID]
			if !ok {
				p = &domain.PopupPerformance{PopupID: b.PopupID}
				byPopup[b.PopupID] = p
			}
			p.Add(b)
		}

		report := &domain.PopupPerformanceReport{
			ShopDomain:  shop,
			Popups:      make([]domain.PopupPerformance, 0, len(byPopup)),
			GeneratedAt: s.now().UTC(),
		}
		for _, p := range byPopup {
			report.Popups = append(report.Popups, *p)
		}
		sort.Slice(report.Popups, func(i, j int) bool {
			a, b := report.Popups[i], report.Popups[j]
			if a.ConversionRate != b.ConversionRate {
				return a.ConversionRate > b.ConversionRate
			}
			if a.Views != b.Views {
				return a.Views > b.Views
			}
			return a.PopupID < b.PopupID
		})
		return report, nil
	})
}

// GetROI dashboard:roi:<shop>
func (s *metricsService) GetROI(ctx context.Context, shop string) (*domain.ROIMetrics, error) {
	return cached(ctx, s, cache.ROIKey(shop), cache.CategoryDashboard, shop, func(ctx context.Context) (*domain.ROIMetrics, error) {
		from := s.today().AddDate(0, 0, -(dashboardDays - 1))
		summary, err := s.conversions.Summary(ctx, shop, from)
		if err != nil {
			return nil, err
		}
		roi := &domain.ROIMetrics{
			ShopDomain:              shop,
			AttributedRevenue:       summary.Revenue,
			Conversions:             summary.Conversions,
			ConversionsWithOrders:   summary.ConversionsWithOrders,
			AvgTimeToConversionSecs: summary.AvgTimeToConversionSecs,
			PeriodStart:             from,
			GeneratedAt:             s.now().UTC(),
		}
		if summary.ConversionsWithOrders > 0 {
			roi.AverageOrderValue = summary.Revenue / float64(summary.ConversionsWithOrders)
		}
		return roi, nil
	})
}

// GetRealtime realtime:<shop>, raw event counts over the last hour
func (s *metricsService) GetRealtime(ctx context.Context, shop string) (*domain.RealtimeMetrics, error) {
	return cached(ctx, s, cache.RealtimeKey(shop), cache.CategoryRealtime, shop, func(ctx context.Context) (*domain.RealtimeMetrics, error) {
		now := s.now().UTC()
		from := now.Add(-time.Hour)
		counts, unique, err := s.events.CountByType(ctx, shop, from, now)
		if err != nil {
			return nil, err
		}
		rt := &domain.RealtimeMetrics{
			ShopDomain:     shop,
			ByType:         make(map[string]int64, len(counts)),
			UniqueVisitors: unique,
			WindowStart:    from,
			GeneratedAt:    now,
		}
		for typ, n := range counts {
			rt.ByType[string(typ)] = n
			rt.Events += n
		}
		return rt, nil
	})
}

// Warm pre-loads every cached view of the shop
func (s *metricsService) Warm(ctx context.Context, shop string) error {
	var errs []error
	if _, err := s.GetDashboardMetrics(ctx, shop); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.GetROI(ctx, shop); err != nil {
		errs = append(errs, err)
	}
	for _, tf := range []domain.Timeframe{domain.Timeframe7D, domain.Timeframe30D} {
		if _, err := s.GetAnalytics(ctx, shop, tf); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.GetPopupPerformance(ctx, shop); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.GetRealtime(ctx, shop); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
