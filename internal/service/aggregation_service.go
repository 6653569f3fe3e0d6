package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/smartpop/popup-analytics/pkg/logger"
)

// AggregationService hourly/daily rollups and post-rollup cache maintenance
type AggregationService interface {
	RollupHour(ctx context.Context, events []*domain.Event) (int, error)
	RollupHourFromStore(ctx context.Context, shop string, hour time.Time) (int, error)
	RollupDay(ctx context.Context, shop string, date time.Time) (int, error)
	RunPeriodic(ctx context.Context) error
	Finalize(ctx context.Context, shop string)
}

// Warmer pre-computes cached metrics for a shop
type Warmer interface {
	Warm(ctx context.Context, shop string) error
}

type aggregationService struct {
	events  repository.EventRepository
	buckets repository.AggregationRepository
	cache   *cache.Store
	warmer  Warmer
	warm    bool
	now     func() time.Time
	log     *zerolog.Logger

	// RunPeriodic 의 마지막 created_at 상한
	mu      sync.Mutex
	lastRun time.Time
}

// periodicOverlap re-scans the tail of the previous window so rows committed late are not missed
const periodicOverlap = time.Minute

// NewAggregationService creates a new AggregationService.
// store and warmer may be nil; warm enables pre-warming in Finalize.
func NewAggregationService(
	events repository.EventRepository,
	buckets repository.AggregationRepository,
	store *cache.Store,
	warmer Warmer,
	warm bool,
) AggregationService {
	return &aggregationService{
		events:  events,
		buckets: buckets,
		cache:   store,
		warmer:  warmer,
		warm:    warm,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

type bucketKey struct {
	shop  string
	popup string
	start time.Time
}

type bucketAcc struct {
	views, conversions, closes int64
	visitors                   map[string]struct{}
}

// aggregate groups events into buckets of the given granularity.
// Events without a popup_id are skipped.
func aggregate(events []*domain.Event, granularity domain.Granularity, now time.Time) []*domain.AggregationBucket {
	accs := make(map[bucketKey]*bucketAcc)
	for _, e := range events {
		if e.PopupID == "" {
			continue
		}
		key := bucketKey{shop: e.ShopDomain, popup: e.PopupID, start: granularity.BucketStart(e.Timestamp)}
		acc, ok := accs[key]
		if !ok {
			acc = &bucketAcc{visitors: make(map[string]struct{})}
			accs[key] = acc
		}
		switch {
		case e.EventType.IsShown():
			acc.views++
		case e.EventType.IsSubmission():
			acc.conversions++
		case e.EventType == domain.EventClose:
			acc.closes++
		}
		if v := e.VisitorKey(); v != "" {
			acc.visitors[v] = struct{}{}
		}
	}

	buckets := make([]*domain.AggregationBucket, 0, len(accs))
	for key, acc := range accs {
		buckets = append(buckets, &domain.AggregationBucket{
			ShopDomain:       key.shop,
			PopupID:          key.popup,
			Granularity:      granularity,
			BucketStart:      key.start,
			TotalViews:       acc.views,
			TotalConversions: acc.conversions,
			TotalCloses:      acc.closes,
			UniqueVisitors:   int64(len(acc.visitors)),
			ConversionRate:   domain.ConversionRate(acc.views, acc.conversions),
			UpdatedAt:        now,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		if a.ShopDomain != b.ShopDomain {
			return a.ShopDomain < b.ShopDomain
		}
		return a.PopupID < b.PopupID
	})
	return buckets
}

// RollupHour overwrites the hourly buckets covered by events with counts from exactly these events.
// Callers that need complete buckets pass the full set for each hour (see RollupHourFromStore).
func (s *aggregationService) RollupHour(ctx context.Context, events []*domain.Event) (int, error) {
	buckets := aggregate(events, domain.GranularityHour, s.now().UTC())
	if err := s.buckets.Upsert(ctx, buckets); err != nil {
		return 0, err
	}
	rollupBucketsUpserted.WithLabelValues(string(domain.GranularityHour)).Add(float64(len(buckets)))
	return len(buckets), nil
}

// RollupHourFromStore recomputes one shop-hour from the event log
func (s *aggregationService) RollupHourFromStore(ctx context.Context, shop string, hour time.Time) (int, error) {
	start := domain.GranularityHour.BucketStart(hour)
	events, err := s.events.ListByShopBetween(ctx, shop, start, start.Add(time.Hour))
	if err != nil {
		return 0, fmt.Errorf("load events %s %s: %w", shop, start.Format(time.RFC3339), err)
	}
	return s.RollupHour(ctx, events)
}

// RollupDay recomputes the daily buckets of a shop from the day's raw events
func (s *aggregationService) RollupDay(ctx context.Context, shop string, date time.Time) (int, error) {
	start := domain.GranularityDay.BucketStart(date)
	events, err := s.events.ListByShopBetween(ctx, shop, start, start.Add(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("load events %s %s: %w", shop, start.Format(time.DateOnly), err)
	}
	buckets := aggregate(events, domain.GranularityDay, s.now().UTC())
	if err := s.buckets.Upsert(ctx, buckets); err != nil {
		return 0, err
	}
	rollupBucketsUpserted.WithLabelValues(string(domain.GranularityDay)).Add(float64(len(buckets)))
	return len(buckets), nil
}

// RunPeriodic rolls up every (shop, hour) and (shop, day) touched by events
// ingested since the previous run, regardless of how old their timestamps are.
// The first run after start looks back to the start of the previous hour.
func (s *aggregationService) RunPeriodic(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	from := domain.GranularityHour.BucketStart(now).Add(-time.Hour)
	if !s.lastRun.IsZero() {
		from = s.lastRun.Add(-periodicOverlap)
	}

	touched, err := s.events.ListTouchedHours(ctx, from, now)
	if err != nil {
		return fmt.Errorf("list touched hours: %w", err)
	}

	hours := make(map[string][]time.Time)
	days := make(map[string]map[time.Time]struct{})
	var shops []string
	for _, sh := range touched {
		if _, ok := hours[sh.Shop]; !ok {
			shops = append(shops, sh.Shop)
			days[sh.Shop] = make(map[time.Time]struct{})
		}
		hours[sh.Shop] = append(hours[sh.Shop], sh.Hour)
		days[sh.Shop][domain.GranularityDay.BucketStart(sh.Hour)] = struct{}{}
	}

	var errs []error
	for _, shop := range shops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var shopErrs []error
		for _, hour := range hours[shop] {
			if _, err := s.RollupHourFromStore(ctx, shop, hour); err != nil {
				shopErrs = append(shopErrs, err)
			}
		}
		for day := range days[shop] {
			if _, err := s.RollupDay(ctx, shop, day); err != nil {
				shopErrs = append(shopErrs, err)
			}
		}

		if len(shopErrs) > 0 {
			s.log.Error().Err(errors.Join(shopErrs...)).Str("shop_domain", shop).Msg("periodic rollup failed")
			errs = append(errs, shopErrs...)
		}
		s.Finalize(ctx, shop)
	}

	if len(errs) == 0 {
		s.lastRun = now
	}

	s.log.Info().
		Int("shops", len(shops)).
		Int("hours", len(touched)).
		Time("created_from", from).
		Time("created_to", now).
		Msg("periodic rollup done")
	return errors.Join(errs...)
}

// Finalize drops the shop's derived caches and optionally pre-warms them
func (s *aggregationService) Finalize(ctx context.Context, shop string) {
	if s.cache == nil {
		return
	}
	for _, prefix := range []string{cache.PrefixDashboard, cache.PrefixAnalytics, cache.PrefixPopupPerf} {
		s.cache.Invalidate(ctx, cache.Prefix(prefix), shop)
	}
	if s.warm && s.warmer != nil {
		if err := s.warmer.Warm(ctx, shop); err != nil {
			s.log.Warn().Err(err).Str("shop_domain", shop).Msg("cache warm failed")
		}
	}
}
