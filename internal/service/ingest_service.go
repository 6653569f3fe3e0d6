package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/smartpop/popup-analytics/pkg/logger"
	"gorm.io/datatypes"
)

// IngestConfig batch limits
type IngestConfig struct {
	DefaultBatchSize  int
	MaxBatchSize      int
	AttributionWindow time.Duration
}

// DefaultIngestConfig 100 per chunk, 1000 per request, 7 day window
var DefaultIngestConfig = IngestConfig{
	DefaultBatchSize:  100,
	MaxBatchSize:      1000,
	AttributionWindow: domain.DefaultAttributionWindow,
}

// IngestService event ingestion
type IngestService interface {
	Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResult, error)
	Track(ctx context.Context, in *domain.EventInput) (*domain.TrackResult, error)
}

type ingestService struct {
	events      repository.EventRepository
	attribution AttributionService
	aggregation AggregationService
	cache       *cache.Store
	validator   *EventValidator
	cfg         IngestConfig
	now         func() time.Time
	log         *zerolog.Logger
}

// NewIngestService creates a new IngestService. store may be nil.
func NewIngestService(
	events repository.EventRepository,
	attribution AttributionService,
	aggregation AggregationService,
	store *cache.Store,
	validator *EventValidator,
	cfg IngestConfig,
) IngestService {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultIngestConfig.DefaultBatchSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultIngestConfig.MaxBatchSize
	}
	if cfg.AttributionWindow <= 0 {
		cfg.AttributionWindow = DefaultIngestConfig.AttributionWindow
	}
	if validator == nil {
		validator = NewEventValidator(DefaultMetadataLimits)
	}
	return &ingestService{
		events:      events,
		attribution: attribution,
		aggregation: aggregation,
		cache:       store,
		validator:   validator,
		cfg:         cfg,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
}

// Ingest validates, persists, attributes and optionally aggregates a batch.
// A validation failure rejects the whole batch before anything is written.
func (s *ingestService) Ingest(ctx context.Context, req *domain.IngestRequest) (*domain.IngestResult, error) {
	started := s.now()

	if req == nil || len(req.Events) == 0 {
		eventsIngested.WithLabelValues("rejected").Inc()
		return nil, common.ErrEmptyBatch
	}
	if len(req.Events) > s.cfg.MaxBatchSize {
		eventsIngested.WithLabelValues("rejected").Add(float64(len(req.Events)))
		return nil, fmt.Errorf("%w: %d events (max %d)", common.ErrBatchTooLarge, len(req.Events), s.cfg.MaxBatchSize)
	}
	if err := s.validator.ValidateBatch(req.Events); err != nil {
		eventsIngested.WithLabelValues("rejected").Add(float64(len(req.Events)))
		return nil, err
	}

	events := make([]*domain.Event, 0, len(req.Events))
	for i := range req.Events {
		events = append(events, s.normalize(&req.Events[i]))
	}

	result := &domain.IngestResult{}
	fresh, err := s.dedup(ctx, events, result)
	if err != nil {
		eventsIngested.WithLabelValues("failed").Add(float64(len(events)))
		return nil, &BatchError{Failed: len(events), Err: err}
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}
	batchSize = min(batchSize, s.cfg.MaxBatchSize)

	persisted := make([]*domain.Event, 0, len(fresh))
	var insertErrs []error
	for start := 0; start < len(fresh); start += batchSize {
		chunk := fresh[start:min(start+batchSize, len(fresh))]
		inserted, err := s.events.InsertBatch(ctx, chunk)
		if err != nil {
			result.Failed += len(chunk)
			insertErrs = append(insertErrs, err)
			s.log.Error().Err(err).Int("chunk_start", start).Int("chunk_size", len(chunk)).Msg("event chunk insert failed")
			continue
		}
		// 동시 요청이 먼저 쓴 id는 중복으로 처리하고 귀속하지 않는다
		result.Processed += len(inserted)
		result.Duplicates += len(chunk) - len(inserted)
		persisted = append(persisted, inserted...)
	}

	sort.SliceStable(persisted, func(i, j int) bool {
		return persisted[i].Timestamp.Before(persisted[j].Timestamp)
	})
	for _, e := range persisted {
		result.EventIDs = append(result.EventIDs, e.EventID)
		s.attribute(ctx, e)
	}

	shops := shopsOf(persisted)
	if req.ProcessImmediately && len(persisted) > 0 {
		result.MetricsUpdated = s.rollup(ctx, persisted)
		for _, shop := range shops {
			s.aggregation.Finalize(ctx, shop)
		}
		result.CacheInvalidated = s.cache != nil
	} else if s.cache != nil && len(shops) > 0 {
		for _, shop := range shops {
			s.cache.Invalidate(ctx, cache.Prefix(cache.PrefixDashboard), shop)
			s.cache.Invalidate(ctx, cache.Prefix(cache.PrefixRealtime), shop)
		}
		result.CacheInvalidated = true
	}

	eventsIngested.WithLabelValues("processed").Add(float64(result.Processed))
	eventsIngested.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	eventsIngested.WithLabelValues("failed").Add(float64(result.Failed))
	result.ProcessingTimeMs = s.now().Sub(started).Milliseconds()

	s.log.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("duplicates", result.Duplicates).
		Bool("metrics_updated", result.MetricsUpdated).
		Int64("elapsed_ms", result.ProcessingTimeMs).
		Msg("batch ingested")

	if len(insertErrs) > 0 {
		return result, &BatchError{Processed: result.Processed, Failed: result.Failed, Err: errors.Join(insertErrs...)}
	}
	return result, nil
}

// Track records a single widget event. Redelivery of a known id is a no-op.
func (s *ingestService) Track(ctx context.Context, in *domain.EventInput) (*domain.TrackResult, error) {
	if in == nil {
		return nil, common.ErrEmptyBatch
	}
	if err := s.validator.Validate(0, in); err != nil {
		eventsIngested.WithLabelValues("rejected").Inc()
		return nil, err
	}

	event := s.normalize(in)
	existing, err := s.events.FindExistingIDs(ctx, []string{event.EventID})
	if err != nil {
		return nil, err
	}
	if _, ok := existing[event.EventID]; ok {
		eventsIngested.WithLabelValues("duplicate").Inc()
		return &domain.TrackResult{Success: true, EventID: event.EventID}, nil
	}

	inserted, err := s.events.InsertBatch(ctx, []*domain.Event{event})
	if err != nil {
		eventsIngested.WithLabelValues("failed").Inc()
		return nil, err
	}
	if len(inserted) == 0 {
		eventsIngested.WithLabelValues("duplicate").Inc()
		return &domain.TrackResult{Success: true, EventID: event.EventID}, nil
	}
	eventsIngested.WithLabelValues("processed").Inc()

	s.attribute(ctx, event)
	if s.cache != nil {
		s.cache.Invalidate(ctx, cache.Prefix(cache.PrefixRealtime), event.ShopDomain)
		s.cache.Invalidate(ctx, cache.Prefix(cache.PrefixDashboard), event.ShopDomain)
	}
	return &domain.TrackResult{Success: true, EventID: event.EventID}, nil
}

// normalize converts a validated input into the stored event
func (s *ingestService) normalize(in *domain.EventInput) *domain.Event {
	ts := in.Timestamp.Time.UTC().Truncate(time.Millisecond)

	e := &domain.Event{
		EventID:     strings.TrimSpace(in.ID),
		SessionID:   strings.TrimSpace(in.SessionID),
		VisitorID:   strings.TrimSpace(in.VisitorID),
		VisitorIP:   strings.TrimSpace(in.VisitorIP),
		ShopDomain:  strings.ToLower(strings.TrimSpace(in.ShopDomain)),
		EventType:   in.EventType,
		Timestamp:   ts,
		PopupID:     strings.TrimSpace(in.PopupID),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		OrderID:     strings.TrimSpace(in.OrderID),
		OrderValue:  in.OrderValue,
		CrossDevice: in.CrossDevice,
		UserAgent:   in.UserAgent,
		PageURL:     in.PageURL,
		CreatedAt:   s.now().UTC(),
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.VisitorID == "" {
		e.VisitorID = e.VisitorIP
	}
	if e.SessionID == "" {
		e.SessionID = e.VisitorID + ":" + ts.Format("20060102")
	}

	window := time.Duration(in.AttributionWindow) * time.Millisecond
	if window <= 0 {
		window = s.cfg.AttributionWindow
	}
	e.AttributionWindowSeconds = int64(window / time.Second)

	if len(in.Metadata) > 0 {
		e.Metadata = datatypes.JSONMap(in.Metadata)
	}
	return e
}

// dedup drops repeats inside the batch and ids already in the log
func (s *ingestService) dedup(ctx context.Context, events []*domain.Event, result *domain.IngestResult) ([]*domain.Event, error) {
	seen := make(map[string]struct{}, len(events))
	unique := make([]*domain.Event, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.EventID]; ok {
			result.Duplicates++
			continue
		}
		seen[e.EventID] = struct{}{}
		unique = append(unique, e)
		ids = append(ids, e.EventID)
	}

	existing, err := s.events.FindExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return unique, nil
	}

	fresh := unique[:0]
	for _, e := range unique {
		if _, ok := existing[e.EventID]; ok {
			result.Duplicates++
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh, nil
}

func (s *ingestService) attribute(ctx context.Context, e *domain.Event) {
	if s.attribution == nil {
		return
	}
	if err := s.attribution.Attribute(ctx, e); err != nil {
		s.log.Warn().Err(err).
			Str("event_id", e.EventID).
			Str("shop_domain", e.ShopDomain).
			Msg("attribution failed")
	}
}

type shopHour struct {
	shop string
	at   time.Time
}

// rollup recomputes every touched shop-hour and shop-day from the event log
func (s *ingestService) rollup(ctx context.Context, events []*domain.Event) bool {
	if s.aggregation == nil {
		return false
	}

	hours := make(map[shopHour]struct{})
	days := make(map[shopHour]struct{})
	for _, e := range events {
		hours[shopHour{e.ShopDomain, domain.GranularityHour.BucketStart(e.Timestamp)}] = struct{}{}
		days[shopHour{e.ShopDomain, domain.GranularityDay.BucketStart(e.Timestamp)}] = struct{}{}
	}

	ok := true
	for k := range hours {
		if _, err := s.aggregation.RollupHourFromStore(ctx, k.shop, k.at); err != nil {
			ok = false
			s.log.Error().Err(err).Str("shop_domain", k.shop).Time("hour", k.at).Msg("immediate hourly rollup failed")
		}
	}
	for k := range days {
		if _, err := s.aggregation.RollupDay(ctx, k.shop, k.at); err != nil {
			ok = false
			s.log.Error().Err(err).Str("shop_domain", k.shop).Time("day", k.at).Msg("immediate daily rollup failed")
		}
	}
	return ok
}

func shopsOf(events []*domain.Event) []string {
	seen := make(map[string]struct{})
	var shops []string
	for _, e := range events {
		if _, ok := seen[e.ShopDomain]; ok {
			continue
		}
		seen[e.ShopDomain] = struct{}{}
		shops = append(shops, e.ShopDomain)
	}
	sort.Strings(shops)
	return shops
}
