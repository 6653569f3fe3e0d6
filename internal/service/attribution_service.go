package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AttributionService journey bookkeeping and last-touch conversion credit
type AttributionService interface {
	Attribute(ctx context.Context, event *domain.Event) error
	ListJourneys(ctx context.Context, shop string, limit int) ([]*domain.CustomerJourney, error)
}

type attributionService struct {
	events      repository.EventRepository
	journeys    repository.JourneyRepository
	conversions repository.ConversionRepository
	behaviors   repository.BehaviorRepository
	now         func() time.Time
	log         *zerolog.Logger
}

// NewAttributionService creates a new AttributionService. behaviors may be nil.
func NewAttributionService(
	events repository.EventRepository,
	journeys repository.JourneyRepository,
	conversions repository.ConversionRepository,
	behaviors repository.BehaviorRepository,
) AttributionService {
	return &attributionService{
		events:      events,
		journeys:    journeys,
		conversions: conversions,
		behaviors:   behaviors,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
}

// Attribute applies one persisted event to the visitor's journey and, for
// submissions and purchases, to the conversion records.
func (s *attributionService) Attribute(ctx context.Context, event *domain.Event) error {
	if event.VisitorID == "" {
		return fmt.Errorf("attribute %s: %w: missing visitor", event.EventID, common.ErrInvalidInput)
	}

	var errs []error
	if err := s.updateJourney(ctx, event); err != nil {
		errs = append(errs, fmt.Errorf("journey: %w", err))
	}

	switch {
	case event.EventType.IsSubmission():
		if err := s.attributeConversion(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("conversion: %w", err))
		}
	case event.EventType == domain.EventPurchaseMade:
		if err := s.attachPurchase(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("purchase: %w", err))
		}
	}

	if s.behaviors != nil {
		if err := s.storeBehavior(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("behavior: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ListJourneys most recently active journeys of a shop
func (s *attributionService) ListJourneys(ctx context.Context, shop string, limit int) ([]*domain.CustomerJourney, error) {
	return s.journeys.ListByShop(ctx, shop, limit)
}

func (s *attributionService) journeyFor(ctx context.Context, event *domain.Event) (*domain.CustomerJourney, error) {
	journey, err := s.journeys.FindByVisitor(ctx, event.VisitorID, event.ShopDomain)
	if err == nil {
		return journey, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if _, err := s.journeys.CreateIfAbsent(ctx, &domain.CustomerJourney{
		VisitorID:       event.VisitorID,
		ShopDomain:      event.ShopDomain,
		JourneyStart:    event.Timestamp,
		EngagementLevel: domain.EngagementLow,
	}); err != nil {
		return nil, err
	}
	return s.journeys.FindByVisitor(ctx, event.VisitorID, event.ShopDomain)
}

func (s *attributionService) updateJourney(ctx context.Context, event *domain.Event) error {
	journey, err := s.journeyFor(ctx, event)
	if err != nil {
		return err
	}

	ts := event.Timestamp
	updates := map[string]interface{}{
		"total_events": gorm.Expr("total_events + ?", 1),
		"updated_at":   s.now().UTC(),
	}

	sessions := journey.TotalSessions
	if event.SessionID != "" && event.SessionID != journey.LastSessionID {
		updates["total_sessions"] = gorm.Expr("total_sessions + ?", 1)
		updates["last_session_id"] = event.SessionID
		sessions++
	}
	if ts.Before(journey.JourneyStart) {
		updates["journey_start"] = ts
	}

	if devices, changed := domain.MergeSet(journey.DeviceTypes, event.MetadataString("device_type", "deviceType")); changed {
		updates["device_types"] = datatypes.JSONSlice[string](devices)
	}
	if sources, changed := domain.MergeSet(journey.UTMSources, event.MetadataString("utm_source", "utmSource")); changed {
		updates["utm_sources"] = datatypes.JSONSlice[string](sources)
	}

	emailSubmitted := journey.EmailSubmitted != nil
	purchased := journey.FirstPurchase != nil

	switch {
	case event.EventType.IsShown():
		if earlier(ts, journey.FirstPopupShown) {
			updates["first_popup_shown"] = ts
		}
	case event.EventType.IsSubmission():
		emailSubmitted = true
		if earlier(ts, journey.EmailSubmitted) {
			updates["email_submitted"] = ts
		}
	case event.EventType == domain.EventPurchaseMade:
		purchased = true
		if earlier(ts, journey.FirstPurchase) {
			updates["first_purchase"] = ts
		}
		if journey.JourneyEnd == nil || ts.After(*journey.JourneyEnd) {
			updates["journey_end"] = ts
		}
		if event.OrderValue > 0 {
			updates["total_order_value"] = gorm.Expr("total_order_value + ?", event.OrderValue)
		}
	}

	updates["engagement_level"] = domain.DeriveEngagement(journey.TotalEvents+1, sessions, emailSubmitted, purchased)

	return s.journeys.Update(ctx, journey.ID, updates)
}

// earlier reports whether ts should replace the milestone (unset or later)
func earlier(ts time.Time, milestone *time.Time) bool {
	return milestone == nil || ts.Before(*milestone)
}

func (s *attributionService) attributeConversion(ctx context.Context, event *domain.Event) error {
	ts := event.Timestamp
	window := event.AttributionWindow()

	shown, err := s.events.FindLatestShown(ctx, event.VisitorID, event.ShopDomain, ts.Add(-window), ts)
	if err != nil {
		return err
	}
	if shown == nil {
		s.log.Debug().
			Str("event_id", event.EventID).
			Str("shop_domain", event.ShopDomain).
			Msg("no popup impression inside attribution window")
		return nil
	}

	conv := &domain.AttributedConversion{
		ConversionEventID:       event.EventID,
		AttributedEventID:       shown.EventID,
		PopupID:                 shown.PopupID,
		VisitorID:               event.VisitorID,
		SessionID:               event.SessionID,
		ShopDomain:              event.ShopDomain,
		Email:                   event.Email,
		ConvertedAt:             ts,
		AttributionPopupShownAt: shown.Timestamp,
		TimeToConversionSeconds: int64(ts.Sub(shown.Timestamp) / time.Second),
		CrossDevice:             event.CrossDevice,
		Metadata: datatypes.JSONMap{
			"attribution_model":  "last_touch",
			"window_seconds":     int64(window / time.Second),
			"submission_popup":   event.PopupID,
			"impression_session": shown.SessionID,
		},
	}
	created, err := s.conversions.CreateIfAbsent(ctx, conv)
	if err != nil {
		return err
	}
	if created {
		attributionConversions.Inc()
	}
	return nil
}

func (s *attributionService) attachPurchase(ctx context.Context, event *domain.Event) error {
	if event.Email == "" {
		return nil
	}
	ts := event.Timestamp
	from := ts.Add(-event.AttributionWindow())

	submission, err := s.events.FindLatestSubmissionByEmail(ctx, event.ShopDomain, event.Email, from, ts)
	if err != nil || submission == nil {
		return err
	}

	conv, err := s.conversions.FindLatestUnpurchased(ctx, event.ShopDomain, event.Email, from, ts)
	if err != nil || conv == nil {
		return err
	}

	orderID := event.OrderID
	if orderID == "" {
		orderID = event.EventID
	}
	_, err = s.conversions.AttachOrder(ctx, conv.ID, orderID, event.OrderValue, ts, int64(ts.Sub(conv.ConvertedAt)/time.Second))
	return err
}

func (s *attributionService) storeBehavior(ctx context.Context, event *domain.Event) error {
	raw, ok := event.Metadata["behavioral_data"]
	if !ok {
		raw, ok = event.Metadata["behavioralData"]
	}
	data, isMap := raw.(map[string]interface{})
	if !ok || !isMap || event.SessionID == "" {
		return nil
	}

	session := &domain.BehavioralSession{
		SessionID:       event.SessionID,
		VisitorID:       event.VisitorID,
		ShopDomain:      event.ShopDomain,
		TimeOnSiteMs:    int64(number(data, "time_on_site", "timeOnSite")),
		PagesViewed:     int(number(data, "pages_viewed", "pagesViewed")),
		ScrollDepth:     int(number(data, "scroll_depth", "scrollDepth")),
		MouseMovements:  int(number(data, "mouse_movements", "mouseMovements")),
		ClickCount:      int(number(data, "click_count", "clickCount")),
		ExitIntent:      boolean(data, "exit_intent", "exitIntent"),
		EngagementLevel: domain.EngagementLow,
		DeviceType:      event.MetadataString("device_type", "deviceType"),
		SessionStart:    event.Timestamp,
		LastActivity:    event.Timestamp,
	}
	if session.PagesViewed <= 0 {
		session.PagesViewed = 1
	}
	if session.DeviceType == "" {
		session.DeviceType = "unknown"
	}
	if v := number(data, "cart_value", "cartValue"); v > 0 {
		session.CartValue = &v
	}
	if lvl, _ := data["engagement"].(string); lvl != "" {
		session.EngagementLevel = domain.EngagementLevel(lvl)
	}
	return s.behaviors.Upsert(ctx, session)
}

func number(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v
		}
	}
	return 0
}

func boolean(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return false
}
