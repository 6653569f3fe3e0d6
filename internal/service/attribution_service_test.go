package service

import (
	"context"
	"testing"
	"time"

	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttribute_LastTouchWins(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.record(t, event("shown-a", domain.EventPopupShown, "popup-a", base))
	p.record(t, event("shown-b", domain.EventView, "popup-b", base.Add(10*time.Minute)))
	p.record(t, event("submit", domain.EventEmailSubmitted, "popup-a", base.Add(20*time.Minute)))

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "popup-b", conv.PopupID)
	assert.Equal(t, "shown-b", conv.AttributedEventID)
	assert.Equal(t, int64(600), conv.TimeToConversionSeconds)
	assert.Equal(t, "last_touch", conv.Metadata["attribution_model"])
}

func TestAttribute_WindowBoundaryIsInclusive(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	submitAt := base

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", submitAt.Add(-domain.DefaultAttributionWindow)))
	p.record(t, event("submit", domain.EventEmailSubmitted, "popup-1", submitAt))

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, int64(7*24*3600), conv.TimeToConversionSeconds)
}

func TestAttribute_OutsideWindowNotCredited(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	submitAt := base

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", submitAt.Add(-domain.DefaultAttributionWindow-time.Second)))
	p.record(t, event("submit", domain.EventEmailSubmitted, "popup-1", submitAt))

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	assert.Nil(t, conv)

	// the journey is still tracked
	j := p.journey(t, "visitor-1")
	assert.Equal(t, 2, j.TotalEvents)
	require.NotNil(t, j.EmailSubmitted)
}

func TestAttribute_CustomWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", base.Add(-2*time.Hour)))
	submit := event("submit", domain.EventEmailSubmitted, "popup-1", base)
	submit.AttributionWindowSeconds = 3600
	p.record(t, submit)

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestAttribute_ConversionAfterOneMinute(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", base))
	submit := event("submit", domain.EventEmailSubmitted, "popup-1", base.Add(60*time.Second))
	submit.Email = "a@example.com"
	p.record(t, submit)

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, int64(60), conv.TimeToConversionSeconds)
	assert.Equal(t, 60*time.Second, conv.TimeToConversion())

	j := p.journey(t, "visitor-1")
	assert.Equal(t, 2, j.TotalEvents)
	assert.Equal(t, 1, j.TotalSessions)
	require.NotNil(t, j.FirstPopupShown)
	assert.True(t, j.FirstPopupShown.Equal(base))
	require.NotNil(t, j.EmailSubmitted)
	assert.True(t, j.EmailSubmitted.Equal(base.Add(time.Minute)))
	assert.Equal(t, domain.EngagementMedium, j.EngagementLevel)
}

func TestAttribute_RedeliveryDoesNotDuplicateConversion(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", base))
	submit := event("submit", domain.EventEmailSubmitted, "popup-1", base.Add(time.Minute))
	p.record(t, submit)
	require.NoError(t, p.attribution.Attribute(ctx, submit))

	var count int64
	require.NoError(t, p.db.Model(&domain.AttributedConversion{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAttribute_OrderValueNeverDecreases(t *testing.T) {
	p := newPipeline(t)

	first := event("buy-1", domain.EventPurchaseMade, "", base.Add(time.Hour))
	first.OrderValue = 50
	p.record(t, first)
	assert.InDelta(t, 50.0, p.journey(t, "visitor-1").TotalOrderValue, 0.001)

	// delivered late, happened earlier
	second := event("buy-2", domain.EventPurchaseMade, "", base)
	second.OrderValue = 25.5
	p.record(t, second)

	j := p.journey(t, "visitor-1")
	assert.InDelta(t, 75.5, j.TotalOrderValue, 0.001)
	require.NotNil(t, j.FirstPurchase)
	assert.True(t, j.FirstPurchase.Equal(base))
	require.NotNil(t, j.JourneyEnd)
	assert.True(t, j.JourneyEnd.Equal(base.Add(time.Hour)))
	assert.True(t, j.JourneyStart.Equal(base))
	assert.Equal(t, domain.EngagementHigh, j.EngagementLevel)
}

func TestAttribute_PurchaseEnrichesConversion(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.record(t, event("shown", domain.EventPopupShown, "popup-1", base))
	submit := event("submit", domain.EventEmailSubmitted, "popup-1", base.Add(time.Minute))
	submit.Email = "buyer@example.com"
	p.record(t, submit)

	purchase := event("buy", domain.EventPurchaseMade, "", base.Add(31*time.Minute))
	purchase.Email = "buyer@example.com"
	purchase.OrderID = "order-77"
	purchase.OrderValue = 120
	p.record(t, purchase)

	conv, err := p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.NotNil(t, conv.OrderID)
	assert.Equal(t, "order-77", *conv.OrderID)
	require.NotNil(t, conv.RevenueAmount)
	assert.InDelta(t, 120.0, *conv.RevenueAmount, 0.001)
	require.NotNil(t, conv.TimeToPurchaseSeconds)
	assert.Equal(t, int64(1800), *conv.TimeToPurchaseSeconds)

	// a second purchase does not overwrite the enriched conversion
	again := event("buy-again", domain.EventPurchaseMade, "", base.Add(40*time.Minute))
	again.Email = "buyer@example.com"
	again.OrderID = "order-78"
	again.OrderValue = 10
	p.record(t, again)

	conv, err = p.conversions.FindByConversionEventID(ctx, "submit")
	require.NoError(t, err)
	assert.Equal(t, "order-77", *conv.OrderID)
}

func TestAttribute_PurchaseWithoutSubmissionLeavesConversionsAlone(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	purchase := event("buy", domain.EventPurchaseMade, "", base)
	purchase.Email = "stranger@example.com"
	purchase.OrderValue = 10
	p.record(t, purchase)

	summary, err := p.conversions.Summary(ctx, testShop, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Conversions)
}

func TestAttribute_SessionsAndMetadataSets(t *testing.T) {
	p := newPipeline(t)

	e1 := event("e1", domain.EventPopupShown, "popup-1", base)
	e1.Metadata = map[string]interface{}{"deviceType": "mobile", "utm_source": "google"}
	p.record(t, e1)

	e2 := event("e2", domain.EventClose, "popup-1", base.Add(time.Minute))
	e2.SessionID = "sess-2"
	e2.Metadata = map[string]interface{}{"device_type": "desktop", "utmSource": "google"}
	p.record(t, e2)

	j := p.journey(t, "visitor-1")
	assert.Equal(t, 2, j.TotalSessions)
	assert.ElementsMatch(t, []string{"mobile", "desktop"}, []string(j.DeviceTypes))
	assert.Equal(t, []string{"google"}, []string(j.UTMSources))
	assert.Equal(t, domain.EngagementMedium, j.EngagementLevel)
}

func TestAttribute_MissingVisitor(t *testing.T) {
	p := newPipeline(t)
	e := event("e1", domain.EventPopupShown, "popup-1", base)
	e.VisitorID = ""
	assert.Error(t, p.attribution.Attribute(context.Background(), e))
}

func TestAttribute_BehavioralSnapshot(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	e := event("e1", domain.EventPopupShown, "popup-1", base)
	e.Metadata = map[string]interface{}{
		"behavioralData": map[string]interface{}{
			"timeOnSite":  float64(42000),
			"scrollDepth": float64(80),
			"clickCount":  float64(3),
			"cartValue":   float64(59.9),
			"exitIntent":  true,
			"engagement":  "high",
		},
	}
	p.record(t, e)

	session, err := p.behaviors.FindBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int64(42000), session.TimeOnSiteMs)
	assert.Equal(t, 1, session.PagesViewed)
	assert.Equal(t, 80, session.ScrollDepth)
	assert.True(t, session.ExitIntent)
	assert.Equal(t, "unknown", session.DeviceType)
	assert.Equal(t, domain.EngagementHigh, session.EngagementLevel)
	require.NotNil(t, session.CartValue)
	assert.InDelta(t, 59.9, *session.CartValue, 0.001)
}

func TestListJourneys(t *testing.T) {
	p := newPipeline(t)

	p.record(t, event("e1", domain.EventPopupShown, "popup-1", base))
	other := event("e2", domain.EventPopupShown, "popup-1", base)
	other.VisitorID = "visitor-2"
	p.record(t, other)

	journeys, err := p.attribution.ListJourneys(context.Background(), testShop, 10)
	require.NoError(t, err)
	assert.Len(t, journeys, 2)
}
