package domain

import "time"

// Timeframe analytics lookback
type Timeframe string

const (
	Timeframe1D  Timeframe = "1d"
	Timeframe7D  Timeframe = "7d"
	Timeframe30D Timeframe = "30d"
	Timeframe90D Timeframe = "90d"
)

// Days number of days covered, 0 when the timeframe is unknown
func (tf Timeframe) Days() int {
	switch tf {
	case Timeframe1D:
		return 1
	case Timeframe7D:
		return 7
	case Timeframe30D:
		return 30
	case Timeframe90D:
		return 90
	default:
		return 0
	}
}

// Valid reports whether tf is one of 1d, 7d, 30d, 90d.
func (tf Timeframe) Valid() bool {
	return tf.Days() > 0
}

// EventTotals counter set shared by every metrics payload
type EventTotals struct {
	Views          int64   `json:"views"`
	Conversions    int64   `json:"conversions"`
	Closes         int64   `json:"closes"`
	UniqueVisitors int64   `json:"unique_visitors"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Add accumulates a bucket into the totals. ConversionRate is recomputed.
func (t *EventTotals) Add(b *AggregationBucket) {
	t.Views += b.TotalViews
	t.Conversions += b.TotalConversions
	t.Closes += b.TotalCloses
	t.UniqueVisitors += b.UniqueVisitors
	t.ConversionRate = ConversionRate(t.Views, t.Conversions)
}

// DashboardMetrics 대시보드 요약
type DashboardMetrics struct {
	ShopDomain   string      `json:"shop_domain"`
	Totals       EventTotals `json:"totals"`
	Today        EventTotals `json:"today"`
	ActivePopups int         `json:"active_popups"`
	Revenue      float64     `json:"attributed_revenue"`
	Conversions  int64       `json:"attributed_conversions"`
	PeriodStart  time.Time   `json:"period_start"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// DailyPoint one day of the analytics trend
type DailyPoint struct {
	Date string `json:"date"`
	EventTotals
}

// AnalyticsSummary totals and daily trend for a timeframe
type AnalyticsSummary struct {
	ShopDomain  string       `json:"shop_domain"`
	Timeframe   Timeframe    `json:"timeframe"`
	Totals      EventTotals  `json:"totals"`
	Trend       []DailyPoint `json:"trend"`
	PeriodStart time.Time    `json:"period_start"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// PopupPerformance per popup totals
type PopupPerformance struct {
	PopupID string `json:"popup_id"`
	EventTotals
}

// PopupPerformanceReport per popup ranking ordered by conversion rate
type PopupPerformanceReport struct {
	ShopDomain  string             `json:"shop_domain"`
	Popups      []PopupPerformance `json:"popups"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ROIMetrics attributed revenue summary
type ROIMetrics struct {
	ShopDomain              string    `json:"shop_domain"`
	AttributedRevenue       float64   `json:"attributed_revenue"`
	Conversions             int64     `json:"conversions"`
	ConversionsWithOrders   int64     `json:"conversions_with_orders"`
	AverageOrderValue       float64   `json:"average_order_value"`
	AvgTimeToConversionSecs float64   `json:"avg_time_to_conversion_seconds"`
	PeriodStart             time.Time `json:"period_start"`
	GeneratedAt             time.Time `json:"generated_at"`
}

// RealtimeMetrics raw counts over the last hour
type RealtimeMetrics struct {
	ShopDomain     string           `json:"shop_domain"`
	Events         int64            `json:"events"`
	ByType         map[string]int64 `json:"by_type"`
	UniqueVisitors int64            `json:"unique_visitors"`
	WindowStart    time.Time        `json:"window_start"`
	GeneratedAt    time.Time        `json:"generated_at"`
}
