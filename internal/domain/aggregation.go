package domain

import "time"

// Granularity 집계 버킷 단위
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// BucketStart truncates t (in UTC) to the start of its bucket.
func (g Granularity) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Span length of one bucket
func (g Granularity) Span() time.Duration {
	if g == GranularityDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// AggregationBucket per (shop, popup, granularity, bucket_start) rollup row
type AggregationBucket struct {
	ID          uint64      `gorm:"primaryKey" json:"-"`
	ShopDomain  string      `gorm:"column:shop_domain;size:255;not null;uniqueIndex:idx_popup_event_buckets_key,priority:1" json:"shop_domain"`
	PopupID     string      `gorm:"column:popup_id;size:64;not null;uniqueIndex:idx_popup_event_buckets_key,priority:2" json:"popup_id"`
	Granularity Granularity `gorm:"column:granularity;size:8;not null;uniqueIndex:idx_popup_event_buckets_key,priority:3" json:"granularity"`
	BucketStart time.Time   `gorm:"column:bucket_start;not null;uniqueIndex:idx_popup_event_buckets_key,priority:4" json:"bucket_start"`

	TotalViews       int64   `gorm:"column:total_views;not null;default:0" json:"total_views"`
	TotalConversions int64   `gorm:"column:total_conversions;not null;default:0" json:"total_conversions"`
	TotalCloses      int64   `gorm:"column:total_closes;not null;default:0" json:"total_closes"`
	UniqueVisitors   int64   `gorm:"column:unique_visitors;not null;default:0" json:"unique_visitors"`
	ConversionRate   float64 `gorm:"column:conversion_rate;not null;default:0" json:"conversion_rate"`

	CreatedAt time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (AggregationBucket) TableName() string {
	return "popup_event_buckets"
}

// ConversionRate conversions / views * 100, 0 when there are no views
func ConversionRate(views, conversions int64) float64 {
	if views == 0 {
		return 0
	}
	return float64(conversions) / float64(views) * 100
}

// ShopHour one shop's hourly bucket touched by newly ingested events
type ShopHour struct {
	Shop string
	Hour time.Time
}
