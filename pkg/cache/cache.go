package cache

import (
	"context"
	"fmt"
	"time"
)

// Category TTL 분류
type Category string

const (
	CategoryRealtime   Category = "realtime"
	CategoryDashboard  Category = "dashboard"
	CategoryAnalytics  Category = "analytics"
	CategoryAggregated Category = "aggregated"
	CategoryHistorical Category = "historical"
	CategoryStatic     Category = "static"
)

// TTL 상수 정의
const (
	TTLRealtime   = 15 * time.Second   // 실시간 카운터
	TTLDashboard  = 5 * time.Minute    // 대시보드 요약
	TTLAnalytics  = 15 * time.Minute   // 기간별 분석
	TTLAggregated = time.Hour          // 집계 결과
	TTLHistorical = 24 * time.Hour     // 과거 데이터 (변경 빈도 낮음)
	TTLStatic     = 7 * 24 * time.Hour // 설정성 데이터
)

var categoryTTL = map[Category]time.Duration{
	CategoryRealtime:   TTLRealtime,
	CategoryDashboard:  TTLDashboard,
	CategoryAnalytics:  TTLAnalytics,
	CategoryAggregated: TTLAggregated,
	CategoryHistorical: TTLHistorical,
	CategoryStatic:     TTLStatic,
}

// TTL returns the lifetime for the category. Unknown categories use the dashboard TTL.
func (c Category) TTL() time.Duration {
	if ttl, ok := categoryTTL[c]; ok {
		return ttl
	}
	return TTLDashboard
}

// Normalize maps unknown categories to dashboard.
func (c Category) Normalize() Category {
	if _, ok := categoryTTL[c]; ok {
		return c
	}
	return CategoryDashboard
}

// 캐시 키 접두사
const (
	PrefixDashboard = "dashboard:"
	PrefixAnalytics = "analytics:"
	PrefixPopupPerf = "popup:performance:"
	PrefixRealtime  = "realtime:"
)

// DashboardKey dashboard:metrics:<shop>
func DashboardKey(shop string) string {
	return PrefixDashboard + "metrics:" + shop
}

// ROIKey dashboard:roi:<shop>
func ROIKey(shop string) string {
	return PrefixDashboard + "roi:" + shop
}

// AnalyticsKey analytics:<shop>:<timeframe>
func AnalyticsKey(shop, timeframe string) string {
	return fmt.Sprintf("%s%s:%s", PrefixAnalytics, shop, timeframe)
}

// PopupPerformanceKey popup:performance:<shop>
func PopupPerformanceKey(shop string) string {
	return PrefixPopupPerf + shop
}

// RealtimeKey realtime:<shop>
func RealtimeKey(shop string) string {
	return PrefixRealtime + shop
}

// Record durable tier entry
type Record struct {
	Key        string
	Value      []byte
	ExpiresAt  time.Time
	Category   Category
	ShopDomain string
	CreatedAt  time.Time
}

// Expired reports whether the record is at or past its expiry.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Backend durable cache tier (database table or Redis).
// Get returns (nil, nil) when the key is absent.
type Backend interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
	DeleteMatching(ctx context.Context, pattern Pattern, shop string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteAll(ctx context.Context) error
}
