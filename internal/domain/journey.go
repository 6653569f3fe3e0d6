package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EngagementLevel 방문자 참여도
type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

// CustomerJourney one row per (visitor_id, shop_domain)
type CustomerJourney struct {
	ID         uint64 `gorm:"primaryKey" json:"id"`
	VisitorID  string `gorm:"column:visitor_id;size:128;not null;uniqueIndex:idx_customer_journeys_visitor_shop,priority:1" json:"visitor_id"`
	ShopDomain string `gorm:"column:shop_domain;size:255;not null;uniqueIndex:idx_customer_journeys_visitor_shop,priority:2;index" json:"shop_domain"`

	JourneyStart  time.Time  `gorm:"column:journey_start;not null;index" json:"journey_start"`
	JourneyEnd    *time.Time `gorm:"column:journey_end" json:"journey_end,omitempty"`
	TotalSessions int        `gorm:"column:total_sessions;not null;default:0" json:"total_sessions"`
	TotalEvents   int        `gorm:"column:total_events;not null;default:0" json:"total_events"`
	LastSessionID string     `gorm:"column:last_session_id;size:128" json:"-"`

	// 마일스톤
	FirstPopupShown *time.Time `gorm:"column:first_popup_shown" json:"first_popup_shown,omitempty"`
	EmailSubmitted  *time.Time `gorm:"column:email_submitted" json:"email_submitted,omitempty"`
	FirstPurchase   *time.Time `gorm:"column:first_purchase" json:"first_purchase,omitempty"`

	TotalOrderValue float64                     `gorm:"column:total_order_value;type:decimal(12,2);not null;default:0" json:"total_order_value"`
	DeviceTypes     datatypes.JSONSlice[string] `gorm:"column:device_types;type:json" json:"device_types"`
	UTMSources      datatypes.JSONSlice[string] `gorm:"column:utm_sources;type:json" json:"utm_sources"`
	EngagementLevel EngagementLevel             `gorm:"column:engagement_level;size:16;default:'low'" json:"engagement_level"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (CustomerJourney) TableName() string {
	return "customer_journeys"
}

// DeriveEngagement computes the engagement level from journey milestones and counters.
func DeriveEngagement(totalEvents, totalSessions int, emailSubmitted, purchased bool) EngagementLevel {
	switch {
	case purchased:
		return EngagementHigh
	case emailSubmitted && totalEvents >= 5:
		return EngagementHigh
	case emailSubmitted, totalEvents >= 3, totalSessions > 1:
		return EngagementMedium
	default:
		return EngagementLow
	}
}

// MergeSet appends v to set when it is non-empty and not yet present.
// The second return value reports whether the set changed.
func MergeSet(set []string, v string) ([]string, bool) {
	if v == "" {
		return set, false
	}
	for _, s := range set {
		if s == v {
			return set, false
		}
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, v), true
}

// BehavioralSession 세션 단위 행동 스냅샷 (metadata.behavioral_data)
type BehavioralSession struct {
	ID              uint64          `gorm:"primaryKey" json:"id"`
	SessionID       string          `gorm:"column:session_id;size:128;not null;uniqueIndex" json:"session_id"`
	VisitorID       string          `gorm:"column:visitor_id;size:128;not null;index" json:"visitor_id"`
	ShopDomain      string          `gorm:"column:shop_domain;size:255;not null;index" json:"shop_domain"`
	TimeOnSiteMs    int64           `gorm:"column:time_on_site_ms;default:0" json:"time_on_site_ms"`
	PagesViewed     int             `gorm:"column:pages_viewed;default:1" json:"pages_viewed"`
	ScrollDepth     int             `gorm:"column:scroll_depth;default:0" json:"scroll_depth"`
	MouseMovements  int             `gorm:"column:mouse_movements;default:0" json:"mouse_movements"`
	ClickCount      int             `gorm:"column:click_count;default:0" json:"click_count"`
	CartValue       *float64        `gorm:"column:cart_value;type:decimal(12,2)" json:"cart_value,omitempty"`
	ExitIntent      bool            `gorm:"column:exit_intent;default:false" json:"exit_intent"`
	EngagementLevel EngagementLevel `gorm:"column:engagement_level;size:16;default:'low'" json:"engagement_level"`
	DeviceType      string          `gorm:"column:device_type;size:32" json:"device_type"`
	SessionStart    time.Time       `gorm:"column:session_start" json:"session_start"`
	LastActivity    time.Time       `gorm:"column:last_activity" json:"last_activity"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (BehavioralSession) TableName() string {
	return "behavioral_sessions"
}
