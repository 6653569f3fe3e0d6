package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// EventType 방문자 상호작용 종류
type EventType string

const (
	EventPopupShown     EventType = "popup_shown"
	EventEmailSubmitted EventType = "email_submitted"
	EventPurchaseMade   EventType = "purchase_made"
	EventCartAbandoned  EventType = "cart_abandoned"

	// Low-level widget events. view/conversion are treated as popup_shown/email_submitted
	// by attribution and counted directly by the rollups.
	EventView       EventType = "view"
	EventConversion EventType = "conversion"
	EventClose      EventType = "close"
)

// DefaultAttributionWindow lookback used when an event does not carry its own window
const DefaultAttributionWindow = 7 * 24 * time.Hour

// MaxAttributionWindow upper bound accepted from clients
const MaxAttributionWindow = 90 * 24 * time.Hour

var validEventTypes = map[EventType]struct{}{
	EventPopupShown:     {},
	EventEmailSubmitted: {},
	EventPurchaseMade:   {},
	EventCartAbandoned:  {},
	EventView:           {},
	EventConversion:     {},
	EventClose:          {},
}

// Valid reports whether t belongs to the closed event type enum.
func (t EventType) Valid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// IsShown popup impression (popup_shown or view)
func (t EventType) IsShown() bool {
	return t == EventPopupShown || t == EventView
}

// IsSubmission popup conversion (email_submitted or conversion)
func (t EventType) IsSubmission() bool {
	return t == EventEmailSubmitted || t == EventConversion
}

// ShownEventTypes event types eligible for last-touch credit
func ShownEventTypes() []EventType {
	return []EventType{EventPopupShown, EventView}
}

// SubmissionEventTypes event types that complete a popup conversion
func SubmissionEventTypes() []EventType {
	return []EventType{EventEmailSubmitted, EventConversion}
}

// Event 이벤트 로그 엔티티 (immutable)
type Event struct {
	ID         uint64    `gorm:"primaryKey" json:"-"`
	EventID    string    `gorm:"column:event_id;size:64;uniqueIndex;not null" json:"id"`
	SessionID  string    `gorm:"column:session_id;size:128;index" json:"session_id"`
	VisitorID  string    `gorm:"column:visitor_id;size:128;not null;index:idx_popup_events_visitor,priority:2" json:"visitor_id"`
	VisitorIP  string    `gorm:"column:visitor_ip;size:64" json:"visitor_ip,omitempty"`
	ShopDomain string    `gorm:"column:shop_domain;size:255;not null;index:idx_popup_events_visitor,priority:1;index:idx_popup_events_shop_time,priority:1" json:"shop_domain"`
	EventType  EventType `gorm:"column:event_type;size:32;not null;index" json:"event_type"`
	Timestamp  time.Time `gorm:"column:event_timestamp;not null;index:idx_popup_events_shop_time,priority:2" json:"timestamp"`

	PopupID    string  `gorm:"column:popup_id;size:64;index" json:"popup_id,omitempty"`
	Email      string  `gorm:"column:email;size:320;index" json:"email,omitempty"`
	OrderID    string  `gorm:"column:order_id;size:128" json:"order_id,omitempty"`
	OrderValue float64 `gorm:"column:order_value;type:decimal(12,2);default:0" json:"order_value,omitempty"`

	AttributionWindowSeconds int64 `gorm:"column:attribution_window_seconds;not null;default:604800" json:"attribution_window_seconds"`
	CrossDevice              bool  `gorm:"column:cross_device;default:false" json:"cross_device"`

	UserAgent string            `gorm:"column:user_agent;size:1024" json:"user_agent,omitempty"`
	PageURL   string            `gorm:"column:page_url;size:2048" json:"page_url,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:json" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// TableName GORM 테이블명
func (Event) TableName() string {
	return "popup_events"
}

// AttributionWindow lookback window for this event
func (e *Event) AttributionWindow() time.Duration {
	if e.AttributionWindowSeconds <= 0 {
		return DefaultAttributionWindow
	}
	return time.Duration(e.AttributionWindowSeconds) * time.Second
}

// VisitorKey identity used for unique visitor counting
func (e *Event) VisitorKey() string {
	if e.VisitorID != "" {
		return e.VisitorID
	}
	return e.VisitorIP
}

// MetadataString returns the first non-empty string value among keys.
func (e *Event) MetadataString(keys ...string) string {
	for _, k := range keys {
		if v, ok := e.Metadata[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Timestamp accepts RFC3339 strings (batch ingest) and epoch milliseconds (widget).
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			ms, numErr := strconv.ParseInt(s, 10, 64)
			if numErr != nil {
				return fmt.Errorf("invalid timestamp %q: %w", s, err)
			}
			parsed = time.UnixMilli(ms)
		}
		t.Time = parsed.UTC()
		return nil
	}

	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// EventInput 수집 요청의 단일 이벤트
type EventInput struct {
	ID         string    `json:"id" validate:"omitempty,max=64"`
	SessionID  string    `json:"session_id" validate:"omitempty,max=128"`
	VisitorID  string    `json:"visitor_id" validate:"omitempty,max=128"`
	VisitorIP  string    `json:"visitor_ip" validate:"omitempty,max=64"`
	ShopDomain string    `json:"shop_domain" validate:"required,max=255"`
	EventType  EventType `json:"event_type" validate:"required,eventtype"`
	Timestamp  Timestamp `json:"timestamp"`

	PopupID    string  `json:"popup_id" validate:"omitempty,max=64"`
	Email      string  `json:"email" validate:"omitempty,max=320,email"`
	OrderID    string  `json:"order_id" validate:"omitempty,max=128"`
	OrderValue float64 `json:"order_value" validate:"gte=0"`

	// AttributionWindow lookback in milliseconds; 0 means the default (7 days).
	AttributionWindow int64 `json:"attribution_window" validate:"gte=0"`
	CrossDevice       bool  `json:"cross_device"`

	UserAgent string                 `json:"user_agent" validate:"omitempty,max=1024"`
	PageURL   string                 `json:"page_url" validate:"omitempty,max=2048"`
	Metadata  map[string]interface{} `json:"metadata"`
}
