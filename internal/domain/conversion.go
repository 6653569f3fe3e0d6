package domain

import (
	"time"

	"gorm.io/datatypes"
)

// AttributedConversion a conversion credited to the last popup shown inside the window
type AttributedConversion struct {
	ID                uint64 `gorm:"primaryKey" json:"id"`
	ConversionEventID string `gorm:"column:conversion_event_id;size:64;not null;uniqueIndex" json:"conversion_event_id"`
	AttributedEventID string `gorm:"column:attributed_event_id;size:64;not null" json:"attributed_event_id"`

	PopupID    string `gorm:"column:popup_id;size:64;not null;index" json:"popup_id"`
	VisitorID  string `gorm:"column:visitor_id;size:128;not null;index" json:"visitor_id"`
	SessionID  string `gorm:"column:session_id;size:128" json:"session_id"`
	ShopDomain string `gorm:"column:shop_domain;size:255;not null;index:idx_popup_conversions_shop_email,priority:1" json:"shop_domain"`
	Email      string `gorm:"column:email;size:320;index:idx_popup_conversions_shop_email,priority:2" json:"email,omitempty"`

	ConvertedAt             time.Time `gorm:"column:converted_at;not null;index" json:"converted_at"`
	AttributionPopupShownAt time.Time `gorm:"column:attribution_popup_shown_at;not null" json:"attribution_popup_shown_at"`
	TimeToConversionSeconds int64     `gorm:"column:time_to_conversion_seconds;not null" json:"time_to_conversion_seconds"`
	CrossDevice             bool      `gorm:"column:cross_device;default:false" json:"cross_device"`

	// 구매 연결 (purchase_made 이벤트로 나중에 채워짐)
	OrderID               *string    `gorm:"column:order_id;size:128" json:"order_id,omitempty"`
	RevenueAmount         *float64   `gorm:"column:revenue_amount;type:decimal(12,2)" json:"revenue_amount,omitempty"`
	PurchasedAt           *time.Time `gorm:"column:purchased_at" json:"purchased_at,omitempty"`
	TimeToPurchaseSeconds *int64     `gorm:"column:time_to_purchase_seconds" json:"time_to_purchase_seconds,omitempty"`

	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:json" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (AttributedConversion) TableName() string {
	return "popup_conversions"
}

// TimeToConversion elapsed time between the credited impression and the conversion
func (c *AttributedConversion) TimeToConversion() time.Duration {
	return time.Duration(c.TimeToConversionSeconds) * time.Second
}

// ConversionSummary aggregate over a shop's conversions
type ConversionSummary struct {
	Conversions             int64   `json:"conversions"`
	ConversionsWithOrders   int64   `json:"conversions_with_orders"`
	Revenue                 float64 `json:"revenue"`
	AvgTimeToConversionSecs float64 `json:"avg_time_to_conversion_seconds"`
}
