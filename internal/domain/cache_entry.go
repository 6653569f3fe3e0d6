package domain

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry durable cache row (second tier behind the in-memory map)
type CacheEntry struct {
	ID         uint64         `gorm:"primaryKey" json:"-"`
	CacheKey   string         `gorm:"column:cache_key;size:255;not null;uniqueIndex" json:"cache_key"`
	Value      datatypes.JSON `gorm:"column:cache_value;type:json;not null" json:"cache_value"`
	ExpiresAt  time.Time      `gorm:"column:expires_at;not null;index" json:"expires_at"`
	ShopDomain string         `gorm:"column:shop_domain;size:255;index" json:"shop_domain,omitempty"`
	Category   string         `gorm:"column:category;size:32" json:"category"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (CacheEntry) TableName() string {
	return "cache_storage"
}
