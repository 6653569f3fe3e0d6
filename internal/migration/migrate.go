package migration

import (
	"fmt"

	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
)

// Models every table owned by the pipeline, in creation order
func Models() []interface{} {
	return []interface{}{
		&domain.Event{},
		&domain.CustomerJourney{},
		&domain.AttributedConversion{},
		&domain.AggregationBucket{},
		&domain.CacheEntry{},
		&domain.BehavioralSession{},
	}
}

// Run executes AutoMigrate for all pipeline tables.
// The unique indexes declared on the models back every upsert.
func Run(db *gorm.DB) error {
	// AutoMigrate - 테이블 없으면 생성, 컬럼/인덱스 추가
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// PurgeCache empties the durable cache table
func PurgeCache(db *gorm.DB) (int64, error) {
	result := db.Where("1 = 1").Delete(&domain.CacheEntry{})
	return result.RowsAffected, result.Error
}
