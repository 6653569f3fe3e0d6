package repository

import (
	"context"

	"github.com/smartpop/popup-analytics/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BehaviorRepository per-session behavioral snapshots
type BehaviorRepository interface {
	Upsert(ctx context.Context, session *domain.BehavioralSession) error
	FindBySession(ctx context.Context, sessionID string) (*domain.BehavioralSession, error)
}

type behaviorRepository struct {
	db *gorm.DB
}

// NewBehaviorRepository creates a new BehaviorRepository
func NewBehaviorRepository(db *gorm.DB) BehaviorRepository {
	return &behaviorRepository{db: db}
}

// Upsert on session_id; session_start keeps its first value
func (r *behaviorRepository) Upsert(ctx context.Context, session *domain.BehavioralSession) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"time_on_site_ms",
				"pages_viewed",
				"scroll_depth",
				"mouse_movements",
				"click_count",
				"cart_value",
				"exit_intent",
				"engagement_level",
				"device_type",
				"last_activity",
			}),
		}).
		Create(session).Error
}

// FindBySession returns gorm.ErrRecordNotFound when absent
func (r *behaviorRepository) FindBySession(ctx context.Context, sessionID string) (*domain.BehavioralSession, error) {
	var session domain.BehavioralSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}
