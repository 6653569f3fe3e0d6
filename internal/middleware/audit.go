package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/pkg/logger"
	"gorm.io/gorm"
)

// AuditLog operator action record (rollups, cache maintenance)
type AuditLog struct {
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Action     string `gorm:"column:action;size:128;index" json:"action"` // "POST /api/v1/admin/rollup/day"
	ShopDomain string `gorm:"column:shop_domain;size:255;index" json:"shop_domain,omitempty"`
	Details    string `gorm:"column:details;size:1024" json:"details,omitempty"`
	Status     int    `gorm:"column:status" json:"status"`
	ClientIP   string `gorm:"column:client_ip;size:64" json:"client_ip"`
	UserAgent  string `gorm:"column:user_agent;size:512" json:"user_agent"`
	RequestID  string `gorm:"column:request_id;size:64" json:"request_id"`

	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
}

func (AuditLog) TableName() string {
	return "admin_audit_logs"
}

// AuditLogger handles writing audit log entries
type AuditLogger struct {
	db    *gorm.DB
	async bool
}

// NewAuditLogger creates a new AuditLogger. A nil db turns every call into a no-op.
func NewAuditLogger(db *gorm.DB) *AuditLogger {
	if db != nil {
		if err := db.AutoMigrate(&AuditLog{}); err != nil {
			logger.GetLogger().Warn().Err(err).Msg("audit log migration failed")
		}
	}
	return &AuditLogger{db: db, async: true}
}

// Log writes an audit entry to the database
func (a *AuditLogger) Log(ctx context.Context, entry *AuditLog) {
	if a == nil || a.db == nil {
		return
	}

	write := func() {
		if err := a.db.Create(entry).Error; err != nil {
			logger.GetLogger().Error().Err(err).
				Str("action", entry.Action).
				Str("request_id", entry.RequestID).
				Msg("audit log write failed")
		}
	}
	// 요청을 막지 않도록 비동기 기록
	if a.async {
		go write()
		return
	}
	write()
}

// List retrieves paginated audit logs, newest first, with optional filters
func (a *AuditLogger) List(ctx context.Context, shop, action string, page, perPage int) ([]AuditLog, int64, error) {
	var logs []AuditLog
	var total int64

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := a.db.WithContext(ctx).Model(&AuditLog{})
	if shop != "" {
		query = query.Where("shop_domain = ?", shop)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&logs).Error

	return logs, total, err
}

// Audit records every request that passes through the group, after the handler ran
func Audit(a *AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		details := c.Request.URL.RawQuery
		if len(details) > 1024 {
			details = details[:1024]
		}
		a.Log(c.Request.Context(), &AuditLog{
			Action:     c.Request.Method + " " + c.FullPath(),
			ShopDomain: ShopDomain(c),
			Details:    details,
			Status:     c.Writer.Status(),
			ClientIP:   c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			RequestID:  GetRequestID(c),
		})
	}
}
