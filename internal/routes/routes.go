package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smartpop/popup-analytics/internal/config"
	"github.com/smartpop/popup-analytics/internal/handler"
	"github.com/smartpop/popup-analytics/internal/middleware"
)

// Setup configures all API routes
func Setup(
	router *gin.Engine,
	ingestHandler *handler.IngestHandler,
	metricsHandler *handler.MetricsHandler,
	adminHandler *handler.AdminHandler,
	cfg *config.Config,
	redisClient *redis.Client,
	audit *middleware.AuditLogger,
) {
	api := router.Group("/api/v1", middleware.RequestTimeout(cfg.Server.RequestTimeout))

	// 이벤트 수집 (위젯/백엔드)
	events := api.Group("/events", middleware.RateLimit(redisClient, middleware.DefaultRateLimitConfig()))
	events.POST("/ingest", ingestHandler.Ingest)
	events.POST("/attribution", ingestHandler.TrackAttribution)

	// 상점별 대시보드 지표
	shops := api.Group("/shops/:shop", middleware.RateLimitPerShop(redisClient, middleware.DefaultRateLimitConfig()))
	shops.GET("/dashboard", metricsHandler.GetDashboard)
	shops.GET("/analytics", metricsHandler.GetAnalytics)
	shops.GET("/popups/performance", metricsHandler.GetPopupPerformance)
	shops.GET("/roi", metricsHandler.GetROI)
	shops.GET("/realtime", metricsHandler.GetRealtime)
	shops.GET("/journeys", metricsHandler.ListJourneys)

	// 운영자 전용
	admin := api.Group("/admin", middleware.Audit(audit), middleware.RequireAdminToken(cfg.Server.AdminToken))
	admin.POST("/rollup/hour", adminHandler.RollupHour)
	admin.POST("/rollup/day", adminHandler.RollupDay)
	admin.POST("/rollup/run", adminHandler.RunPeriodic)
	admin.GET("/cache/stats", adminHandler.CacheStats)
	admin.DELETE("/cache", adminHandler.InvalidateCache)
	admin.POST("/cache/cleanup", adminHandler.CleanupCache)
	admin.DELETE("/cache/all", adminHandler.ClearCache)
	admin.GET("/tasks", adminHandler.ListTasks)
	admin.GET("/audit", adminHandler.ListAudit)
}
