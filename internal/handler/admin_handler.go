package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/middleware"
	"github.com/smartpop/popup-analytics/internal/scheduler"
	"github.com/smartpop/popup-analytics/internal/service"
	"github.com/smartpop/popup-analytics/pkg/cache"
	"github.com/smartpop/popup-analytics/pkg/ginutil"
)

// AdminHandler operator endpoints: manual rollups and cache maintenance
type AdminHandler struct {
	aggregation service.AggregationService
	cache       *cache.Store
	tasks       TaskLister
	audit       *middleware.AuditLogger
	now         func() time.Time
}

// WithAuditLog enables GET /admin/audit
func (h *AdminHandler) WithAuditLog(a *middleware.AuditLogger) *AdminHandler {
	h.audit = a
	return h
}

// TaskLister exposes background task state
type TaskLister interface {
	GetTasks() []scheduler.TaskInfo
}

// NewAdminHandler creates a new AdminHandler. tasks may be nil.
func NewAdminHandler(aggregation service.AggregationService, store *cache.Store, tasks TaskLister) *AdminHandler {
	return &AdminHandler{aggregation: aggregation, cache: store, tasks: tasks, now: time.Now}
}

// RollupHour godoc
// @Summary      시간 단위 재집계
// @Description  Recomputes the hourly buckets of one shop-hour from the event log, then refreshes the shop's caches
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body  domain.RollupRequest  true  "shop and hour"
// @Success      200  {object}  common.APIResponse{data=domain.RollupResult}
// @Failure      400  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/rollup/hour [post]
func (h *AdminHandler) RollupHour(c *gin.Context) {
	h.rollup(c, domain.GranularityHour)
}

// RollupDay godoc
// @Summary      일 단위 재집계
// @Description  Recomputes the daily buckets of one shop-day from the event log, then refreshes the shop's caches
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body  domain.RollupRequest  true  "shop and date"
// @Success      200  {object}  common.APIResponse{data=domain.RollupResult}
// @Failure      400  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/rollup/day [post]
func (h *AdminHandler) RollupDay(c *gin.Context) {
	h.rollup(c, domain.GranularityDay)
}

func (h *AdminHandler) rollup(c *gin.Context, granularity domain.Granularity) {
	var req domain.RollupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	at, err := ginutil.ParseTime(req.At)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid at", err)
		return
	}
	if at.IsZero() {
		at = h.now()
	}

	shop := strings.ToLower(strings.TrimSpace(req.ShopDomain))
	ctx := c.Request.Context()

	var n int
	if granularity == domain.GranularityDay {
		n, err = h.aggregation.RollupDay(ctx, shop, at)
	} else {
		n, err = h.aggregation.RollupHourFromStore(ctx, shop, at)
	}
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Rollup failed", err)
		return
	}
	h.aggregation.Finalize(ctx, shop)

	common.SuccessResponse(c, domain.RollupResult{
		ShopDomain:  shop,
		Granularity: granularity,
		BucketStart: granularity.BucketStart(at).Format(time.RFC3339),
		Buckets:     n,
	}, &common.Meta{ShopDomain: shop})
}

// RunPeriodic godoc
// @Summary      주기 집계 즉시 실행
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/rollup/run [post]
func (h *AdminHandler) RunPeriodic(c *gin.Context) {
	if err := h.aggregation.RunPeriodic(c.Request.Context()); err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Periodic rollup finished with errors", err)
		return
	}
	common.SuccessResponse(c, gin.H{"ok": true}, nil)
}

// CacheStats godoc
// @Summary      캐시 통계
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.APIResponse{data=cache.Stats}
// @Security     BearerAuth
// @Router       /admin/cache/stats [get]
func (h *AdminHandler) CacheStats(c *gin.Context) {
	common.SuccessResponse(c, h.cache.Stats(), nil)
}

// InvalidateCache godoc
// @Summary      캐시 무효화
// @Description  Removes keys matching pattern. "prefix:<p>" and "re:<expr>" select prefix and regexp matching; anything else is a substring. shop limits removal to one shop.
// @Tags         admin
// @Produce      json
// @Param        pattern  query  string  true   "key pattern"
// @Param        shop     query  string  false  "shop domain"
// @Success      200  {object}  common.APIResponse{data=domain.CacheInvalidation}
// @Failure      400  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/cache [delete]
func (h *AdminHandler) InvalidateCache(c *gin.Context) {
	raw := c.Query("pattern")
	if raw == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "pattern is required", common.ErrInvalidInput)
		return
	}
	pattern, err := cache.ParsePattern(raw)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid pattern", err)
		return
	}

	shop := strings.ToLower(strings.TrimSpace(c.Query("shop")))
	removed := h.cache.Invalidate(c.Request.Context(), pattern, shop)
	common.SuccessResponse(c, domain.CacheInvalidation{Pattern: raw, Shop: shop, Removed: removed}, nil)
}

// CleanupCache godoc
// @Summary      만료 캐시 정리
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/cache/cleanup [post]
func (h *AdminHandler) CleanupCache(c *gin.Context) {
	removed := h.cache.Cleanup(c.Request.Context())
	common.SuccessResponse(c, gin.H{"removed": removed}, nil)
}

// ClearCache godoc
// @Summary      캐시 전체 삭제
// @Description  Empties both cache tiers and resets the statistics
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/cache/all [delete]
func (h *AdminHandler) ClearCache(c *gin.Context) {
	h.cache.Clear(c.Request.Context())
	common.SuccessResponse(c, gin.H{"cleared": true}, nil)
}

// ListTasks godoc
// @Summary      백그라운드 작업 상태
// @Tags         admin
// @Produce      json
// @Success      200  {object}  common.APIResponse{data=[]scheduler.TaskInfo}
// @Security     BearerAuth
// @Router       /admin/tasks [get]
func (h *AdminHandler) ListTasks(c *gin.Context) {
	if h.tasks == nil {
		common.SuccessResponse(c, []scheduler.TaskInfo{}, nil)
		return
	}
	common.SuccessResponse(c, h.tasks.GetTasks(), nil)
}

// ListAudit godoc
// @Summary      운영자 작업 이력
// @Tags         admin
// @Produce      json
// @Param        shop      query  string  false  "shop domain"
// @Param        action    query  string  false  "method and route, e.g. DELETE /api/v1/admin/cache"
// @Param        page      query  int     false  "page"      default(1)
// @Param        per_page  query  int     false  "page size" default(50)
// @Success      200  {object}  common.APIResponse{data=[]middleware.AuditLog}
// @Failure      500  {object}  common.APIResponse
// @Security     BearerAuth
// @Router       /admin/audit [get]
func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		common.SuccessResponse(c, []middleware.AuditLog{}, nil)
		return
	}
	page := ginutil.QueryInt(c, "page", 1)
	perPage := ginutil.QueryInt(c, "per_page", 50)

	logs, total, err := h.audit.List(c.Request.Context(), strings.ToLower(c.Query("shop")), c.Query("action"), page, perPage)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load audit log", err)
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	common.SuccessResponse(c, logs, nil)
}
