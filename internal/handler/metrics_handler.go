package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/middleware"
	"github.com/smartpop/popup-analytics/internal/service"
	"github.com/smartpop/popup-analytics/pkg/ginutil"
)

// MetricsHandler handles shop dashboard endpoints
type MetricsHandler struct {
	metrics     service.MetricsService
	attribution service.AttributionService
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(metrics service.MetricsService, attribution service.AttributionService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, attribution: attribution}
}

// GetDashboard godoc
// @Summary      대시보드 지표
// @Description  30-day totals, today's totals, attributed revenue
// @Tags         metrics
// @Produce      json
// @Param        shop  path  string  true  "shop domain"
// @Success      200  {object}  common.APIResponse{data=domain.DashboardMetrics}
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/dashboard [get]
func (h *MetricsHandler) GetDashboard(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	data, err := h.metrics.GetDashboardMetrics(c.Request.Context(), shop)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop})
}

// GetAnalytics godoc
// @Summary      기간별 분석
// @Description  Totals and daily trend for 1d, 7d, 30d or 90d
// @Tags         metrics
// @Produce      json
// @Param        shop       path   string  true   "shop domain"
// @Param        timeframe  query  string  false  "1d|7d|30d|90d"  default(7d)
// @Success      200  {object}  common.APIResponse{data=domain.AnalyticsSummary}
// @Failure      400  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/analytics [get]
func (h *MetricsHandler) GetAnalytics(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	timeframe := domain.Timeframe(c.DefaultQuery("timeframe", string(domain.Timeframe7D)))

	data, err := h.metrics.GetAnalytics(c.Request.Context(), shop, timeframe)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop, Timeframe: string(timeframe)})
}

// GetPopupPerformance godoc
// @Summary      팝업별 성과
// @Tags         metrics
// @Produce      json
// @Param        shop  path  string  true  "shop domain"
// @Success      200  {object}  common.APIResponse{data=domain.PopupPerformanceReport}
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/popups/performance [get]
func (h *MetricsHandler) GetPopupPerformance(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	data, err := h.metrics.GetPopupPerformance(c.Request.Context(), shop)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop})
}

// GetROI godoc
// @Summary      ROI 지표
// @Tags         metrics
// @Produce      json
// @Param        shop  path  string  true  "shop domain"
// @Success      200  {object}  common.APIResponse{data=domain.ROIMetrics}
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/roi [get]
func (h *MetricsHandler) GetROI(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	data, err := h.metrics.GetROI(c.Request.Context(), shop)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop})
}

// GetRealtime godoc
// @Summary      실시간 지표
// @Description  Raw event counts over the last hour
// @Tags         metrics
// @Produce      json
// @Param        shop  path  string  true  "shop domain"
// @Success      200  {object}  common.APIResponse{data=domain.RealtimeMetrics}
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/realtime [get]
func (h *MetricsHandler) GetRealtime(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	data, err := h.metrics.GetRealtime(c.Request.Context(), shop)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop})
}

// ListJourneys godoc
// @Summary      고객 여정 목록
// @Tags         metrics
// @Produce      json
// @Param        shop   path   string  true   "shop domain"
// @Param        limit  query  int     false  "max rows (기본값: 50)"  default(50)
// @Success      200  {object}  common.APIResponse{data=[]domain.CustomerJourney}
// @Failure      500  {object}  common.APIResponse
// @Router       /shops/{shop}/journeys [get]
func (h *MetricsHandler) ListJourneys(c *gin.Context) {
	shop := middleware.ShopDomain(c)
	limit := ginutil.QueryInt(c, "limit", 50)

	data, err := h.attribution.ListJourneys(c.Request.Context(), shop, limit)
	if err != nil {
		respondMetricsError(c, err)
		return
	}
	common.SuccessResponse(c, data, &common.Meta{ShopDomain: shop})
}

func respondMetricsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidTimeframe):
		common.ErrorResponse(c, http.StatusBadRequest, "timeframe must be one of 1d, 7d, 30d, 90d", err)
	case errors.Is(err, context.DeadlineExceeded):
		common.ErrorResponse(c, http.StatusGatewayTimeout, "Metrics query timed out", err)
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load metrics", err)
	}
}
