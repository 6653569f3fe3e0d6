package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/common"
	"github.com/smartpop/popup-analytics/internal/domain"
	"github.com/smartpop/popup-analytics/internal/service"
)

// IngestHandler handles event ingestion endpoints
type IngestHandler struct {
	service service.IngestService
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(service service.IngestService) *IngestHandler {
	return &IngestHandler{service: service}
}

// Ingest godoc
// @Summary      이벤트 배치 수집
// @Description  Validates, persists and attributes up to 1000 popup events. A validation failure rejects the whole batch.
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        request  body      domain.IngestRequest  true  "event batch"
// @Success      200  {object}  common.APIResponse{data=domain.IngestResult}
// @Failure      400  {object}  common.APIResponse{error=common.ErrorInfo{details=domain.ValidationError}}
// @Failure      413  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Router       /events/ingest [post]
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req domain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), &req)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	common.SuccessResponse(c, result, nil)
}

// TrackAttribution godoc
// @Summary      위젯 이벤트 기록
// @Description  Records a single widget event and runs attribution on it. Redelivery of a known id is a no-op.
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        request  body      domain.EventInput  true  "event"
// @Success      200  {object}  common.APIResponse{data=domain.TrackResult}
// @Failure      400  {object}  common.APIResponse
// @Failure      500  {object}  common.APIResponse
// @Router       /events/attribution [post]
func (h *IngestHandler) TrackAttribution(c *gin.Context) {
	var in domain.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.service.Track(c.Request.Context(), &in)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	common.SuccessResponse(c, result, nil)
}

func respondIngestError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var batchErr *service.BatchError

	switch {
	case errors.As(err, &verr):
		common.ErrorResponseWithDetails(c, http.StatusBadRequest, "Event validation failed", verr)
	case errors.Is(err, common.ErrEmptyBatch):
		common.ErrorResponse(c, http.StatusBadRequest, "No events in request", err)
	case errors.Is(err, common.ErrBatchTooLarge):
		common.ErrorResponse(c, http.StatusRequestEntityTooLarge, "Too many events in one request", err)
	case errors.Is(err, context.DeadlineExceeded):
		common.ErrorResponse(c, http.StatusGatewayTimeout, "Ingest timed out", err)
	case errors.As(err, &batchErr):
		common.ErrorResponseWithDetails(c, http.StatusInternalServerError, "Failed to persist events", gin.H{
			"processed": batchErr.Processed,
			"failed":    batchErr.Failed,
		})
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to ingest events", err)
	}
}
