package domain

import "fmt"

// IngestRequest POST /events/ingest body
type IngestRequest struct {
	Events             []EventInput `json:"events" binding:"required"`
	BatchSize          int          `json:"batchSize" binding:"omitempty,gte=0,lte=1000"`
	ProcessImmediately bool         `json:"processImmediately"`
}

// IngestResult ingest outcome counts
type IngestResult struct {
	Processed        int      `json:"processed"`
	Failed           int      `json:"failed"`
	Duplicates       int      `json:"duplicates"`
	EventIDs         []string `json:"eventIds,omitempty"`
	MetricsUpdated   bool     `json:"metricsUpdated"`
	CacheInvalidated bool     `json:"cacheInvalidated"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// TrackResult POST /events/attribution response
type TrackResult struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
}

// ValidationError rejects a whole batch; Index points at the first offending event.
type ValidationError struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("event %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}
