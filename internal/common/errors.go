package common

import "errors"

// Business logic errors
var (
	// General errors
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")

	// Ingest errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyBatch    = errors.New("events batch is empty")
	ErrBatchTooLarge = errors.New("events batch exceeds maximum size")

	// Metrics errors
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)
