package service

import "fmt"

// BatchError durable store failure during ingest. Processed/Failed carry the partial counts.
type BatchError struct {
	Processed int
	Failed    int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("ingest: %d events failed (%d processed): %v", e.Failed, e.Processed, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
