// ABOUTME: Typed pipeline errors mapped to exactly one terminal event per run.
// ABOUTME: Carries diagnosis payloads (confidence, repair history) for the error event.

package pipeline

import (
	"fmt"

	"github.com/2389/askdb-gateway/internal/event"
)

// ClassificationError means the question was judged out of domain. Not
// retried.
type ClassificationError struct {
	Confidence float64
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("question is not a data query (confidence %.2f)", e.Confidence)
}

// GenerationError means the model output could not be parsed into a usable
// query. Not retried at the pipeline level.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return "could not produce a query: " + e.Reason
}

// RepairExhaustedError means every execution attempt failed within the retry
// budget. Carries the full attempt history for diagnosis.
type RepairExhaustedError struct {
	Attempts []event.RepairAttempt
}

func (e *RepairExhaustedError) Error() string {
	last := ""
	if n := len(e.Attempts); n > 0 {
		last = ": " + e.Attempts[n-1].ErrorText
	}
	return fmt.Sprintf("query execution failed after %d attempts%s", len(e.Attempts), last)
}

// CacheRefreshError means the metadata source was unreachable and no cached
// value existed to fall back on.
type CacheRefreshError struct {
	Err error
}

func (e *CacheRefreshError) Error() string {
	return "metadata unavailable: " + e.Err.Error()
}

func (e *CacheRefreshError) Unwrap() error {
	return e.Err
}

// errorInfo converts a pipeline error into the terminal event payload.
func errorInfo(err error) *event.ErrorInfo {
	switch e := err.(type) {
	case *ClassificationError:
		return &event.ErrorInfo{
			Type:       "not_business_query",
			Message:    e.Error(),
			Confidence: e.Confidence,
		}
	case *GenerationError:
		return &event.ErrorInfo{
			Type:    "sql_generation_failed",
			Message: e.Error(),
		}
	case *RepairExhaustedError:
		return &event.ErrorInfo{
			Type:    "repair_exhausted",
			Message: e.Error(),
			Repairs: e.Attempts,
		}
	case *CacheRefreshError:
		return &event.ErrorInfo{
			Type:    "metadata_unavailable",
			Message: e.Error(),
		}
	default:
		return &event.ErrorInfo{
			Type:    "processing_error",
			Message: err.Error(),
		}
	}
}
