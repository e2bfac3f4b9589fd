package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/llm"
)

// ErrBudgetExceeded is returned when a run has spent its cost cap.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// ErrEmptyRound is returned when an iterative round produces no agent specs.
var ErrEmptyRound = errors.New("round produced no agent specs")

// EmptyChainError is returned by Sequential when given no steps.
type EmptyChainError struct {
	Framework string
}

// Error implements the error interface.
func (e *EmptyChainError) Error() string {
	if e.Framework == "" {
		return "sequential chain has no steps"
	}
	return fmt.Sprintf("sequential chain of %s has no steps", e.Framework)
}

// statusOf classifies an attempt error for the audit ledger.
func statusOf(err error) audit.Status {
	if err == nil {
		return audit.StatusOK
	}
	var be *llm.BackendError
	var ee *structured.ExtractionError
	var ve *structured.ValidationError
	switch {
	case errors.As(err, &be):
		return audit.StatusBackendError
	case errors.As(err, &ee):
		return audit.StatusExtractionError
	case errors.As(err, &ve):
		return audit.StatusValidationError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return audit.StatusCancelled
	default:
		return audit.StatusError
	}
}

// errorCode returns a short label for metrics.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var be *llm.BackendError
	if errors.As(err, &be) {
		return string(be.Code)
	}
	return string(statusOf(err))
}
