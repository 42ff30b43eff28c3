package domain

import "errors"

// Sentinel errors shared across the pipeline. Stage wrappers add context with
// fmt.Errorf("...: %w", err) so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrNoQuery           = errors.New("no query parameter present")
	ErrOverBudget        = errors.New("token budget exceeded")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNotInitialized    = errors.New("store not initialized")
	ErrModerationBlocked = errors.New("content blocked by moderation")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
)
