package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidPrompt     = errors.New("prompt is required")
	ErrBackendSubmission = errors.New("backend submission failed")
	ErrBackendFailure    = errors.New("generation failed")
	ErrStoreUnavailable  = errors.New("record store unavailable")
)
