package image

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error caused by a bad request.
var ErrValidation = errors.New("validation failed")

var (
	ErrUnsupportedMediaType = fmt.Errorf("%w: unsupported media type", ErrValidation)
	ErrPayloadTooLarge      = fmt.Errorf("%w: payload too large", ErrValidation)
	ErrUnknownSize          = fmt.Errorf("%w: file size is unknown", ErrValidation)
	ErrInvalidResolution    = fmt.Errorf("%w: resolution is not supported", ErrValidation)
)

var (
	ErrNotFound             = errors.New("image not found")
	ErrProcessingIncomplete = errors.New("thumbnail generation not ready yet")
	ErrProcessingFailed     = errors.New("thumbnail generation failed")
)

// DependencyError reports that a backing service (record store, blob store or
// job queue) failed while serving a request.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func dependency(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}
