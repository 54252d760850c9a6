// Package storage holds what the blob storage drivers share.
package storage

import "errors"

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")
