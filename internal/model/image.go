package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the processing state of an uploaded image.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

// RenditionExt is the extension of every derived rendition.
const RenditionExt = ".jpg"

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s ends a processing attempt.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransitionTo reports whether a record in status s may move to next.
//
// Any record may (re-)enter PROCESSING when a job is delivered. DONE and ERROR
// are reachable only from PROCESSING, or from each other when two deliveries of
// the same job race and the last writer wins. Nothing goes back to NEW.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() {
		return false
	}

	switch next {
	case StatusProcessing:
		return true
	case StatusDone, StatusError:
		return s != StatusNew
	default:
		return false
	}
}

// Image is the metadata record tracking one uploaded original.
type Image struct {
	ID               uuid.UUID `json:"id"`
	Status           Status    `json:"status"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"content_type"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewImage returns a fresh NEW record with a newly generated id.
func NewImage(filename, contentType string) Image {
	return Image{
		ID:               uuid.New(),
		Status:           StatusNew,
		OriginalFilename: filename,
		ContentType:      contentType,
	}
}

// OriginalKey is the blob key of the uploaded original.
func OriginalKey(id uuid.UUID) string {
	return id.String()
}

// RenditionKey is the blob key of the rendition of id at resolution.
func RenditionKey(id uuid.UUID, resolution int) string {
	return fmt.Sprintf("%s_%d%s", id, resolution, RenditionExt)
}
