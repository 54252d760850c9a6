package model

import "github.com/google/uuid"

// Job is the queue payload that triggers rendition generation for one record.
type Job struct {
	ImageID uuid.UUID `json:"image_id"`
}
