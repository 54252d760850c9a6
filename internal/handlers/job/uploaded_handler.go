package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
)

// processor defines the interface for processing one uploaded image.
type processor interface {
	Process(ctx context.Context, id uuid.UUID) error
}

// UploadedHandler handles queue messages for newly uploaded images.
// It is broker-agnostic: consumers hand it the raw message body.
type UploadedHandler struct {
	processor processor
}

// NewUploadedHandler creates a new handler with the given processor.
func NewUploadedHandler(p processor) *UploadedHandler {
	return &UploadedHandler{processor: p}
}

// Handle decodes the job payload and processes the referenced image.
// Payloads that can never be processed are logged and reported as handled so
// the broker drops them instead of redelivering forever.
func (h *UploadedHandler) Handle(ctx context.Context, payload []byte) error {
	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		zlog.Logger.Error().Err(err).Str("payload", truncate(payload)).Msg("dropping undecodable job")
		return nil
	}

	if job.ImageID == uuid.Nil {
		zlog.Logger.Error().Str("payload", truncate(payload)).Msg("dropping job without image id")
		return nil
	}

	if err := h.processor.Process(ctx, job.ImageID); err != nil {
		return fmt.Errorf("process job %s: %w", job.ImageID, err)
	}

	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}

	return string(b)
}
