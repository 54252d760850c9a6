// Package worker drives one image record through processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
	imagerepo "github.com/aliskhannn/thumbnailer/internal/repository/image"
)

// terminalWriteTimeout bounds the final status write, which runs detached
// from the job deadline.
const terminalWriteTimeout = 10 * time.Second

type repository interface {
	Transition(ctx context.Context, id uuid.UUID, next model.Status) (model.Image, error)
}

type deriver interface {
	Derive(ctx context.Context, id uuid.UUID) error
}

// Worker moves records through PROCESSING to DONE or ERROR.
type Worker struct {
	repo       repository
	deriver    deriver
	jobTimeout time.Duration
}

// New creates a Worker. Each derivation is given at most jobTimeout.
func New(repo repository, d deriver, jobTimeout time.Duration) *Worker {
	return &Worker{repo: repo, deriver: d, jobTimeout: jobTimeout}
}

// Process handles one delivery of the job for id. A nil return means the
// outcome is persisted (or there is nothing to do) and the delivery may be
// acknowledged. Any error means the delivery must be redelivered.
func (w *Worker) Process(ctx context.Context, id uuid.UUID) error {
	log := zlog.Logger.With().Str("image_id", id.String()).Logger()
	ctx = log.WithContext(ctx)

	if _, err := w.repo.Transition(ctx, id, model.StatusProcessing); err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			log.Warn().Msg("job references unknown image, dropping")
			return nil
		}

		return fmt.Errorf("mark processing: %w", err)
	}

	start := time.Now()
	derr := w.derive(ctx, id)

	// On shutdown the outcome is unknown; leave the record PROCESSING and
	// let the redelivered job finish it.
	if ctx.Err() != nil {
		log.Warn().Err(derr).Msg("processing interrupted by shutdown")
		return fmt.Errorf("processing interrupted: %w", ctx.Err())
	}

	next := model.StatusDone
	if derr != nil {
		next = model.StatusError
		log.Error().Err(derr).Dur("elapsed", time.Since(start)).Msg("failed to derive renditions")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if _, err := w.repo.Transition(writeCtx, id, next); err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			log.Warn().Msg("image disappeared during processing")
			return nil
		}

		return fmt.Errorf("mark %s: %w", next, err)
	}

	log.Info().Str("status", string(next)).Dur("elapsed", time.Since(start)).Msg("image processed")

	return nil
}

func (w *Worker) derive(ctx context.Context, id uuid.UUID) (err error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during derivation: %v", r)
		}
	}()

	return w.deriver.Derive(ctx, id)
}
