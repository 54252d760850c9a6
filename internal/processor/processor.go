package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aliskhannn/thumbnailer/internal/model"
)

// DefaultJPEGQuality is the encoder quality used when none is configured.
const DefaultJPEGQuality = 85

// fileStorage defines the interface for blob storage.
// It allows saving and loading blobs from a backend (e.g., local FS, MinIO).
type fileStorage interface {
	Save(ctx context.Context, key string, src io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Processor derives the configured renditions of an original image.
//
// All Derive calls share one CPU pool, so concurrent jobs never run more than
// the configured number of resizes at once.
type Processor struct {
	fileStorage fileStorage
	resolutions []int
	quality     int
	pool        *semaphore.Weighted
}

// New creates a new Processor rendering resolutions with at most workers
// concurrent resizes.
func New(fs fileStorage, resolutions []int, quality, workers int) *Processor {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if workers < 1 {
		workers = 1
	}

	return &Processor{
		fileStorage: fs,
		resolutions: append([]int(nil), resolutions...),
		quality:     quality,
		pool:        semaphore.NewWeighted(int64(workers)),
	}
}

// Fit scales img to fit within a dim×dim box, preserving its aspect ratio.
// Images already inside the box are returned unscaled.
func Fit(img image.Image, dim int) image.Image {
	return imaging.Fit(img, dim, dim, imaging.Lanczos)
}

// Render fits img within dim×dim and encodes it as JPEG.
func Render(w io.Writer, img image.Image, dim, quality int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid resolution %d", dim)
	}

	if err := imaging.Encode(w, Fit(img, dim), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode rendition: %w", err)
	}

	return nil
}

// Derive loads the original of id, decodes it once and renders every
// configured resolution. Every resolution is attempted even when another one
// fails; the failures are joined in the returned error.
func (p *Processor) Derive(ctx context.Context, id uuid.UUID) error {
	src, err := p.load(ctx, id)
	if err != nil {
		return err
	}

	// One slot per resolution keeps the joined errors in configured order.
	var wg sync.WaitGroup
	errs := make([]error, len(p.resolutions))

	for i, res := range p.resolutions {
		wg.Go(func() {
			if err := p.renderOne(ctx, id, src, res); err != nil {
				errs[i] = fmt.Errorf("resolution %d: %w", res, err)
			}
		})
	}

	wg.Wait()

	return errors.Join(errs...)
}

func (p *Processor) load(ctx context.Context, id uuid.UUID) (image.Image, error) {
	rc, err := p.fileStorage.Open(ctx, model.OriginalKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load original image: %w", err)
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return img, nil
}

func (p *Processor) renderOne(ctx context.Context, id uuid.UUID, src image.Image, res int) (err error) {
	if err := p.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.pool.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while rendering: %v", r)
		}
	}()

	start := time.Now()

	buf := new(bytes.Buffer)
	if err := Render(buf, src, res, p.quality); err != nil {
		return err
	}

	if err := p.fileStorage.Save(ctx, model.RenditionKey(id, res), buf, int64(buf.Len()), "image/jpeg"); err != nil {
		return fmt.Errorf("failed to save rendition: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Int("resolution", res).
		Int("bytes", buf.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("rendition saved")

	return nil
}
