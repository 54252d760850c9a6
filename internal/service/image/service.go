package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
	imagerepo "github.com/aliskhannn/thumbnailer/internal/repository/image"
	"github.com/aliskhannn/thumbnailer/internal/storage"
)

// maxFilenameLen is the width of the original_filename column.
const maxFilenameLen = 255

// repository defines the record store operations the service needs.
type repository interface {
	CreateImage(ctx context.Context, img model.Image) (model.Image, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
}

// fileStorage defines the interface for storing blobs (e.g., local filesystem or MinIO).
type fileStorage interface {
	Save(ctx context.Context, key string, src io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// publisher defines the interface for enqueueing jobs into a message broker.
type publisher interface {
	Publish(ctx context.Context, job model.Job) error
}

// Options holds the upload and retrieval rules.
type Options struct {
	AllowedContentTypes []string
	MaxUploadBytes      int64
	Resolutions         []int
}

// Service provides business logic for image operations.
// It records uploads, stores originals, publishes processing jobs and serves
// the finished renditions.
type Service struct {
	repo        repository
	fileStorage fileStorage
	publisher   publisher
	opts        Options
}

// NewService creates a new Service with the given dependencies.
func NewService(r repository, fs fileStorage, p publisher, opts Options) *Service {
	types := make([]string, 0, len(opts.AllowedContentTypes))
	for _, t := range opts.AllowedContentTypes {
		types = append(types, normalizeContentType(t))
	}
	opts.AllowedContentTypes = types

	return &Service{repo: r, fileStorage: fs, publisher: p, opts: opts}
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	ContentType string
	Size        int64 // declared size in bytes, negative when unknown
	Filename    string
	Body        io.Reader
}

// Upload validates the file, creates its NEW record, stores the original and
// publishes the processing job, in that order.
//
// If storing or publishing fails the record stays NEW; nothing re-drives it.
func (s *Service) Upload(ctx context.Context, in UploadInput) (model.Image, error) {
	contentType := normalizeContentType(in.ContentType)
	if !slices.Contains(s.opts.AllowedContentTypes, contentType) {
		return model.Image{}, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, in.ContentType)
	}

	if in.Size < 0 {
		return model.Image{}, ErrUnknownSize
	}
	if in.Size > s.opts.MaxUploadBytes {
		return model.Image{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, in.Size, s.opts.MaxUploadBytes)
	}

	img, err := s.repo.CreateImage(ctx, model.NewImage(sanitizeFilename(in.Filename), contentType))
	if err != nil {
		return model.Image{}, dependency("record store", err)
	}

	log := zlog.Logger.With().Str("image_id", img.ID.String()).Logger()

	body := io.LimitReader(in.Body, in.Size)
	if err := s.fileStorage.Save(ctx, model.OriginalKey(img.ID), body, in.Size, contentType); err != nil {
		log.Error().Err(err).Msg("original not stored, record left NEW")
		return model.Image{}, dependency("blob store", err)
	}

	if err := s.publisher.Publish(ctx, model.Job{ImageID: img.ID}); err != nil {
		log.Error().Err(err).Msg("job not published, record left NEW")
		return model.Image{}, dependency("job queue", err)
	}

	log.Info().Str("content_type", contentType).Int64("size", in.Size).Msg("image uploaded")

	return img, nil
}

// GetInfo returns the record for id.
func (s *Service) GetInfo(ctx context.Context, id uuid.UUID) (model.Image, error) {
	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		if errors.Is(err, imagerepo.ErrImageNotFound) {
			return model.Image{}, ErrNotFound
		}

		return model.Image{}, dependency("record store", err)
	}

	return img, nil
}

// GetRendition opens the rendition of id at resolution. The caller closes the
// returned reader.
func (s *Service) GetRendition(ctx context.Context, id uuid.UUID, resolution int) (io.ReadCloser, error) {
	if !slices.Contains(s.opts.Resolutions, resolution) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}

	img, err := s.GetInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	switch img.Status {
	case model.StatusNew, model.StatusProcessing:
		return nil, ErrProcessingIncomplete
	case model.StatusError:
		return nil, ErrProcessingFailed
	}

	rc, err := s.fileStorage.Open(ctx, model.RenditionKey(id, resolution))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			zlog.Logger.Warn().Str("image_id", id.String()).Int("resolution", resolution).Msg("DONE image is missing a rendition")
			return nil, ErrNotFound
		}

		return nil, dependency("blob store", err)
	}

	return rc, nil
}

// normalizeContentType lowercases t and drops any parameters.
func normalizeContentType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}

	return strings.ToLower(strings.TrimSpace(t))
}

// sanitizeFilename keeps the base name of a client-supplied path, replaces
// invalid UTF-8 with U+FFFD and truncates it to the column width without
// splitting a rune.
func sanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, string(utf8.RuneError))
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		name = ""
	}

	if len(name) <= maxFilenameLen {
		return name
	}

	// Back up to the start of the rune straddling the cut.
	cut := maxFilenameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}

	return name[:cut]
}
