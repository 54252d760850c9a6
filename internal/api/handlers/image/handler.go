package image

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/api/respond"
	"github.com/aliskhannn/thumbnailer/internal/model"
	imagesvc "github.com/aliskhannn/thumbnailer/internal/service/image"
)

const (
	// formField is the multipart field carrying the image.
	formField = "image"

	// multipartOverhead is the allowance for boundaries and part headers on
	// top of the file itself.
	multipartOverhead = 64 << 10

	// formMemory is how much of a multipart form is buffered in memory;
	// the rest spills to temporary files.
	formMemory = 1 << 20
)

// service defines the interface for image-related operations.
type service interface {
	Upload(ctx context.Context, in imagesvc.UploadInput) (model.Image, error)
	GetInfo(ctx context.Context, id uuid.UUID) (model.Image, error)
	GetRendition(ctx context.Context, id uuid.UUID, resolution int) (io.ReadCloser, error)
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service        service
	maxUploadBytes int64
}

// NewHandler creates a new Handler with the given service. Request bodies
// larger than maxUploadBytes plus multipart framing are cut off.
func NewHandler(s service, maxUploadBytes int64) *Handler {
	return &Handler{service: s, maxUploadBytes: maxUploadBytes}
}

// Upload handles the HTTP request for uploading an image.
// It reads the multipart form, hands the file to the service and responds
// with the created record.
func (h *Handler) Upload(c *ginext.Context) {
	limit := h.maxUploadBytes + multipartOverhead

	if c.Request.ContentLength > limit {
		respond.Fail(c, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	if err := c.Request.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}

		zlog.Logger.Warn().Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, "malformed multipart form")
		return
	}
	defer c.Request.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := c.Request.FormFile(formField)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("upload without image field")
		respond.Fail(c, http.StatusBadRequest, "image field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		mt, err := mimetype.DetectReader(file)
		if err != nil {
			respond.Fail(c, http.StatusBadRequest, "failed to read the file")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			respond.Fail(c, http.StatusInternalServerError, "failed to read the file")
			return
		}
		contentType = mt.String()
	}

	img, err := h.service.Upload(c.Request.Context(), imagesvc.UploadInput{
		ContentType: contentType,
		Size:        header.Size,
		Filename:    header.Filename,
		Body:        file,
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond.Created(c, img)
}

// Info returns the metadata record of an image.
func (h *Handler) Info(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	img, err := h.service.GetInfo(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	respond.OK(c, img)
}

// Rendition streams the JPEG rendition of an image at the requested resolution.
func (h *Handler) Rendition(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	resolution, err := strconv.Atoi(c.Param("resolution"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, "invalid resolution")
		return
	}

	rc, err := h.service.GetRendition(c.Request.Context(), id, resolution)
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()

	respond.JPEG(c, rc)
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}

	return id, true
}

// fail maps service errors to HTTP responses.
func fail(c *ginext.Context, err error) {
	var depErr *imagesvc.DependencyError

	switch {
	case errors.Is(err, imagesvc.ErrUnsupportedMediaType):
		respond.Fail(c, http.StatusUnsupportedMediaType, "unsupported file type")
	case errors.Is(err, imagesvc.ErrPayloadTooLarge):
		respond.Fail(c, http.StatusRequestEntityTooLarge, "file is too large")
	case errors.Is(err, imagesvc.ErrValidation):
		respond.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, imagesvc.ErrNotFound):
		respond.Fail(c, http.StatusNotFound, "image not found")
	case errors.Is(err, imagesvc.ErrProcessingIncomplete):
		respond.Fail(c, http.StatusTooEarly, "thumbnail generation not ready yet")
	case errors.Is(err, imagesvc.ErrProcessingFailed):
		respond.Fail(c, http.StatusFailedDependency, "thumbnail generation failed, please upload the image again")
	case errors.As(err, &depErr):
		zlog.Logger.Error().Err(err).Str("dependency", depErr.Op).Msg("dependency failure")
		respond.Fail(c, http.StatusServiceUnavailable, depErr.Op+" unavailable")
	default:
		zlog.Logger.Error().Err(err).Msg("unexpected error")
		respond.Fail(c, http.StatusInternalServerError, "internal error")
	}
}
