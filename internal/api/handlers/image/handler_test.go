package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/fogleman/gg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumbnailer/internal/model"
	imagesvc "github.com/aliskhannn/thumbnailer/internal/service/image"
)

type fakeService struct {
	uploaded  *imagesvc.UploadInput
	body      []byte
	uploadErr error
	info      model.Image
	infoErr   error
	rendition string
	rendErr   error
}

func (f *fakeService) Upload(_ context.Context, in imagesvc.UploadInput) (model.Image, error) {
	if f.uploadErr != nil {
		return model.Image{}, f.uploadErr
	}
	f.uploaded = &in
	f.body, _ = io.ReadAll(in.Body)
	return model.NewImage(in.Filename, in.ContentType), nil
}

func (f *fakeService) GetInfo(context.Context, uuid.UUID) (model.Image, error) {
	return f.info, f.infoErr
}

func (f *fakeService) GetRendition(context.Context, uuid.UUID, int) (io.ReadCloser, error) {
	if f.rendErr != nil {
		return nil, f.rendErr
	}
	return io.NopCloser(strings.NewReader(f.rendition)), nil
}

func newEngine(svc service, maxBytes int64) *ginext.Engine {
	gin.SetMode(gin.TestMode)

	h := NewHandler(svc, maxBytes)
	r := ginext.New()
	r.POST("/api/images", h.Upload)
	r.GET("/api/images/:id", h.Info)
	r.GET("/api/images/:id/:resolution", h.Rendition)

	return r
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}

	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	return &buf, w.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	dc := gg.NewContext(8, 8)
	dc.SetRGB(1, 0, 0)
	dc.Clear()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadCreated(t *testing.T) {
	svc := &fakeService{}
	body, ct := multipartBody(t, "image", "cat.png", "image/png", []byte("PNGDATA"))

	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ct)

	w := do(newEngine(svc, 1<<20), req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp struct {
		Result model.Image `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Status != model.StatusNew || resp.Result.OriginalFilename != "cat.png" {
		t.Fatalf("result = %+v", resp.Result)
	}
	if svc.uploaded.ContentType != "image/png" || svc.uploaded.Size != 7 || string(svc.body) != "PNGDATA" {
		t.Fatalf("service got %+v / %q", svc.uploaded, svc.body)
	}
}

func TestUploadSniffsGenericContentType(t *testing.T) {
	svc := &fakeService{}
	data := pngBytes(t)
	body, ct := multipartBody(t, "image", "upload", "application/octet-stream", data)

	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ct)

	w := do(newEngine(svc, 1<<20), req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if svc.uploaded.ContentType != "image/png" {
		t.Fatalf("content type = %q, want image/png", svc.uploaded.ContentType)
	}
	if !bytes.Equal(svc.body, data) {
		t.Fatal("body was not rewound after sniffing")
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	svc := &fakeService{}
	body, ct := multipartBody(t, "image", "big.png", "image/png", bytes.Repeat([]byte("x"), 200<<10))

	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", ct)

	w := do(newEngine(svc, 1024), req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if svc.uploaded != nil {
		t.Fatal("service called for an oversized upload")
	}
}

func TestUploadRejectsStreamedOversizedBody(t *testing.T) {
	svc := &fakeService{}
	body, ct := multipartBody(t, "image", "big.png", "image/png", bytes.Repeat([]byte("x"), 200<<10))

	req := httptest.NewRequest(http.MethodPost, "/api/images", io.NopCloser(body))
	req.Header.Set("Content-Type", ct)
	req.ContentLength = -1

	w := do(newEngine(svc, 1024), req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestUploadBadRequests(t *testing.T) {
	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")

		if w := do(newEngine(&fakeService{}, 1<<20), req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("wrong field", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "cat.png", "image/png", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/images", body)
		req.Header.Set("Content-Type", ct)

		if w := do(newEngine(&fakeService{}, 1<<20), req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestUploadErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{imagesvc.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{imagesvc.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{imagesvc.ErrUnknownSize, http.StatusBadRequest},
		{&imagesvc.DependencyError{Op: "job queue", Err: errors.New("closed")}, http.StatusServiceUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			body, ct := multipartBody(t, "image", "cat.gif", "image/gif", []byte("GIF89a"))
			req := httptest.NewRequest(http.MethodPost, "/api/images", body)
			req.Header.Set("Content-Type", ct)

			w := do(newEngine(&fakeService{uploadErr: tt.err}, 1<<20), req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}

			var resp struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
				t.Fatalf("error body = %s", w.Body)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	img := model.NewImage("cat.png", "image/png")
	img.Status = model.StatusProcessing

	w := do(newEngine(&fakeService{info: img}, 1<<20), httptest.NewRequest(http.MethodGet, "/api/images/"+img.ID.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"PROCESSING"`) {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestInfoErrors(t *testing.T) {
	r := newEngine(&fakeService{infoErr: imagesvc.ErrNotFound}, 1<<20)

	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/images/not-a-uuid", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/api/images/"+uuid.NewString(), nil)); w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", w.Code)
	}
}

func TestRendition(t *testing.T) {
	w := do(newEngine(&fakeService{rendition: "JPEGDATA"}, 1<<20),
		httptest.NewRequest(http.MethodGet, "/api/images/"+uuid.NewString()+"/100", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc == "" {
		t.Fatal("Cache-Control missing on rendition")
	}
	if w.Body.String() != "JPEGDATA" {
		t.Fatalf("body = %q", w.Body)
	}
}

func TestRenditionErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"non-numeric resolution", "/abc", nil, http.StatusBadRequest},
		{"off-set resolution", "/75", imagesvc.ErrInvalidResolution, http.StatusBadRequest},
		{"not found", "/100", imagesvc.ErrNotFound, http.StatusNotFound},
		{"not ready", "/100", imagesvc.ErrProcessingIncomplete, http.StatusTooEarly},
		{"failed", "/100", imagesvc.ErrProcessingFailed, http.StatusFailedDependency},
		{"blob store down", "/100", &imagesvc.DependencyError{Op: "blob store", Err: errors.New("x")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(&fakeService{rendErr: tt.err}, 1<<20)
			w := do(r, httptest.NewRequest(http.MethodGet, "/api/images/"+uuid.NewString()+tt.path, nil))

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
