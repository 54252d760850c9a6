package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aliskhannn/thumbnailer/internal/model"
	imagerepo "github.com/aliskhannn/thumbnailer/internal/repository/image"
	"github.com/aliskhannn/thumbnailer/internal/storage"
)

type recorder struct {
	calls []string
}

func (r *recorder) add(call string) { r.calls = append(r.calls, call) }

type fakeRepo struct {
	rec       *recorder
	records   map[uuid.UUID]model.Image
	createErr error
	getErr    error
}

func (f *fakeRepo) CreateImage(_ context.Context, img model.Image) (model.Image, error) {
	f.rec.add("create")
	if f.createErr != nil {
		return model.Image{}, f.createErr
	}
	f.records[img.ID] = img
	return img, nil
}

func (f *fakeRepo) GetImage(_ context.Context, id uuid.UUID) (model.Image, error) {
	f.rec.add("get")
	if f.getErr != nil {
		return model.Image{}, f.getErr
	}
	img, ok := f.records[id]
	if !ok {
		return model.Image{}, imagerepo.ErrImageNotFound
	}
	return img, nil
}

type fakeStorage struct {
	rec     *recorder
	blobs   map[string][]byte
	saveErr error
	openErr error
}

func (f *fakeStorage) Save(_ context.Context, key string, src io.Reader, _ int64, _ string) error {
	f.rec.add("save")
	if f.saveErr != nil {
		return f.saveErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	f.blobs[key] = data
	return nil
}

func (f *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	data, ok := f.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakePublisher struct {
	rec  *recorder
	jobs []model.Job
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, job model.Job) error {
	f.rec.add("publish")
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fixture struct {
	rec  *recorder
	repo *fakeRepo
	fs   *fakeStorage
	pub  *fakePublisher
	svc  *Service
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:  rec,
		repo: &fakeRepo{rec: rec, records: map[uuid.UUID]model.Image{}},
		fs:   &fakeStorage{rec: rec, blobs: map[string][]byte{}},
		pub:  &fakePublisher{rec: rec},
	}
	f.svc = NewService(f.repo, f.fs, f.pub, Options{
		AllowedContentTypes: []string{"image/jpeg", "IMAGE/PNG"},
		MaxUploadBytes:      1024,
		Resolutions:         []int{50, 100, 500},
	})

	return f
}

func upload(body, contentType, filename string) UploadInput {
	return UploadInput{ContentType: contentType, Size: int64(len(body)), Filename: filename, Body: strings.NewReader(body)}
}

func TestUpload(t *testing.T) {
	f := newFixture()

	img, err := f.svc.Upload(context.Background(), upload("PNGDATA", "image/png; charset=binary", "cat.png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if img.Status != model.StatusNew || img.ContentType != "image/png" || img.OriginalFilename != "cat.png" {
		t.Fatalf("unexpected record: %+v", img)
	}
	if got := string(f.fs.blobs[model.OriginalKey(img.ID)]); got != "PNGDATA" {
		t.Fatalf("stored original = %q", got)
	}
	if len(f.pub.jobs) != 1 || f.pub.jobs[0].ImageID != img.ID {
		t.Fatalf("published jobs = %v", f.pub.jobs)
	}
	if strings.Join(f.rec.calls, ",") != "create,save,publish" {
		t.Fatalf("call order = %v, want create,save,publish", f.rec.calls)
	}

	info, err := f.svc.GetInfo(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Status != model.StatusNew {
		t.Fatalf("status right after upload = %s, want NEW", info.Status)
	}
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name string
		in   UploadInput
		want error
	}{
		{name: "unsupported type", in: upload("GIF89a", "image/gif", "a.gif"), want: ErrUnsupportedMediaType},
		{name: "empty type", in: upload("x", "", "a"), want: ErrUnsupportedMediaType},
		{name: "too large", in: upload(strings.Repeat("x", 1025), "image/jpeg", "a.jpg"), want: ErrPayloadTooLarge},
		{name: "unknown size", in: UploadInput{ContentType: "image/jpeg", Size: -1, Body: strings.NewReader("x")}, want: ErrUnknownSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.svc.Upload(context.Background(), tt.in)
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.rec.calls) != 0 {
				t.Fatalf("side effects on rejected upload: %v", f.rec.calls)
			}
		})
	}
}

func TestUploadAtSizeLimit(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.Upload(context.Background(), upload(strings.Repeat("x", 1024), "image/jpeg", "a.jpg")); err != nil {
		t.Fatalf("Upload at limit: %v", err)
	}
}

func TestUploadDependencyFailures(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(*fixture)
		op        string
		wantCalls string
	}{
		{name: "record store", setup: func(f *fixture) { f.repo.createErr = cause }, op: "record store", wantCalls: "create"},
		{name: "blob store", setup: func(f *fixture) { f.fs.saveErr = cause }, op: "blob store", wantCalls: "create,save"},
		{name: "job queue", setup: func(f *fixture) { f.pub.err = cause }, op: "job queue", wantCalls: "create,save,publish"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			_, err := f.svc.Upload(context.Background(), upload("x", "image/jpeg", "a.jpg"))

			var depErr *DependencyError
			if !errors.As(err, &depErr) || depErr.Op != tt.op || !errors.Is(err, cause) {
				t.Fatalf("err = %v, want DependencyError for %s", err, tt.op)
			}
			if got := strings.Join(f.rec.calls, ","); got != tt.wantCalls {
				t.Fatalf("calls = %s, want %s", got, tt.wantCalls)
			}
		})
	}
}

func TestUploadStreamsOnlyDeclaredSize(t *testing.T) {
	f := newFixture()
	in := UploadInput{ContentType: "image/jpeg", Size: 3, Filename: "a.jpg", Body: strings.NewReader("abcdef")}

	img, err := f.svc.Upload(context.Background(), in)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := string(f.fs.blobs[model.OriginalKey(img.ID)]); got != "abc" {
		t.Fatalf("stored = %q, want abc", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	long := strings.Repeat("я", 200) // 400 bytes

	tests := map[string]string{
		"cat.png":             "cat.png",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\dog.jpg`: "dog.jpg",
		"":                    "",
		"/":                   "",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}

	got := sanitizeFilename(long)
	if len(got) > maxFilenameLen || !strings.HasPrefix(long, got) || len(got) != 254 {
		t.Fatalf("truncated to %d bytes, want 254 valid bytes", len(got))
	}
}

func TestSanitizeFilenameInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short name", "photo\xff.png", "photo\uFFFD.png"},
		{"invalid byte before cut", "ab\xff" + strings.Repeat("x", 300) + ".png", "ab\uFFFD" + strings.Repeat("x", 250)},
		{"invalid byte in directory", "dir\xfe/cat.png", "cat.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeFilename(tt.in)
			if !utf8.ValidString(got) {
				t.Fatalf("sanitizeFilename(%q) = %q, not valid UTF-8", tt.in, got)
			}
			if got != tt.want {
				t.Fatalf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGetInfo(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.GetInfo(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	f.repo.getErr = errors.New("timeout")
	var depErr *DependencyError
	if _, err := f.svc.GetInfo(context.Background(), uuid.New()); !errors.As(err, &depErr) {
		t.Fatalf("err = %v, want DependencyError", err)
	}
}

func TestGetRendition(t *testing.T) {
	tests := []struct {
		name       string
		status     model.Status
		resolution int
		blob       bool
		want       error
	}{
		{name: "done", status: model.StatusDone, resolution: 100, blob: true},
		{name: "new", status: model.StatusNew, resolution: 100, want: ErrProcessingIncomplete},
		{name: "processing", status: model.StatusProcessing, resolution: 100, want: ErrProcessingIncomplete},
		{name: "error", status: model.StatusError, resolution: 100, want: ErrProcessingFailed},
		{name: "done without blob", status: model.StatusDone, resolution: 100, want: ErrNotFound},
		{name: "off-set resolution", status: model.StatusDone, resolution: 75, want: ErrInvalidResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			img := model.NewImage("a.png", "image/png")
			img.Status = tt.status
			f.repo.records[img.ID] = img
			if tt.blob {
				f.fs.blobs[model.RenditionKey(img.ID, tt.resolution)] = []byte("JPEG")
			}

			rc, err := f.svc.GetRendition(context.Background(), img.ID, tt.resolution)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("err = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetRendition: %v", err)
			}
			defer rc.Close()

			data, _ := io.ReadAll(rc)
			if string(data) != "JPEG" {
				t.Fatalf("data = %q", data)
			}
		})
	}
}

func TestGetRenditionChecksResolutionFirst(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetRendition(context.Background(), uuid.New(), 7)
	if !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("err = %v, want ErrInvalidResolution", err)
	}
	if len(f.rec.calls) != 0 {
		t.Fatalf("store consulted for invalid resolution: %v", f.rec.calls)
	}
}

func TestGetRenditionUnknownImage(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.GetRendition(context.Background(), uuid.New(), 50); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRenditionBlobStoreFailure(t *testing.T) {
	f := newFixture()
	img := model.NewImage("a.png", "image/png")
	img.Status = model.StatusDone
	f.repo.records[img.ID] = img
	f.fs.openErr = errors.New("bucket unreachable")

	var depErr *DependencyError
	if _, err := f.svc.GetRendition(context.Background(), img.ID, 50); !errors.As(err, &depErr) {
		t.Fatalf("err = %v, want DependencyError", err)
	}
}
