package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/savemedia/internal/config"
	"github.com/local/savemedia/internal/convert"
	"github.com/local/savemedia/internal/filetype"
	"github.com/local/savemedia/internal/limiter"
	"github.com/local/savemedia/internal/media"
)

type noOffice struct{}

func (noOffice) IsAvailable() bool { return false }

func (noOffice) Convert(context.Context, string, string, string) (string, error) {
	return "", &convert.UnavailableError{Tool: "libreoffice", Err: errors.New("not installed")}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.FromEnv()
	cfg.Convert.TempDir = t.TempDir()
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	svc := convert.NewService(filetype.New(), noOffice{}, 72)
	extractor := media.NewExtractor("no-such-binary-on-this-host", time.Second)
	lim := limiter.New(limiter.Options{Max: cfg.Media.RateLimitMax, Window: cfg.Media.RateLimitWindow})
	return New(cfg, svc, extractor, lim, nil)
}

func multipartBody(t *testing.T, field string, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for x := 0; x < 12; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 20), B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["office_available"])
}

func TestRootListsEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/convert/to-pdf")
}

func TestToPDF_SinglePNG(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "files", map[string][]byte{"photo.png": pngBytes(t)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="photo.pdf"`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

func TestToPDF_AcceptsLegacyFileField(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "file", map[string][]byte{"photo.png": pngBytes(t)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestToPDF_UnsupportedExtension(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "files", map[string][]byte{"malware.exe": []byte("MZ....")}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported file type")
}

func TestToPDF_EmptyFileRejected(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "files", map[string][]byte{"empty.txt": {}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToPDF_NoFiles(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "files", nil, map[string]string{"combine": "true"})
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToPDF_OversizeRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxUploadBytes = 1024
	srv := newTestServer(t, cfg)

	big := bytes.Repeat([]byte("a"), 64*1024)
	body, ctype := multipartBody(t, "files", map[string][]byte{"big.txt": big}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestToPDF_MultipleCombined(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	files := map[string][]byte{
		"a.txt": []byte("page from a"),
		"b.txt": []byte("page from b"),
	}
	body, ctype := multipartBody(t, "files", files, map[string]string{"combine": "true"})
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "combined.pdf")
}

func TestToPDF_MultipleSeparateReturnsZip(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	files := map[string][]byte{
		"a.txt": []byte("alpha"),
		"b.txt": []byte("beta"),
	}
	body, ctype := multipartBody(t, "files", files, map[string]string{"combine": "false"})
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
}

func TestFromPDF_RequiresFormat(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "file", map[string][]byte{"doc.pdf": []byte("%PDF-1.4 stub")}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/from-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "format")
}

func TestFromPDF_InvalidDPI(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	body, ctype := multipartBody(t, "file", map[string][]byte{"doc.pdf": []byte("%PDF-1.4 stub")},
		map[string]string{"format": "image", "dpi": "9000"})
	req := httptest.NewRequest(http.MethodPost, "/convert/from-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaPlatforms(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/platforms", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "youtube")
}

func TestMediaInfo_InvalidBody(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/media/info", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/media/info", strings.NewReader(`{"url": "ftp://nope"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaInfo_ExtractorUnavailable(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/media/info",
		strings.NewReader(`{"url": "https://example.com/video"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMediaExtract_ValidatesQualityAndFormat(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/media/extract",
		strings.NewReader(`{"url": "https://example.com/v", "quality": "ultra"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/media/extract",
		strings.NewReader(`{"url": "https://example.com/v", "format": "avi"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.APIKey = "sekrit"
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/media/info",
		strings.NewReader(`{"url": "https://example.com/v"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/media/info",
		strings.NewReader(`{"url": "https://example.com/v"}`))
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	// authenticated, then fails on the missing binary rather than auth
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMediaRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Media.RateLimitMax = 2
	srv := newTestServer(t, cfg)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/media/info",
			strings.NewReader(`{"url": "https://example.com/v"}`))
		req.RemoteAddr = "9.9.9.9:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"https://app.example"}
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/convert/to-pdf", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/convert/to-pdf", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

// blockingArchive stands in for S3 and holds every upload until released.
type blockingArchive struct {
	release chan struct{}
	stored  chan storedUpload
}

type storedUpload struct {
	name   string
	ctxErr error
	data   []byte
}

func (b *blockingArchive) Store(ctx context.Context, requestID, name, contentType string, data []byte) {
	<-b.release
	b.stored <- storedUpload{name: name, ctxErr: ctx.Err(), data: data}
}

func TestToPDF_ResponseDoesNotWaitForArchive(t *testing.T) {
	cfg := testConfig(t)
	arch := &blockingArchive{release: make(chan struct{}), stored: make(chan storedUpload, 1)}
	svc := convert.NewService(filetype.New(), noOffice{}, 72)
	extractor := media.NewExtractor("no-such-binary-on-this-host", time.Second)
	lim := limiter.New(limiter.Options{Max: 10, Window: time.Minute})
	srv := New(cfg, svc, extractor, lim, arch)

	body, ctype := multipartBody(t, "files", map[string][]byte{"photo.png": pngBytes(t)}, nil)
	reqCtx, cancelReq := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body).WithContext(reqCtx)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
		// response completed while the archive upload is still held
	case <-time.After(5 * time.Second):
		t.Fatal("response blocked on the archive upload")
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the client hanging up after the response must not cancel the upload
	cancelReq()
	close(arch.release)

	select {
	case got := <-arch.stored:
		assert.Equal(t, "photo.pdf", got.name)
		assert.NoError(t, got.ctxErr)
		assert.True(t, bytes.HasPrefix(got.data, []byte("%PDF-")))
	case <-time.After(5 * time.Second):
		t.Fatal("archive upload never ran")
	}
}

func tempDirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestToPDF_OversizeCreatesNoTempFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxUploadBytes = 1024
	srv := newTestServer(t, cfg)

	big := bytes.Repeat([]byte("a"), 64*1024)
	body, ctype := multipartBody(t, "files", map[string][]byte{"big.txt": big}, nil)
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, tempDirEntries(t, cfg.Convert.TempDir), "rejected upload must never touch the temp dir")
}

func TestConvertLeavesNoTempFilesBehind(t *testing.T) {
	cfg := testConfig(t)
	srv := newTestServer(t, cfg)

	post := func(t *testing.T, path string, body *bytes.Buffer, ctype string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("successful conversion", func(t *testing.T) {
		body, ctype := multipartBody(t, "files", map[string][]byte{"photo.png": pngBytes(t)}, nil)
		rec := post(t, "/convert/to-pdf", body, ctype)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, tempDirEntries(t, cfg.Convert.TempDir))
	})

	t.Run("rejected kind after a valid file", func(t *testing.T) {
		files := map[string][]byte{
			"ok.png":      pngBytes(t),
			"malware.exe": []byte("MZ...."),
		}
		body, ctype := multipartBody(t, "files", files, nil)
		rec := post(t, "/convert/to-pdf", body, ctype)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, tempDirEntries(t, cfg.Convert.TempDir))
	})

	t.Run("failed from-pdf conversion", func(t *testing.T) {
		body, ctype := multipartBody(t, "file", map[string][]byte{"fake.pdf": []byte("not a pdf")},
			map[string]string{"format": "text"})
		rec := post(t, "/convert/from-pdf", body, ctype)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, tempDirEntries(t, cfg.Convert.TempDir))
	})
}

func TestToPDF_CombineAcceptsCommonBooleanForms(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	files := map[string][]byte{
		"a.txt": []byte("alpha"),
		"b.txt": []byte("beta"),
	}

	body, ctype := multipartBody(t, "files", files, map[string]string{"combine": "YES"})
	req := httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "combined.pdf")

	body, ctype = multipartBody(t, "files", files, map[string]string{"combine": "no"})
	req = httptest.NewRequest(http.MethodPost, "/convert/to-pdf", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
}
