package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/speech-ai-api/internal/handlers"
	"github.com/Brownie44l1/speech-ai-api/internal/storage"
)

type stubClassifier struct{}

func (stubClassifier) Classes() []string { return []string{"ai", "human"} }

func (stubClassifier) Predict(image.Image) (map[string]float32, error) {
	return map[string]float32{"ai": 0.5, "human": 0.5}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func newRouterIn(t *testing.T, dir string, metricsEnabled bool) http.Handler {
	t.Helper()
	store, err := storage.New(dir)
	require.NoError(t, err)
	h := handlers.NewHandler(stubClassifier{}, stubExtractor{}, store)
	return NewRouter(h, RouterOptions{MetricsEnabled: metricsEnabled, MaxUploadBytes: 1 << 20})
}

func newRouter(t *testing.T, metricsEnabled bool) http.Handler {
	t.Helper()
	return newRouterIn(t, t.TempDir(), metricsEnabled)
}

func uploadRequest(t *testing.T, url, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRouterPredict(t *testing.T) {
	router := newRouter(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "/predict", "clip.wav", []byte("RIFF")))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "clip.wav", body["filename"])
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := newRouter(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newRouter(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestRouterMetricsToggle(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(t, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(t, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	srv := New(port, newRouter(t, false))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRouterRejectsOversizedUpload(t *testing.T) {
	dir := t.TempDir()
	router := newRouterIn(t, dir, false)

	for _, url := range []string{"/predict", "/upload-mp3/"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, uploadRequest(t, url, "big.mp3", make([]byte, 2<<20)))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, url)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Uploaded file is too large", body["detail"])
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
