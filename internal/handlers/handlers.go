package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Brownie44l1/speech-ai-api/internal/audio"
	"github.com/Brownie44l1/speech-ai-api/internal/metrics"
	"github.com/Brownie44l1/speech-ai-api/internal/model"
)

// Classifier returns a probability for every class it knows.
type Classifier interface {
	Classes() []string
	Predict(img image.Image) (map[string]float32, error)
}

// Extractor turns a stored audio file into the image the classifier expects.
type Extractor interface {
	Extract(path string) (image.Image, error)
}

// Store persists an upload and returns where it was written.
type Store interface {
	Save(name string, r io.Reader) (string, error)
}

var allowedExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
}

type Handler struct {
	classifier Classifier
	extractor  Extractor
	store      Store
}

func NewHandler(classifier Classifier, extractor Extractor, store Store) *Handler {
	return &Handler{
		classifier: classifier,
		extractor:  extractor,
		store:      store,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type uploadResponse struct {
	Filename string      `json:"filename"`
	Message  string      `json:"message"`
	Metadata *audio.Tags `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

// extension is the lowercase suffix after the last dot, including the dot.
func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"classes": h.classifier.Classes(),
	})
}

// LimitBody caps request bodies at max bytes. It must wrap the server's own
// ResponseWriter so an oversized upload also closes the connection.
func LimitBody(max int64, next http.Handler) http.Handler {
	if max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next.ServeHTTP(w, r)
	})
}

// formFile reads the "file" field, writing the client-fault response itself
// when the form is unusable.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "No file provided. Use 'file' as the form field name")
		return nil, nil, false
	}

	slog.Info("received file", "filename", header.Filename, "size", header.Size)
	metrics.UploadBytes.Add(float64(header.Size))
	return file, header, true
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	file, header, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !allowedExtensions[extension(header.Filename)] {
		writeError(w, http.StatusBadRequest, "Only .wav and .mp3 are supported")
		return
	}

	start := time.Now()
	path, err := h.store.Save(header.Filename, file)
	metrics.ObserveStage("save", start)
	if err != nil {
		slog.Error("failed to save upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start = time.Now()
	spec, err := h.extractor.Extract(path)
	metrics.ObserveStage("extract", start)
	if err != nil {
		slog.Error("spectrogram extraction failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start = time.Now()
	probs, err := h.classifier.Predict(spec)
	metrics.ObserveStage("infer", start)
	if err != nil {
		slog.Error("prediction failed", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.PredictionResponse{
		Filename: header.Filename,
		YProb:    probs,
	})
}

func (h *Handler) UploadMP3(w http.ResponseWriter, r *http.Request) {
	file, header, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".mp3") {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only MP3 files are allowed.")
		return
	}

	start := time.Now()
	path, err := h.store.Save(header.Filename, file)
	metrics.ObserveStage("save", start)
	if err != nil {
		slog.Error("failed to save upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("There was an error uploading the file: %v", err))
		return
	}

	resp := uploadResponse{
		Filename: header.Filename,
		Message:  fmt.Sprintf("Successfully uploaded %s", header.Filename),
	}
	if tags, err := audio.ReadTags(path); err == nil {
		resp.Metadata = tags
	} else {
		slog.Debug("no tags read", "path", path, "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}
