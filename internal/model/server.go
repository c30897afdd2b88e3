package model

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Config locates the model files and selects the execution provider.
type Config struct {
	ModelPath    string
	MetadataPath string
	UseGPU       bool
	LibraryPath  string
}

// Server owns the ONNX session. Input and output tensors are shared across
// calls, so Predict serializes inference.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	Device       string
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadMetadata reads and validates the metadata sidecar.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	metadata.applyDefaults()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata: %w", err)
	}
	return metadata, nil
}

// NewServer loads the model once. CUDA is used when requested and available,
// otherwise the session runs on CPU.
func NewServer(cfg Config) (*Server, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	s := &Server{
		Metadata:     metadata,
		Device:       "cpu",
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}

	if cfg.UseGPU {
		session, err := s.newSession(cfg.ModelPath, true)
		if err == nil {
			s.session = session
			s.Device = "cuda"
		} else {
			slog.Warn("CUDA unavailable, falling back to CPU", "error", err)
		}
	}
	if s.session == nil {
		session, err := s.newSession(cfg.ModelPath, false)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}
		s.session = session
	}

	slog.Info("model loaded", "path", cfg.ModelPath, "device", s.Device, "classes", metadata.Classes)
	return s, nil
}

func (s *Server) newSession(modelPath string, cuda bool) (*ort.AdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	if cuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, err
		}
	}

	return ort.NewAdvancedSession(modelPath,
		[]string{s.Metadata.InputName}, []string{s.Metadata.OutputName},
		[]ort.ArbitraryTensor{s.inputTensor}, []ort.ArbitraryTensor{s.outputTensor},
		options)
}

// Classes returns the class names in model output order.
func (s *Server) Classes() []string {
	return s.Metadata.Classes
}

// Predict runs the classifier on img and returns a probability for every class.
func (s *Server) Predict(img image.Image) (map[string]float32, error) {
	inputData := Preprocess(img, s.Metadata.ImageSize)
	if len(inputData) != s.Metadata.InputSize() {
		return nil, fmt.Errorf("expected %d input values, got %d", s.Metadata.InputSize(), len(inputData))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return Probabilities(s.Metadata.Classes, s.outputTensor.GetData(), s.Metadata.OutputActivation), nil
}

// Probabilities maps output index i to classes[i], applying the activation
// first. Extra outputs beyond the class list are ignored.
func Probabilities(classes []string, output []float32, activation string) map[string]float32 {
	values := output
	if activation == ActivationSoftmax {
		values = Softmax(output)
	}

	probs := make(map[string]float32, len(classes))
	for i, name := range classes {
		if i < len(values) {
			probs[name] = values[i]
		} else {
			probs[name] = 0
		}
	}
	return probs
}

// Softmax returns a normalized copy of logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Close releases the session and the ONNX environment.
func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
