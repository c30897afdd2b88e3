package model

import (
	"errors"
	"fmt"
)

// Activations applied to the raw model output before mapping to classes.
const (
	ActivationNone    = "none"
	ActivationSoftmax = "softmax"
)

// Metadata describes the exported classifier.
type Metadata struct {
	InputShape       []int64  `json:"input_shape"`
	OutputShape      []int64  `json:"output_shape"`
	Classes          []string `json:"classes"`
	ImageSize        int      `json:"image_size"`
	InputName        string   `json:"input_name"`
	OutputName       string   `json:"output_name"`
	OutputActivation string   `json:"output_activation"`
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.OutputActivation == "" {
		m.OutputActivation = ActivationNone
	}
}

// Validate checks that the shapes agree with the class list and image size.
func (m *Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return errors.New("metadata has no classes")
	}
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input shape must be NCHW, got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 || m.InputShape[1] != 3 {
		return fmt.Errorf("input shape must be [1 3 H W], got %v", m.InputShape)
	}
	if m.ImageSize <= 0 || m.InputShape[2] != int64(m.ImageSize) || m.InputShape[3] != int64(m.ImageSize) {
		return fmt.Errorf("input shape %v does not match image size %d", m.InputShape, m.ImageSize)
	}
	if n := elements(m.OutputShape); n != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v has %d values for %d classes", m.OutputShape, n, len(m.Classes))
	}
	switch m.OutputActivation {
	case ActivationNone, ActivationSoftmax:
	default:
		return fmt.Errorf("unknown output activation %q", m.OutputActivation)
	}
	return nil
}

// InputSize is the number of float32 values the input tensor holds.
func (m *Metadata) InputSize() int {
	return int(elements(m.InputShape))
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// PredictionResponse is the body returned by POST /predict.
type PredictionResponse struct {
	Filename string             `json:"filename"`
	YProb    map[string]float32 `json:"y_prob"`
}
