package model

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3})
	require.Len(t, out, 3)

	var sum float32
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, out[2], out[1])
	assert.Greater(t, out[1], out[0])

	// large logits must not overflow
	big := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, big[0], 1e-6)

	assert.Nil(t, Softmax(nil))
}

func TestProbabilitiesKeysMatchClasses(t *testing.T) {
	classes := []string{"ai", "human"}

	probs := Probabilities(classes, []float32{0.25, 0.75}, ActivationNone)
	assert.Equal(t, map[string]float32{"ai": 0.25, "human": 0.75}, probs)

	probs = Probabilities(classes, []float32{0, 0}, ActivationSoftmax)
	assert.InDelta(t, 0.5, probs["ai"], 1e-6)
	assert.InDelta(t, 0.5, probs["human"], 1e-6)

	probs = Probabilities(classes, []float32{0.9}, ActivationNone)
	assert.Len(t, probs, 2)
	assert.Zero(t, probs["human"])
}

func TestPreprocessLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	data := Preprocess(img, 4)
	require.Len(t, data, 3*4*4)
	for i := 0; i < 16; i++ {
		assert.InDelta(t, 1.0, data[i], 1e-3, "red plane")
		assert.InDelta(t, 0.0, data[16+i], 1e-3, "green plane")
		assert.InDelta(t, 0.0, data[32+i], 1e-3, "blue plane")
	}
}

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMetadata(t *testing.T) {
	path := writeMetadata(t, `{
		"input_shape": [1, 3, 224, 224],
		"output_shape": [1, 2],
		"classes": ["ai", "human"],
		"image_size": 224
	}`)

	m, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", m.InputName)
	assert.Equal(t, "output", m.OutputName)
	assert.Equal(t, ActivationNone, m.OutputActivation)
	assert.Equal(t, 3*224*224, m.InputSize())
}

func TestLoadMetadataInvalid(t *testing.T) {
	cases := map[string]string{
		"no classes":     `{"input_shape":[1,3,8,8],"output_shape":[1,0],"classes":[],"image_size":8}`,
		"size mismatch":  `{"input_shape":[1,3,8,8],"output_shape":[1,2],"classes":["a","b"],"image_size":16}`,
		"output classes": `{"input_shape":[1,3,8,8],"output_shape":[1,3],"classes":["a","b"],"image_size":8}`,
		"activation":     `{"input_shape":[1,3,8,8],"output_shape":[1,2],"classes":["a","b"],"image_size":8,"output_activation":"relu"}`,
		"bad json":       `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMetadata(writeMetadata(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
