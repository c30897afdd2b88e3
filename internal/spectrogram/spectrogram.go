// Package spectrogram turns audio into the grayscale spectrogram image the
// classifier was trained on.
//
// The pipeline is STFT with a periodic Hann window and centred frames, power
// spectrum, decibels relative to the peak (floored at -80 dB), rescaling to
// 8 bits stretched over the full gray range, a vertical flip so low frequencies sit at the bottom, and finally a
// rasterization to a fixed size PNG that is decoded back into an RGB image.
package spectrogram

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/Brownie44l1/speech-ai-api/internal/audio"
)

const (
	amin  = 1e-10
	topDB = 80.0
	eps   = 1e-8
)

// Options configures the extractor.
type Options struct {
	SampleRate int // 0 keeps the native rate
	NFFT       int
	HopLength  int
	Width      int
	Height     int
}

// DefaultOptions matches a 4x4 inch figure at 100 dpi.
func DefaultOptions() Options {
	return Options{NFFT: 2048, HopLength: 512, Width: 400, Height: 400}
}

func (o Options) validate() error {
	switch {
	case o.NFFT <= 0 || o.NFFT%2 != 0:
		return fmt.Errorf("n_fft must be a positive even number, got %d", o.NFFT)
	case o.HopLength <= 0:
		return fmt.Errorf("hop length must be positive, got %d", o.HopLength)
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("image size must be positive, got %dx%d", o.Width, o.Height)
	}
	return nil
}

// Extractor converts audio files into spectrogram images. It holds no mutable
// state and is safe for concurrent use.
type Extractor struct {
	opts   Options
	window []float64
}

// New creates an extractor for the given options.
func New(opts Options) (*Extractor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Extractor{opts: opts, window: periodicHann(opts.NFFT)}, nil
}

// Options returns the extractor configuration.
func (e *Extractor) Options() Options { return e.opts }

// Extract decodes the audio file at path and renders its spectrogram.
func (e *Extractor) Extract(path string) (image.Image, error) {
	sig, err := audio.Decode(path, e.opts.SampleRate)
	if err != nil {
		return nil, err
	}
	return e.ExtractSignal(sig)
}

// ExtractSignal renders the spectrogram of an already decoded signal.
func (e *Extractor) ExtractSignal(sig audio.Signal) (*image.RGBA, error) {
	gray, err := e.Matrix(sig)
	if err != nil {
		return nil, err
	}
	return e.render(gray)
}

// Matrix returns the flipped 8-bit spectrogram with one row per frequency bin
// and one column per frame, before rasterization.
func (e *Extractor) Matrix(sig audio.Signal) (*image.NRGBA, error) {
	if len(sig.Samples) == 0 {
		return nil, audio.ErrEmptyAudio
	}

	power := e.stft(sig.Samples)
	powerToDB(power)
	gray := toGray(power)
	autoscale(gray)

	return imaging.FlipV(gray), nil
}

// stft returns |X|^2 indexed as [bin][frame].
func (e *Extractor) stft(samples []float64) [][]float64 {
	nfft, hop := e.opts.NFFT, e.opts.HopLength
	pad := nfft / 2

	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	frames := 1 + (len(padded)-nfft)/hop
	bins := nfft/2 + 1

	power := make([][]float64, bins)
	for b := range power {
		power[b] = make([]float64, frames)
	}

	fft := fourier.NewFFT(nfft)
	seq := make([]float64, nfft)
	coeff := make([]complex128, bins)
	for f := 0; f < frames; f++ {
		start := f * hop
		for i := range seq {
			seq[i] = padded[start+i] * e.window[i]
		}
		coeff = fft.Coefficients(coeff, seq)
		for b, c := range coeff {
			re, im := real(c), imag(c)
			power[b][f] = re*re + im*im
		}
	}
	return power
}

// powerToDB converts in place to decibels relative to the maximum, clipped to
// topDB below the peak.
func powerToDB(s [][]float64) {
	ref := amin
	for _, row := range s {
		for _, v := range row {
			if v > ref {
				ref = v
			}
		}
	}
	refDB := 10 * math.Log10(ref)
	floor := -topDB

	for _, row := range s {
		for i, v := range row {
			db := 10*math.Log10(math.Max(amin, v)) - refDB
			if db < floor {
				db = floor
			}
			row[i] = db
		}
	}
}

// toGray rescales to [0, 255] with truncation. Row b of the result is bin b.
func toGray(s [][]float64) *image.Gray {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range s {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span := hi - lo + eps

	height := len(s)
	width := len(s[0])
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y, row := range s {
		off := y * img.Stride
		for x, v := range row {
			img.Pix[off+x] = uint8((v - lo) / span * 255)
		}
	}
	return img
}

// autoscale stretches the darkest..brightest range over the 256 gray levels,
// the way a plot with vmin/vmax taken from the data does. A flat image maps to
// black.
func autoscale(img *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	span := float64(hi) - float64(lo)
	for i, p := range img.Pix {
		if span == 0 {
			img.Pix[i] = 0
			continue
		}
		level := int(float64(p-lo) / span * 256)
		if level > 255 {
			level = 255
		}
		img.Pix[i] = uint8(level)
	}
}

// render draws the matrix on a Width x Height canvas, round trips it through
// PNG and returns it as opaque RGB.
func (e *Extractor) render(m image.Image) (*image.RGBA, error) {
	plot := resize.Resize(uint(e.opts.Width), uint(e.opts.Height), m, resize.Bilinear)

	var buf bytes.Buffer
	if err := png.Encode(&buf, plot); err != nil {
		return nil, fmt.Errorf("failed to encode spectrogram: %w", err)
	}

	decoded, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode spectrogram: %w", err)
	}

	rgb := image.NewRGBA(decoded.Bounds())
	draw.Draw(rgb, rgb.Bounds(), image.Opaque, image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), decoded, decoded.Bounds().Min, draw.Over)
	return rgb, nil
}

// EncodePNG writes img as PNG, used by the CLI to dump what the model sees.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// periodicHann is the n-point Hann window used for spectral analysis, the
// first n points of an (n+1)-point symmetric window.
func periodicHann(n int) []float64 {
	w := make([]float64, n+1)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)[:n]
}
