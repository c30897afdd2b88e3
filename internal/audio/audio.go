// Package audio decodes uploaded WAV and MP3 files into mono PCM signals.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

var (
	// ErrEmptyAudio is returned when a file decodes to zero samples.
	ErrEmptyAudio = errors.New("audio contains no samples")
	// ErrUnsupportedFormat is returned for containers other than WAV and MP3.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Format identifies an audio container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Signal is a mono PCM signal with samples scaled to [-1, 1].
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// sniffLen covers the RIFF/WAVE header and an ID3v2 or MPEG frame header.
const sniffLen = 262

// DetectFormat picks the container from the leading bytes, falling back to the
// file extension when the content is not recognised.
func DetectFormat(head []byte, name string) (Format, error) {
	switch {
	case filetype.Is(head, "wav"):
		return FormatWAV, nil
	case filetype.Is(head, "mp3"):
		return FormatMP3, nil
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// Decode reads the file at path and returns its mono signal. When targetRate is
// positive and differs from the native rate the signal is resampled.
func Decode(path string, targetRate int) (Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return Signal{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyAudio)
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	format, err := DetectFormat(head, path)
	if err != nil {
		return Signal{}, err
	}

	sig, err := DecodeReader(bytes.NewReader(data), format)
	if err != nil {
		return Signal{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if targetRate > 0 && targetRate != sig.SampleRate {
		sig = Resample(sig, targetRate)
	}
	return sig, nil
}

// DecodeReader decodes a stream of the given format.
func DecodeReader(r io.ReadSeeker, format Format) (Signal, error) {
	var (
		sig Signal
		err error
	)
	switch format {
	case FormatWAV:
		sig, err = decodeWAV(r)
	case FormatMP3:
		sig, err = decodeMP3(r)
	default:
		return Signal{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Signal{}, err
	}
	if len(sig.Samples) == 0 {
		return Signal{}, ErrEmptyAudio
	}
	return sig, nil
}

// Resample converts the signal to rate using linear interpolation.
func Resample(sig Signal, rate int) Signal {
	if rate <= 0 || sig.SampleRate <= 0 || rate == sig.SampleRate || len(sig.Samples) == 0 {
		return sig
	}

	ratio := float64(sig.SampleRate) / float64(rate)
	n := int(float64(len(sig.Samples)) / ratio)
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	last := len(sig.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = sig.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = sig.Samples[j]*(1-frac) + sig.Samples[j+1]*frac
	}
	return Signal{Samples: out, SampleRate: rate}
}
