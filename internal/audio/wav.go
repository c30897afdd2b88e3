package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
)

const wavFormatIEEEFloat = 3

func decodeWAV(r io.ReadSeeker) (Signal, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return Signal{}, fmt.Errorf("invalid wav file: %w", err)
		}
		return Signal{}, errors.New("invalid wav file")
	}
	if d.WavAudioFormat == wavFormatIEEEFloat {
		return decodeFloatWAV(r)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("failed to decode wav: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(d.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth < 8 || bitDepth > 32 {
		return Signal{}, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, bitDepth)
	}

	// 8-bit PCM is unsigned, everything wider is signed.
	offset, scale := 0.0, float64(int64(1)<<(bitDepth-1))
	if bitDepth == 8 {
		offset = 128
	}

	values := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		values[i] = (float64(v) - offset) / scale
	}
	return Signal{Samples: downmix(values, channels), SampleRate: buf.Format.SampleRate}, nil
}

// decodeFloatWAV reads IEEE float samples straight from the data chunk, which
// the integer PCM buffer of go-audio cannot represent.
func decodeFloatWAV(r io.ReadSeeker) (Signal, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Signal{}, fmt.Errorf("failed to rewind wav: %w", err)
	}
	d := wav.NewDecoder(r)
	if err := d.FwdToPCM(); err != nil {
		return Signal{}, fmt.Errorf("failed to locate wav data: %w", err)
	}
	if d.PCMChunk == nil {
		return Signal{}, errors.New("wav file has no data chunk")
	}

	width := int(d.BitDepth) / 8
	if width != 4 && width != 8 {
		return Signal{}, fmt.Errorf("%w: %d-bit float wav", ErrUnsupportedFormat, d.BitDepth)
	}

	raw, err := io.ReadAll(io.LimitReader(d.PCMChunk, int64(d.PCMChunk.Size)))
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read wav data: %w", err)
	}

	values := make([]float64, len(raw)/width)
	for i := range values {
		b := raw[i*width:]
		if width == 4 {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		} else {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}
	return Signal{Samples: downmix(values, channels), SampleRate: int(d.SampleRate)}, nil
}

// downmix averages interleaved channels into one.
func downmix(values []float64, channels int) []float64 {
	if channels == 1 {
		return values
	}
	frames := len(values) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += values[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
