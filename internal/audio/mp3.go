package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always emits 16-bit little-endian stereo frames.
const mp3FrameBytes = 4

func decodeMP3(r io.Reader) (Signal, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return Signal{}, fmt.Errorf("invalid mp3 file: %w", err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Signal{}, fmt.Errorf("failed to decode mp3: %w", err)
	}

	return Signal{Samples: stereo16ToMono(pcm), SampleRate: d.SampleRate()}, nil
}

// stereo16ToMono averages left and right of each complete frame in pcm.
func stereo16ToMono(pcm []byte) []float64 {
	frames := len(pcm) / mp3FrameBytes
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*mp3FrameBytes:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*mp3FrameBytes+2:]))
		samples[i] = (float64(left) + float64(right)) / (2 * 32768)
	}
	return samples
}
