package read

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding names the numeric representation of raw signal samples.
type Encoding string

const (
	EncodingInt16   Encoding = "int16"   // little-endian signed 16-bit
	EncodingFloat32 Encoding = "float32" // little-endian IEEE-754
)

// Width returns the size in bytes of one sample, or 0 for unknown encodings.
func (e Encoding) Width() int {
	switch e {
	case EncodingInt16:
		return 2
	case EncodingFloat32:
		return 4
	default:
		return 0
	}
}

// Valid reports whether e is a supported encoding.
func (e Encoding) Valid() bool {
	return e.Width() > 0
}

// Samples decodes raw into float32 samples.
func (e Encoding) Samples(raw []byte) ([]float32, error) {
	width := e.Width()
	if width == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
	}
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncatedSignal, len(raw), width)
	}

	samples := make([]float32, len(raw)/width)
	for i := range samples {
		off := i * width
		switch e {
		case EncodingInt16:
			samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[off:])))
		case EncodingFloat32:
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	return samples, nil
}

// Encode packs samples into raw bytes. Int16 values are rounded and clamped.
func (e Encoding) Encode(samples []float32) []byte {
	width := e.Width()
	raw := make([]byte, len(samples)*width)
	for i, s := range samples {
		off := i * width
		switch e {
		case EncodingInt16:
			v := math.Round(float64(s))
			v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
			binary.LittleEndian.PutUint16(raw[off:], uint16(int16(v)))
		case EncodingFloat32:
			binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(s))
		}
	}
	return raw
}
