package classifier

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/tailored-agentic-units/readfish/core/read"
)

const (
	// madFactor scales the median absolute deviation to a standard
	// deviation for normally distributed signal.
	madFactor = 1.4826

	defaultWindow     = 10
	defaultMinSamples = 100
	maxQuality        = 40
	minQuality        = 2
)

// Quartile boundaries of the standard normal distribution. A normalized
// window mean falls into each bin with equal probability.
var binEdges = [3]float64{-0.6745, 0, 0.6745}

const bases = "ACGT"

// SignalCaller is a dry-run caller. It rescales each chunk by its median and
// MAD, then maps the mean of each fixed window of samples to one of four
// bases. The called length tracks signal length, which is what an observe
// run reports; it is not a basecalling model.
type SignalCaller struct {
	Window     int // Samples per called base.
	MinSamples int // Shorter chunks fail with ErrShortSignal.
}

// NewSignalCaller returns a caller with ten samples per base.
func NewSignalCaller() *SignalCaller {
	return &SignalCaller{
		Window:     defaultWindow,
		MinSamples: defaultMinSamples,
	}
}

func (s *SignalCaller) Classify(ctx context.Context, batch read.Batch, encoding read.Encoding, decided Lookup) iter.Seq2[read.Output, error] {
	return func(yield func(read.Output, error) bool) {
		if !encoding.Valid() {
			yield(read.Output{}, fmt.Errorf("%w: %w: %q", ErrUnavailable, read.ErrUnknownEncoding, string(encoding)))
			return
		}

		for i, c := range undecided(ctx, batch, decided) {
			out := output(i, c)
			seq, qual, err := s.call(c, encoding)
			if err != nil {
				if !yield(out, fmt.Errorf("read %s: %w", c.ID, err)) {
					return
				}
				continue
			}
			out.Sequence = seq
			out.Quality = qual
			if !yield(out, nil) {
				return
			}
		}
	}
}

func (s *SignalCaller) call(c read.Chunk, encoding read.Encoding) (string, string, error) {
	samples, err := encoding.Samples(c.RawData)
	if err != nil {
		return "", "", err
	}

	window := s.Window
	if window < 1 {
		window = defaultWindow
	}
	if len(samples) < max(s.MinSamples, window) {
		return "", "", fmt.Errorf("%w: %d samples", ErrShortSignal, len(samples))
	}

	normalized, err := Rescale(samples)
	if err != nil {
		return "", "", err
	}

	n := len(normalized) / window
	var seq, qual strings.Builder
	seq.Grow(n)
	qual.Grow(n)
	for w := 0; w < n; w++ {
		mean, sd := meanSD(normalized[w*window : (w+1)*window])
		seq.WriteByte(bases[bin(mean)])
		qual.WriteByte(phred(sd))
	}
	return seq.String(), qual.String(), nil
}

// Rescale returns (x - median) / (1.4826 * MAD) for every sample.
func Rescale(samples []float32) ([]float64, error) {
	med, mad := MedMAD(samples)
	if mad == 0 {
		return nil, ErrFlatSignal
	}

	out := make([]float64, len(samples))
	for i, x := range samples {
		out[i] = (float64(x) - med) / mad
	}
	return out, nil
}

// MedMAD returns the median of samples and their median absolute
// deviation scaled to a standard deviation.
func MedMAD(samples []float32) (med, mad float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	values := make([]float64, len(samples))
	for i, x := range samples {
		values[i] = float64(x)
	}
	med = median(values)

	for i, v := range values {
		values[i] = math.Abs(v - med)
	}
	return med, median(values) * madFactor
}

// median sorts values in place.
func median(values []float64) float64 {
	slices.Sort(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

func meanSD(window []float64) (mean, sd float64) {
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))
	for _, v := range window {
		sd += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sd / float64(len(window)))
}

func bin(mean float64) int {
	for i, edge := range binEdges {
		if mean < edge {
			return i
		}
	}
	return len(binEdges)
}

// phred maps the spread of a window to a quality character: a tight
// window is a confident call.
func phred(sd float64) byte {
	q := int(math.Round(maxQuality - 40*sd))
	q = min(max(q, minQuality), maxQuality)
	return byte('!' + q)
}
