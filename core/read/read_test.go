package read_test

import (
	"errors"
	"testing"

	"github.com/tailored-agentic-units/readfish/core/read"
)

func TestEncoding_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		encoding read.Encoding
		samples  []float32
	}{
		{name: "int16", encoding: read.EncodingInt16, samples: []float32{0, 1, -1, 512, -32768, 32767}},
		{name: "float32", encoding: read.EncodingFloat32, samples: []float32{0, 0.5, -12.25, 1e6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.encoding.Encode(tt.samples)
			if len(raw) != len(tt.samples)*tt.encoding.Width() {
				t.Fatalf("got %d bytes, want %d", len(raw), len(tt.samples)*tt.encoding.Width())
			}

			got, err := tt.encoding.Samples(raw)
			if err != nil {
				t.Fatalf("Samples failed: %v", err)
			}
			for i := range tt.samples {
				if got[i] != tt.samples[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.samples[i])
				}
			}
		})
	}
}

func TestEncoding_Int16Clamps(t *testing.T) {
	raw := read.EncodingInt16.Encode([]float32{40000, -40000, 1.6})
	got, err := read.EncodingInt16.Samples(raw)
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}

	want := []float32{32767, -32768, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEncoding_Errors(t *testing.T) {
	if _, err := read.Encoding("uint8").Samples([]byte{1}); !errors.Is(err, read.ErrUnknownEncoding) {
		t.Errorf("got error %v, want ErrUnknownEncoding", err)
	}
	if _, err := read.EncodingInt16.Samples([]byte{1, 2, 3}); !errors.Is(err, read.ErrTruncatedSignal) {
		t.Errorf("got error %v, want ErrTruncatedSignal", err)
	}
	if read.Encoding("").Valid() {
		t.Error("empty encoding reported valid")
	}
}

func TestBatch_IDs(t *testing.T) {
	batch := read.Batch{
		{Channel: 2, Number: 7, ID: "b"},
		{Channel: 1, Number: 3, ID: "a"},
	}

	ids := batch.IDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Errorf("got %v, want [b a] in retrieval order", ids)
	}

	if got := batch[0].Key(); got != (read.Key{Channel: 2, Number: 7}) {
		t.Errorf("got key %+v, want {2 7}", got)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		severity read.Severity
		want     string
	}{
		{read.SeverityInfo, "INFO"},
		{read.SeverityWarn, "WARN"},
		{read.SeverityError, "ERROR"},
		{read.Severity(0), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.severity, got, tt.want)
		}
		if tt.want != "UNKNOWN" && read.ParseSeverity(tt.want) != tt.severity {
			t.Errorf("ParseSeverity(%q) = %v, want %v", tt.want, read.ParseSeverity(tt.want), tt.severity)
		}
	}
}
