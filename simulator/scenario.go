// Package simulator is an in-process sequencing position. It produces
// synthetic raw signal for a range of channels, answers read-until control
// commands, and stops running after a configured duration, so the decision
// loop can be exercised end to end without hardware.
package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/readfish/core/read"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario describes what the simulated position produces.
type Scenario struct {
	// Name seeds read identifiers so runs of the same scenario are
	// reproducible.
	Name string `yaml:"name"`

	// Channels is the number of channels on the simulated flow cell.
	Channels int `yaml:"channels"`

	// ChunkInterval is the time between chunk rounds across all channels.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// SamplesPerChunk is the signal length of every chunk.
	SamplesPerChunk int `yaml:"samples_per_chunk"`

	// ChunksPerRead is the natural length of a read, in chunks, when it is
	// not unblocked.
	ChunksPerRead int `yaml:"chunks_per_read"`

	// Encoding of the raw signal.
	Encoding read.Encoding `yaml:"encoding"`

	// RunFor is how long the position runs after streaming starts. Zero
	// runs until reset.
	RunFor time.Duration `yaml:"run_for,omitempty"`

	// CacheSize bounds the device-side read cache, in channels.
	CacheSize int `yaml:"cache_size"`

	// Seed drives the signal generator.
	Seed uint64 `yaml:"seed,omitempty"`
}

// DefaultScenario returns a 512 channel flow cell producing 0.4 s chunks at
// 4 kHz.
func DefaultScenario() Scenario {
	return Scenario{
		Name:            "default",
		Channels:        512,
		ChunkInterval:   400 * time.Millisecond,
		SamplesPerChunk: 1600,
		ChunksPerRead:   20,
		Encoding:        read.EncodingInt16,
		CacheSize:       512,
		Seed:            1,
	}
}

// LoadScenario reads a YAML scenario file. Fields not present in the file
// keep their defaults; unknown fields are rejected.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario over DefaultScenario.
func ParseScenario(data []byte) (Scenario, error) {
	sc := DefaultScenario()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks that the scenario can produce signal.
func (s *Scenario) Validate() error {
	switch {
	case s.Channels < 1:
		return fmt.Errorf("%w: channels must be positive", ErrInvalidScenario)
	case s.SamplesPerChunk < 1:
		return fmt.Errorf("%w: samples_per_chunk must be positive", ErrInvalidScenario)
	case s.ChunksPerRead < 1:
		return fmt.Errorf("%w: chunks_per_read must be positive", ErrInvalidScenario)
	case !s.Encoding.Valid():
		return fmt.Errorf("%w: encoding %q", ErrInvalidScenario, string(s.Encoding))
	case s.ChunkInterval <= 0:
		return fmt.Errorf("%w: chunk_interval must be positive", ErrInvalidScenario)
	case s.RunFor < 0:
		return fmt.Errorf("%w: run_for must not be negative", ErrInvalidScenario)
	}
	return nil
}
