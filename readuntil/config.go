package readuntil

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/tailored-agentic-units/readfish/classifier"
	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/ledger"
	"github.com/tailored-agentic-units/readfish/policy"
)

const (
	defaultRunTime         = 172800.0
	defaultBatchSize       = 512
	defaultThrottle        = 0.1
	defaultUnblockDuration = 0.1

	// EnvPrefix prefixes environment overrides, e.g. READFISH_BATCH_SIZE or
	// READFISH_INSTRUMENT_PORT.
	EnvPrefix = "READFISH"
)

//go:embed schema.cue
var schemaSource string

// Config holds the parameters of one read-until run. Durations are in
// seconds. Subsystem sections delegate to their own DefaultConfig and Merge.
type Config struct {
	RunTime         float64           `json:"run_time,omitempty" mapstructure:"run_time" toml:"run_time"`                         // Run duration.
	BatchSize       int               `json:"batch_size,omitempty" mapstructure:"batch_size" toml:"batch_size"`                   // Chunks requested per cycle.
	Throttle        float64           `json:"throttle,omitempty" mapstructure:"throttle" toml:"throttle"`                         // Minimum interval between cycle starts.
	UnblockDuration float64           `json:"unblock_duration,omitempty" mapstructure:"unblock_duration" toml:"unblock_duration"` // Reject voltage duration.
	Policy          string            `json:"policy,omitempty" mapstructure:"policy" toml:"policy"`
	Classifier      string            `json:"classifier,omitempty" mapstructure:"classifier" toml:"classifier"`
	Watch           []int             `json:"watch,omitempty" mapstructure:"watch" toml:"watch,omitempty"` // Channels the observe policy reports at INFO.
	Instrument      instrument.Config `json:"instrument" mapstructure:"instrument" toml:"instrument"`
	Ledger          ledger.Config     `json:"ledger" mapstructure:"ledger" toml:"ledger"`
}

// DefaultConfig returns an unblock-all configuration with the standard
// read-until timings.
func DefaultConfig() Config {
	return Config{
		RunTime:         defaultRunTime,
		BatchSize:       defaultBatchSize,
		Throttle:        defaultThrottle,
		UnblockDuration: defaultUnblockDuration,
		Policy:          policy.NameUnblockAll,
		Classifier:      classifier.NamePassthrough,
		Instrument:      instrument.DefaultConfig(),
		Ledger:          ledger.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Instrument.Merge(&source.Instrument)
	c.Ledger.Merge(&source.Ledger)

	if source.RunTime > 0 {
		c.RunTime = source.RunTime
	}
	if source.BatchSize > 0 {
		c.BatchSize = source.BatchSize
	}
	if source.Throttle > 0 {
		c.Throttle = source.Throttle
	}
	if source.UnblockDuration > 0 {
		c.UnblockDuration = source.UnblockDuration
	}
	if source.Policy != "" {
		c.Policy = source.Policy
	}
	if source.Classifier != "" {
		c.Classifier = source.Classifier
	}
	if len(source.Watch) > 0 {
		c.Watch = append([]int(nil), source.Watch...)
	}
}

// RunDuration returns RunTime as a duration.
func (c *Config) RunDuration() time.Duration {
	return seconds(c.RunTime)
}

// ThrottleInterval returns Throttle as a duration.
func (c *Config) ThrottleInterval() time.Duration {
	return seconds(c.Throttle)
}

// UnblockFor returns UnblockDuration as a duration.
func (c *Config) UnblockFor() time.Duration {
	return seconds(c.UnblockDuration)
}

// Validate checks c against the embedded schema and resolves the named
// policy and classifier.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if _, _, err := c.Instrument.Range(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := classifier.New(c.Classifier); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := policy.New(c.Policy, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads a TOML, YAML or JSON file (by extension) over the
// defaults, then applies READFISH_ environment overrides. An empty path
// loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("run_time", d.RunTime)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("throttle", d.Throttle)
	v.SetDefault("unblock_duration", d.UnblockDuration)
	v.SetDefault("policy", d.Policy)
	v.SetDefault("classifier", d.Classifier)
	v.SetDefault("watch", d.Watch)

	v.SetDefault("instrument.device", d.Instrument.Device)
	v.SetDefault("instrument.host", d.Instrument.Host)
	v.SetDefault("instrument.port", d.Instrument.Port)
	v.SetDefault("instrument.channels", d.Instrument.Channels)
	v.SetDefault("instrument.cache_size", d.Instrument.CacheSize)
	v.SetDefault("instrument.timeout", d.Instrument.Timeout)

	v.SetDefault("ledger.path", d.Ledger.Path)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
