package instrument

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	defaultHost      = "127.0.0.1"
	defaultPort      = 8000
	defaultFirst     = 1
	defaultLast      = 512
	defaultCacheSize = 512
	defaultTimeout   = 5.0
)

// Config holds session acquisition parameters.
type Config struct {
	Device    string  `json:"device,omitempty" mapstructure:"device" toml:"device"`             // Flow cell position name.
	Host      string  `json:"host,omitempty" mapstructure:"host" toml:"host"`                   // RPC host of the position.
	Port      int     `json:"port,omitempty" mapstructure:"port" toml:"port"`                   // RPC port of the position.
	Channels  []int   `json:"channels,omitempty" mapstructure:"channels" toml:"channels"`       // First and last channel, inclusive.
	CacheSize int     `json:"cache_size,omitempty" mapstructure:"cache_size" toml:"cache_size"` // Read cache capacity in channels.
	Timeout   float64 `json:"timeout,omitempty" mapstructure:"timeout" toml:"timeout"`          // Per-call RPC timeout in seconds.
}

// DefaultConfig returns the configuration for a local position streaming
// channels 1-512.
func DefaultConfig() Config {
	return Config{
		Host:      defaultHost,
		Port:      defaultPort,
		Channels:  []int{defaultFirst, defaultLast},
		CacheSize: defaultCacheSize,
		Timeout:   defaultTimeout,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Device != "" {
		c.Device = source.Device
	}
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.Port > 0 {
		c.Port = source.Port
	}
	if len(source.Channels) > 0 {
		c.Channels = append([]int(nil), source.Channels...)
	}
	if source.CacheSize > 0 {
		c.CacheSize = source.CacheSize
	}
	if source.Timeout > 0 {
		c.Timeout = source.Timeout
	}
}

// Range returns the first and last channel. A single value streams one
// channel.
func (c *Config) Range() (first, last int, err error) {
	switch len(c.Channels) {
	case 1:
		return c.Channels[0], c.Channels[0], nil
	case 2:
		first, last = c.Channels[0], c.Channels[1]
	default:
		return 0, 0, fmt.Errorf("%w: want [first, last], got %v", ErrChannelRange, c.Channels)
	}
	if first < 1 || last < first {
		return 0, 0, fmt.Errorf("%w: %d-%d", ErrChannelRange, first, last)
	}
	return first, last, nil
}

// CallTimeout returns the per-call timeout, falling back to the default
// when unset.
func (c *Config) CallTimeout() time.Duration {
	if c.Timeout <= 0 {
		return seconds(defaultTimeout)
	}
	return seconds(c.Timeout)
}

// Address returns the base URL of the position's RPC endpoint.
func (c *Config) Address() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
