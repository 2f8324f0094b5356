package lifecycle

import "time"

const (
	defaultName           = "ReadFish"
	defaultReleaseTimeout = 10 * time.Second
)

// Config holds the parameters of one managed session.
type Config struct {
	FirstChannel   int           // First streamed channel, inclusive.
	LastChannel    int           // Last streamed channel, inclusive.
	Name           string        // Prefix of every operator notification.
	StartMessage   string        // Sent at WARN once streaming has started.
	ReleaseTimeout time.Duration // Bound on the final notification and release.
}

// DefaultConfig returns a configuration streaming channels 1-512.
func DefaultConfig() Config {
	return Config{
		FirstChannel:   1,
		LastChannel:    512,
		Name:           defaultName,
		ReleaseTimeout: defaultReleaseTimeout,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.FirstChannel > 0 {
		c.FirstChannel = source.FirstChannel
	}
	if source.LastChannel > 0 {
		c.LastChannel = source.LastChannel
	}
	if source.Name != "" {
		c.Name = source.Name
	}
	if source.StartMessage != "" {
		c.StartMessage = source.StartMessage
	}
	if source.ReleaseTimeout > 0 {
		c.ReleaseTimeout = source.ReleaseTimeout
	}
}
