package ledger

import (
	"fmt"
	"time"
)

// TransportPolicy selects when the handshake loop opens a new transport.
type TransportPolicy string

const (
	// TransportReuse keeps one handle across retries and reopens only after
	// a failure that shows the handle is gone.
	TransportReuse TransportPolicy = "reuse"
	// TransportReopen opens a fresh handle on every handshake iteration.
	TransportReopen TransportPolicy = "reopen"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session timing and transport handling.
type Config struct {
	Retry              BackoffConfig
	HeartbeatInterval  time.Duration
	DeviceWaitInterval time.Duration
	// CommandTimeout bounds public key and configuration commands. Zero takes
	// the default; a negative value leaves them unbounded. Signing waits for
	// the user and is bounded by the caller's context only.
	CommandTimeout  time.Duration
	TransportPolicy TransportPolicy
}

// DefaultConfig returns a fixed 1s retry, 500ms heartbeat, 100ms device wait
// and 10s command timeout.
func DefaultConfig() Config {
	return Config{
		Retry: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   1.0,
		},
		HeartbeatInterval:  500 * time.Millisecond,
		DeviceWaitInterval: 100 * time.Millisecond,
		CommandTimeout:     10 * time.Second,
		TransportPolicy:    TransportReuse,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = def.Retry.InitialDelay
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.DeviceWaitInterval <= 0 {
		c.DeviceWaitInterval = def.DeviceWaitInterval
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.TransportPolicy == "" {
		c.TransportPolicy = def.TransportPolicy
	}
	return c
}

func (c Config) Validate() error {
	switch c.TransportPolicy {
	case TransportReuse, TransportReopen:
	default:
		return fmt.Errorf("%w: transport_policy %q", ErrInvalidConfig, c.TransportPolicy)
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("%w: retry max delay below initial delay", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.DeviceWaitInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	return nil
}
