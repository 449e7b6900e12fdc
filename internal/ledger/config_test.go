package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
)

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{HeartbeatInterval: time.Second, CommandTimeout: -1}.WithDefaults()
	if cfg.HeartbeatInterval != time.Second {
		t.Fatalf("explicit heartbeat overwritten: %v", cfg.HeartbeatInterval)
	}
	if cfg.Retry.InitialDelay != time.Second || cfg.Retry.Multiplier != 1.0 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.DeviceWaitInterval != 100*time.Millisecond {
		t.Fatalf("device wait got=%v", cfg.DeviceWaitInterval)
	}
	if cfg.CommandTimeout != -1 || cfg.TransportPolicy != TransportReuse {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestConfigDefaultsBoundDeviceCommands(t *testing.T) {
	testlog.Start(t)
	if got := DefaultConfig().CommandTimeout; got <= 0 {
		t.Fatalf("default command timeout must be finite, got=%v", got)
	}
	if got := (Config{}).WithDefaults().CommandTimeout; got != 10*time.Second {
		t.Fatalf("zero command timeout got=%v", got)
	}
}

func TestConfigValidateRejectsUnknownPolicy(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TransportPolicy = "sometimes"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Retry.MaxDelay = time.Millisecond
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for max delay, got %v", err)
	}
}
