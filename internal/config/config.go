package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ledgerctl/internal/ledger"
	"github.com/danmuck/ledgerctl/internal/stellar"
)

// Config is the full ledgerctl process configuration.
type Config struct {
	Account           ledger.Account
	Ledger            ledger.Config
	AdminAddr         string
	AdminToken        string
	CorsOrigins       []string
	NetworkPassphrase string
	DeviceSeed        string
	AutoConnect       bool
}

func Default() Config {
	return Config{
		Ledger:            ledger.DefaultConfig(),
		AdminAddr:         ":9400",
		CorsOrigins:       []string{"http://localhost:3000"},
		NetworkPassphrase: stellar.TestNetworkPassphrase,
		DeviceSeed:        "ledgerctl-sim",
		AutoConnect:       true,
	}
}

type fileConfig struct {
	Account            int64    `toml:"account"`
	Index              int64    `toml:"index"`
	Internal           bool     `toml:"internal"`
	RetryInterval      string   `toml:"retry_interval"`
	RetryMultiplier    float64  `toml:"retry_multiplier"`
	RetryMaxInterval   string   `toml:"retry_max_interval"`
	HeartbeatInterval  string   `toml:"heartbeat_interval"`
	DeviceWaitInterval string   `toml:"device_wait_interval"`
	CommandTimeout     string   `toml:"command_timeout"`
	TransportPolicy    string   `toml:"transport_policy"`
	AdminAddr          string   `toml:"admin_addr"`
	AdminToken         string   `toml:"admin_token"`
	CorsOrigins        []string `toml:"cors_origins"`
	NetworkPassphrase  string   `toml:"network_passphrase"`
	DeviceSeed         string   `toml:"device_seed"`
	AutoConnect        bool     `toml:"auto_connect"`
}

// Load reads path over Default. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load ledgerctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ledger.ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("account") {
		n, err := pathComponent("account", raw.Account)
		if err != nil {
			return Config{}, err
		}
		cfg.Account.Number = n
	}

	if meta.IsDefined("index") {
		n, err := pathComponent("index", raw.Index)
		if err != nil {
			return Config{}, err
		}
		cfg.Account.Index = n
	}

	if meta.IsDefined("internal") {
		cfg.Account.Internal = raw.Internal
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"retry_interval", raw.RetryInterval, &cfg.Ledger.Retry.InitialDelay},
		{"retry_max_interval", raw.RetryMaxInterval, &cfg.Ledger.Retry.MaxDelay},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Ledger.HeartbeatInterval},
		{"device_wait_interval", raw.DeviceWaitInterval, &cfg.Ledger.DeviceWaitInterval},
		{"command_timeout", raw.CommandTimeout, &cfg.Ledger.CommandTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if meta.IsDefined("retry_multiplier") {
		if raw.RetryMultiplier < 1 {
			return Config{}, fmt.Errorf("%w: retry_multiplier must be >= 1", ledger.ErrInvalidConfig)
		}
		cfg.Ledger.Retry.Multiplier = raw.RetryMultiplier
	}

	if meta.IsDefined("transport_policy") {
		cfg.Ledger.TransportPolicy = ledger.TransportPolicy(strings.ToLower(strings.TrimSpace(raw.TransportPolicy)))
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("network_passphrase") {
		cfg.NetworkPassphrase = strings.TrimSpace(raw.NetworkPassphrase)
	}

	if meta.IsDefined("device_seed") {
		cfg.DeviceSeed = raw.DeviceSeed
	}

	if meta.IsDefined("auto_connect") {
		cfg.AutoConnect = raw.AutoConnect
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if c.AdminAddr == "" {
		return fmt.Errorf("%w: admin_addr is required", ledger.ErrInvalidConfig)
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("%w: network_passphrase is required", ledger.ErrInvalidConfig)
	}
	return nil
}

func pathComponent(key string, v int64) (uint32, error) {
	// Hardened components carry the top bit, so the raw value stays below it.
	if v < 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s out of range: %d", ledger.ErrInvalidConfig, key, v)
	}
	return uint32(v), nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ledger.ErrInvalidConfig, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ledger.ErrInvalidConfig, key)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
