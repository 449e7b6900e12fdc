package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Template renders cfg as a ledgerctl config file.
func Template(cfg Config) ([]byte, error) {
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return out, nil
}

// WriteTemplate writes the default config to path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(Default())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}

func toFile(cfg Config) fileConfig {
	l := cfg.Ledger.WithDefaults()
	return fileConfig{
		Account:            int64(cfg.Account.Number),
		Index:              int64(cfg.Account.Index),
		Internal:           cfg.Account.Internal,
		RetryInterval:      l.Retry.InitialDelay.String(),
		RetryMultiplier:    l.Retry.Multiplier,
		RetryMaxInterval:   l.Retry.MaxDelay.String(),
		HeartbeatInterval:  l.HeartbeatInterval.String(),
		DeviceWaitInterval: l.DeviceWaitInterval.String(),
		CommandTimeout:     l.CommandTimeout.String(),
		TransportPolicy:    string(l.TransportPolicy),
		AdminAddr:          cfg.AdminAddr,
		AdminToken:         cfg.AdminToken,
		CorsOrigins:        cfg.CorsOrigins,
		NetworkPassphrase:  cfg.NetworkPassphrase,
		DeviceSeed:         cfg.DeviceSeed,
		AutoConnect:        cfg.AutoConnect,
	}
}
