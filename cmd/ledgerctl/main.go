package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/ledgerctl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to ledgerctl config")
	demo := flag.Bool("demo", false, "connect, sign a sample transaction, then disconnect")
	flag.Parse()

	observability.InitLogger("ledgerctl")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load ledgerctl config")
	}

	if err := run(cfg, *demo); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults only when the default path is absent.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		log.Info().Str("path", path).Msg("loaded ledgerctl config")
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Info().Msg("no config file, using defaults")
		return config.Default(), nil
	}
	return config.Config{}, err
}
