package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/ledgerctl/internal/admin"
	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/danmuck/ledgerctl/internal/device/sim"
	"github.com/danmuck/ledgerctl/internal/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// run blocks until SIGINT/SIGTERM, or until the demo finishes.
func run(cfg config.Config, demo bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev := sim.New(sim.Options{Seed: cfg.DeviceSeed, MultiOpsEnabled: true})
	ctl := ledger.New(dev, dev.NewApplication, cfg.Ledger)
	defer ctl.Disconnect()

	if demo {
		return runDemo(ctx, ctl, cfg, clockwork.NewRealClock())
	}

	if cfg.AutoConnect {
		go func() {
			if err := ctl.ConnectAccount(ctx, cfg.Account); err != nil && ctx.Err() == nil {
				log.Error().
					Err(err).
					Str("class", ledger.Classify(err).String()).
					Msg("auto connect failed")
			}
		}()
	}

	srv := admin.New("ledgerctl", cfg.AdminAddr, ctl, admin.Options{
		CorsOrigins:       cfg.CorsOrigins,
		NetworkPassphrase: cfg.NetworkPassphrase,
		Token:             cfg.AdminToken,
	})
	err := srv.Serve(ctx)
	log.Info().Msg("ledgerctl shutdown")
	return err
}
