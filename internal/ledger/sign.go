package ledger

import (
	"context"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/stellar"
	"github.com/rs/zerolog/log"
)

// Sign asks the device to sign tx at the session path and appends the
// decorated signature to tx. It waits for any in-flight device command
// first. The device waits for user confirmation, so only ctx bounds the
// command. Device failures are returned as is; signing is never retried here.
func (c *Controller) Sign(ctx context.Context, tx stellar.Transaction) error {
	c.mu.Lock()
	publicKey, path, app, busy := c.sess.publicKey, c.sess.path, c.sess.app, c.sess.busy
	c.mu.Unlock()
	if publicKey == "" || app == nil || busy == nil {
		return ErrNoActiveSession
	}

	payload, err := tx.SignatureBase()
	if err != nil {
		return err
	}

	start := c.clock.Now()
	if err := c.waitDevice(ctx, busy, device.OpSignTransaction, nil); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("waiting for ledger signature")
	signature, err := app.SignTransaction(ctx, path, payload)
	busy.release()
	if err != nil {
		observability.RecordLedgerSign("error", c.clock.Since(start))
		log.Warn().Str("path", path).Err(err).Msg("ledger signing failed")
		return err
	}

	hint, err := c.hinter(publicKey)
	if err != nil {
		observability.RecordLedgerSign("error", c.clock.Since(start))
		return err
	}
	tx.AddSignature(stellar.Decorate(hint, signature))
	observability.RecordLedgerSign("signed", c.clock.Since(start))
	log.Info().Str("path", path).Str("hint", hint.String()).Msg("ledger transaction signed")
	return nil
}
