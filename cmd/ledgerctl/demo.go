package main

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/danmuck/ledgerctl/internal/ledger"
	"github.com/danmuck/ledgerctl/internal/stellar"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/xdr"
)

const demoRetryDelay = 5 * time.Second

// demoSession is the part of ledger.Controller the demo drives.
type demoSession interface {
	ConnectAccount(ctx context.Context, acct ledger.Account) error
	Disconnect()
	Sign(ctx context.Context, tx stellar.Transaction) error
	Snapshot() ledger.Session
}

// runDemo repeats connect, sign, disconnect until one round succeeds or ctx
// ends.
func runDemo(ctx context.Context, ctl demoSession, cfg config.Config, clock clockwork.Clock) error {
	for {
		err := demoRound(ctx, ctl, cfg)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		log.Error().
			Err(err).
			Str("class", ledger.Classify(err).String()).
			Dur("retry_in", demoRetryDelay).
			Msg("demo round failed")

		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(demoRetryDelay):
		}
	}
}

func demoRound(ctx context.Context, ctl demoSession, cfg config.Config) error {
	defer ctl.Disconnect()

	if err := ctl.ConnectAccount(ctx, cfg.Account); err != nil {
		return err
	}
	snap := ctl.Snapshot()
	tx, err := demoTransaction(snap.PublicKey)
	if err != nil {
		return err
	}
	env, err := stellar.NewEnvelope(cfg.NetworkPassphrase, tx)
	if err != nil {
		return err
	}
	if err := ctl.Sign(ctx, env); err != nil {
		return err
	}

	sig := env.Signatures[len(env.Signatures)-1]
	log.Info().
		Str("path", snap.Path).
		Str("public_key", snap.PublicKey).
		Str("hint", stellar.HintOf(sig).String()).
		Str("signature", base64.StdEncoding.EncodeToString(sig.Signature)).
		Msg("demo transaction signed")
	return nil
}

// demoTransaction is a no-op bump_sequence from the device account.
func demoTransaction(source string) (xdr.Transaction, error) {
	var account xdr.MuxedAccount
	if err := account.SetAddress(source); err != nil {
		return xdr.Transaction{}, err
	}
	return xdr.Transaction{
		SourceAccount: account,
		Fee:           100,
		SeqNum:        1,
		Operations: []xdr.Operation{{
			Body: xdr.OperationBody{
				Type:           xdr.OperationTypeBumpSequence,
				BumpSequenceOp: &xdr.BumpSequenceOp{BumpTo: 0},
			},
		}},
	}, nil
}
