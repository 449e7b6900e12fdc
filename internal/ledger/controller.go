package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/stellar"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Hinter derives the signature hint for a session public key.
type Hinter func(publicKey string) (stellar.SignatureHint, error)

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

func WithHinter(h Hinter) Option {
	return func(c *Controller) {
		if h != nil {
			c.hinter = h
		}
	}
}

// Controller owns the single device session of a process.
type Controller struct {
	cfg    Config
	opener device.Opener
	apps   device.AppFactory
	clock  clockwork.Clock
	hinter Hinter

	mu            sync.Mutex
	sess          session
	lastAccount   Account
	lastErr       error
	epoch         uint64
	nextGen       uint64
	attempt       *attempt
	disconnecting chan struct{}
	heartbeat     *heartbeat
	observer      Observer
}

// attempt is one handshake retry loop shared by every concurrent caller.
type attempt struct {
	epoch    uint64
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	err      error
}

func (a *attempt) abort() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func New(opener device.Opener, apps device.AppFactory, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg.WithDefaults(),
		opener: opener,
		apps:   apps,
		clock:  clockwork.NewRealClock(),
		hinter: stellar.HintForAddress,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver replaces the registered observer. Nil removes it.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Snapshot returns a copy of the session fields.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	s := c.sess
	lastErr := c.lastErr
	c.mu.Unlock()

	out := Session{
		Path:            s.path,
		PublicKey:       s.publicKey,
		Version:         s.version,
		MultiOpsEnabled: s.multiOps,
		LastError:       lastErr,
	}
	if s.bound {
		out.Account = s.account
	}
	if s.transport != nil {
		out.Connectivity = s.transport.Connectivity()
	}
	return out
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.publicKey != ""
}

// Connect connects to the account of the current or pending session. After
// Disconnect, or when no account was used yet, it connects to account 0.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	acct := c.lastAccount
	c.mu.Unlock()
	return c.ConnectAccount(ctx, acct)
}

// ConnectAccount returns once the device reported a public key for acct's
// path. Concurrent callers share one handshake. ctx only bounds the wait:
// the handshake keeps retrying until it succeeds, fails fatally, is
// superseded by another path or is stopped by Disconnect.
func (c *Controller) ConnectAccount(ctx context.Context, acct Account) error {
	if err := c.lockAfterDisconnect(ctx); err != nil {
		return err
	}
	path := acct.Path()
	c.lastAccount = acct
	if !c.sess.bound || c.sess.path != path {
		c.retargetLocked(acct, path)
	}
	a := c.attempt
	if a == nil {
		if c.sess.publicKey != "" {
			c.mu.Unlock()
			return nil
		}
		a = c.startAttemptLocked()
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockAfterDisconnect waits out any teardown in progress and returns with
// c.mu held.
func (c *Controller) lockAfterDisconnect(ctx context.Context) error {
	for {
		c.mu.Lock()
		done := c.disconnecting
		if done == nil {
			return nil
		}
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) retargetLocked(acct Account, path string) {
	if c.sess.bound {
		log.Info().
			Str("from", c.sess.path).
			Str("to", path).
			Msg("ledger path changed")
	}
	if c.attempt != nil {
		c.attempt.abort()
		c.attempt = nil
	}
	c.stopHeartbeatLocked()
	c.epoch++
	if c.sess.publicKey != "" {
		observability.SetLedgerConnected(false)
	}
	c.sess.detachApplication()
	c.sess.bound = true
	c.sess.account = acct
	c.sess.path = path
}

func (c *Controller) startAttemptLocked() *attempt {
	a := &attempt{
		epoch: c.epoch,
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
	c.attempt = a
	c.lastErr = nil
	go c.handshake(a)
	return a
}

func (c *Controller) handshake(a *attempt) {
	err := c.runHandshake(a)
	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
	}
	c.mu.Unlock()
	a.err = err
	close(a.done)
}

func (c *Controller) runHandshake(a *attempt) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for n := 1; ; n++ {
		path := c.currentPath(a)
		if path == "" {
			return fmt.Errorf("%w: session reset", ErrConnectAborted)
		}
		log.Info().Int("attempt", n).Str("path", path).Msg("attempting ledger connection")

		err := c.tryHandshake(a, path)
		if err == nil {
			observability.RecordLedgerConnectAttempt("connected")
			return nil
		}
		if errors.Is(err, errStaleAttempt) {
			return fmt.Errorf("%w: %v", ErrConnectAborted, err)
		}

		class := Classify(err)
		observability.RecordLedgerConnectAttempt(class.String())
		if !c.recordFailure(a, err) {
			return fmt.Errorf("%w: %v", ErrConnectAborted, errStaleAttempt)
		}
		if class == ClassTransportUnsupported {
			log.Error().Err(err).Str("path", path).Msg("ledger transport unsupported")
			if errors.Is(err, ErrTransportUnsupported) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrTransportUnsupported, err)
		}
		log.Warn().
			Int("attempt", n).
			Str("path", path).
			Str("class", class.String()).
			Err(err).
			Msg("ledger handshake failed")

		delay := NextBackoffDelay(c.cfg.Retry, n, rng)
		select {
		case <-a.stop:
			return fmt.Errorf("%w: %v", ErrConnectAborted, errStaleAttempt)
		case <-c.clock.After(delay):
		}
	}
}

// currentPath returns the target path while a is still the live attempt.
func (c *Controller) currentPath(a *attempt) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != a.epoch || !c.sess.bound {
		return ""
	}
	return c.sess.path
}

func (c *Controller) recordFailure(a *attempt, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != a.epoch {
		return false
	}
	c.lastErr = err
	return true
}

// tryHandshake runs one iteration: transport, application, public key.
func (c *Controller) tryHandshake(a *attempt, path string) error {
	ctx := context.Background()

	c.mu.Lock()
	if c.epoch != a.epoch {
		c.mu.Unlock()
		return errStaleAttempt
	}
	transport, tgen, busy := c.sess.transport, c.sess.transportGen, c.sess.busy
	app, agen := c.sess.app, c.sess.appGen
	c.mu.Unlock()

	if transport == nil || c.cfg.TransportPolicy == TransportReopen {
		var err error
		transport, tgen, busy, err = c.openTransport(ctx, a)
		if err != nil {
			return err
		}
		app = nil
	}

	if app == nil {
		created, err := c.apps(transport)
		if err != nil {
			c.dropTransportIf(a, tgen, err)
			return err
		}
		c.mu.Lock()
		if c.epoch != a.epoch {
			c.mu.Unlock()
			return errStaleAttempt
		}
		c.nextGen++
		c.sess.app = created
		c.sess.appGen = c.nextGen
		app, agen = created, c.nextGen
		c.mu.Unlock()
	}

	if err := c.waitDevice(ctx, busy, device.OpGetPublicKey, a.stop); err != nil {
		return err
	}
	cmdCtx, cancel := c.commandContext(ctx)
	res, err := app.PublicKey(cmdCtx, path)
	cancel()
	busy.release()
	if err != nil {
		c.dropTransportIf(a, tgen, err)
		return err
	}

	c.mu.Lock()
	if c.epoch != a.epoch || c.sess.appGen != agen {
		c.mu.Unlock()
		return errStaleAttempt
	}
	c.sess.publicKey = res.PublicKey
	c.mu.Unlock()

	return c.onConnected(a, app, agen, busy)
}

// openTransport installs a fresh transport with its own device gate.
func (c *Controller) openTransport(ctx context.Context, a *attempt) (device.Transport, uint64, *gate, error) {
	fresh, err := c.opener.Open(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	c.mu.Lock()
	if c.epoch != a.epoch {
		c.mu.Unlock()
		c.closeTransport(fresh)
		return nil, 0, nil, errStaleAttempt
	}
	old := c.sess.transport
	c.nextGen++
	busy := newGate()
	c.sess.transport = fresh
	c.sess.transportGen = c.nextGen
	c.sess.busy = busy
	c.sess.app = nil
	c.sess.appGen = 0
	gen := c.nextGen
	c.mu.Unlock()

	if old != nil {
		c.closeTransport(old)
	}
	return fresh, gen, busy, nil
}

// dropTransportIf closes the session transport when err shows it is gone
// and it is still the handle this attempt used.
func (c *Controller) dropTransportIf(a *attempt, tgen uint64, err error) {
	if !transportGone(err) {
		return
	}
	c.mu.Lock()
	if c.epoch != a.epoch || c.sess.transportGen != tgen || c.sess.transport == nil {
		c.mu.Unlock()
		return
	}
	old := c.sess.transport
	c.sess.transport = nil
	c.sess.transportGen = 0
	c.sess.busy = nil
	c.sess.app = nil
	c.sess.appGen = 0
	c.mu.Unlock()
	c.closeTransport(old)
}

// onConnected refreshes capabilities, notifies the observer and starts the
// heartbeat for this application.
func (c *Controller) onConnected(a *attempt, app device.Application, gen uint64, busy *gate) error {
	c.refreshCapabilities(context.Background(), busy, gen, app, a.stop)

	c.mu.Lock()
	if c.epoch != a.epoch || c.sess.appGen != gen {
		c.mu.Unlock()
		return errStaleAttempt
	}
	snap := c.sess
	obs := c.observer
	c.mu.Unlock()

	log.Info().
		Str("path", snap.path).
		Str("public_key", snap.publicKey).
		Str("version", snap.version).
		Bool("multi_ops", snap.multiOps).
		Msg("ledger connected")
	observability.SetLedgerConnected(true)
	if obs != nil {
		obs.Connected(c.Snapshot())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != a.epoch || c.sess.appGen != gen {
		return errStaleAttempt
	}
	c.startHeartbeatLocked(gen, app, busy)
	return nil
}

// refreshCapabilities queries the app configuration through the device gate
// and reports whether the device answered.
func (c *Controller) refreshCapabilities(ctx context.Context, busy *gate, gen uint64, app device.Application, stop <-chan struct{}) bool {
	if err := c.waitDevice(ctx, busy, device.OpGetAppConfig, stop); err != nil {
		return false
	}
	return c.queryCapabilities(ctx, busy, gen, app)
}

// queryCapabilities issues the configuration command. The caller holds busy;
// it is released here.
func (c *Controller) queryCapabilities(ctx context.Context, busy *gate, gen uint64, app device.Application) bool {
	cmdCtx, cancel := c.commandContext(ctx)
	cfg, err := app.AppConfiguration(cmdCtx)
	cancel()
	busy.release()
	if err != nil {
		alive := busySigning(err)
		log.Debug().Err(err).Bool("alive", alive).Msg("ledger app configuration failed")
		return alive
	}
	c.mu.Lock()
	if c.sess.appGen == gen {
		c.sess.version = cfg.Version
		c.sess.multiOps = cfg.MultiOpsEnabled
	}
	c.mu.Unlock()
	return true
}

func (c *Controller) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

// Disconnect stops polling, closes the transport and fires the disconnected
// notification, then returns. Close failures are logged, never returned.
func (c *Controller) Disconnect() {
	c.disconnect("requested")
}

func (c *Controller) disconnect(reason string) {
	c.mu.Lock()
	c.teardownLocked(reason)
}

// disconnectApp tears down only while the session still uses the
// application handle gen.
func (c *Controller) disconnectApp(gen uint64, reason string) bool {
	c.mu.Lock()
	if gen == 0 || c.sess.appGen != gen {
		c.mu.Unlock()
		return false
	}
	c.teardownLocked(reason)
	return true
}

// teardownLocked is entered with c.mu held and releases it.
func (c *Controller) teardownLocked(reason string) {
	c.stopHeartbeatLocked()
	if c.attempt != nil {
		c.attempt.abort()
		c.attempt = nil
	}
	c.epoch++
	transport := c.sess.transport
	c.sess = session{}
	c.lastAccount = Account{}
	observability.SetLedgerConnected(false)

	if transport == nil {
		pending := c.disconnecting
		c.mu.Unlock()
		if pending != nil {
			<-pending
		}
		return
	}
	done := make(chan struct{})
	c.disconnecting = done
	obs := c.observer
	c.mu.Unlock()

	c.closeTransport(transport)
	log.Info().Str("reason", reason).Msg("ledger disconnected")
	observability.RecordLedgerDisconnect(reason)
	if obs != nil {
		obs.Disconnected()
	}

	c.mu.Lock()
	if c.disconnecting == done {
		c.disconnecting = nil
	}
	c.mu.Unlock()
	close(done)
}

func (c *Controller) closeTransport(t device.Transport) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("class", ClassTeardownFailure.String()).
				Interface("panic", r).
				Msg("ledger transport close panicked")
		}
	}()
	if err := t.Close(); err != nil {
		log.Error().
			Str("class", ClassTeardownFailure.String()).
			Err(fmt.Errorf("%w: %w", ErrTeardown, err)).
			Msg("ledger transport close failed")
	}
}
