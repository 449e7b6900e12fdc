package sim

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/stellar/go/keypair"
)

var (
	ErrForeignTransport = errors.New("sim: transport not opened by this device")
	errTransportClosed  = errors.New("transport closed")
	errUnplugged        = errors.New("device unplugged")
)

// Options seeds a simulated device.
type Options struct {
	Seed            string
	Version         string
	MultiOpsEnabled bool
	CommandDelay    time.Duration
}

// Stats are running counters for assertions.
type Stats struct {
	Opens          int
	Closes         int
	OpenTransports int
	PublicKeyCalls int
	ConfigCalls    int
	SignCalls      int
	// MaxInFlight is the most commands seen running at once on one transport.
	MaxInFlight int
}

// Device is a simulated hardware wallet.
type Device struct {
	mu   sync.Mutex
	opts Options

	plugged        bool
	unsupported    bool
	reportsLink    bool
	failOpens      int
	failPublicKeys int
	declineSign    bool
	configErr      error
	holds          map[string]chan struct{}
	active         map[*Transport]string
	latest         string
	lastTransport  *Transport
	open           map[*Transport]struct{}
	stats          Stats
}

var _ device.Opener = (*Device)(nil)

func New(opts Options) *Device {
	if opts.Version == "" {
		opts.Version = "5.0.3"
	}
	return &Device{
		opts:        opts,
		plugged:     true,
		reportsLink: true,
		holds:       make(map[string]chan struct{}),
		active:      make(map[*Transport]string),
		open:        make(map[*Transport]struct{}),
	}
}

// Open implements device.Opener.
func (d *Device) Open(ctx context.Context) (device.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Opens++
	if d.unsupported {
		return nil, device.NewError(device.KindUnsupported, device.OpOpen, errors.New("no hid backend"))
	}
	if !d.plugged {
		return nil, device.NewError(device.KindDisconnected, device.OpOpen, errUnplugged)
	}
	if d.failOpens > 0 {
		d.failOpens--
		return nil, device.NewError(device.KindIO, device.OpOpen, errors.New("device busy in another process"))
	}
	t := &Transport{dev: d}
	d.open[t] = struct{}{}
	return t, nil
}

// NewApplication implements device.AppFactory.
func (d *Device) NewApplication(t device.Transport) (device.Application, error) {
	st, ok := t.(*Transport)
	if !ok || st.dev != d {
		return nil, device.NewError(device.KindAppNotOpen, device.OpCreateApplication, ErrForeignTransport)
	}
	return &Application{transport: st}, nil
}

// Address returns the account the device reports at path.
func (d *Device) Address(path string) string {
	return d.key(path).Address()
}

func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugged = false
}

func (d *Device) Plug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugged = true
}

// SetUnsupported makes every Open fail with device.KindUnsupported.
func (d *Device) SetUnsupported(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsupported = v
}

// SetLinkReporting toggles whether transports can tell they are disconnected.
// With reporting off they answer device.ConnectivityUnknown.
func (d *Device) SetLinkReporting(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reportsLink = v
}

func (d *Device) FailOpens(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpens = n
}

// FailPublicKeys makes the next n public key requests fail as if the
// Stellar app were closed.
func (d *Device) FailPublicKeys(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPublicKeys = n
}

func (d *Device) SetDeclineSign(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.declineSign = v
}

// SetConfigError makes app configuration queries fail with err until cleared.
func (d *Device) SetConfigError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configErr = err
}

func (d *Device) SetCommandDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.CommandDelay = delay
}

// Hold blocks commands named op after they start until release is called.
func (d *Device) Hold(op string) (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.holds[op] = ch
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.holds[op] == ch {
				delete(d.holds, op)
			}
			d.mu.Unlock()
			close(ch)
		})
	}
}

// StopHolding lets later op commands run straight through. Commands already
// held stay blocked until their release is called.
func (d *Device) StopHolding(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.holds, op)
}

// CurrentCommand names the most recently started command still in flight on
// any transport, or "" when idle.
func (d *Device) CurrentCommand() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[d.lastTransport]; ok {
		return d.latest
	}
	for _, op := range d.active {
		return op
	}
	return ""
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stats
	out.OpenTransports = len(d.open)
	return out
}

func (d *Device) key(path string) *keypair.Full {
	kp, err := keypair.FromRawSeed(sha256.Sum256([]byte(d.opts.Seed + "|" + path)))
	if err != nil {
		panic(err)
	}
	return kp
}

func (d *Device) run(ctx context.Context, t *Transport, op string, fn func() error) error {
	d.mu.Lock()
	switch {
	case t.closed:
		d.mu.Unlock()
		return device.NewError(device.KindDisconnected, op, errTransportClosed)
	case !d.plugged:
		d.mu.Unlock()
		return device.NewError(device.KindDisconnected, op, errUnplugged)
	case t.inFlight > 0:
		holder := t.currentOp
		d.mu.Unlock()
		return &device.Error{Kind: device.KindLocked, Op: op, Lock: holder}
	}
	t.inFlight++
	t.currentOp = op
	if t.inFlight > d.stats.MaxInFlight {
		d.stats.MaxInFlight = t.inFlight
	}
	d.active[t] = op
	d.latest = op
	d.lastTransport = t
	hold := d.holds[op]
	delay := d.opts.CommandDelay
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		t.inFlight--
		t.currentOp = ""
		delete(d.active, t)
		d.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return device.NewError(device.KindIO, op, ctx.Err())
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return device.NewError(device.KindIO, op, ctx.Err())
		}
	}

	d.mu.Lock()
	unplugged := !d.plugged || t.closed
	d.mu.Unlock()
	if unplugged {
		return device.NewError(device.KindDisconnected, op, errUnplugged)
	}
	return fn()
}

// Transport is one simulated HID handle. Each handle runs one command at a
// time.
type Transport struct {
	dev       *Device
	closed    bool
	inFlight  int
	currentOp string
}

func (t *Transport) Close() error {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	delete(d.open, t)
	d.stats.Closes++
	return nil
}

func (t *Transport) Connectivity() device.Connectivity {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reportsLink {
		return device.ConnectivityUnknown
	}
	if t.closed || !d.plugged {
		return device.Disconnected
	}
	return device.Connected
}

// Application is the simulated Stellar app.
type Application struct {
	transport *Transport
}

var _ device.Application = (*Application)(nil)

func (a *Application) PublicKey(ctx context.Context, path string) (device.PublicKey, error) {
	d := a.transport.dev
	var out device.PublicKey
	err := d.run(ctx, a.transport, device.OpGetPublicKey, func() error {
		d.mu.Lock()
		d.stats.PublicKeyCalls++
		failing := d.failPublicKeys > 0
		if failing {
			d.failPublicKeys--
		}
		d.mu.Unlock()
		if failing {
			return device.NewError(device.KindAppNotOpen, device.OpGetPublicKey, errors.New("stellar app not open"))
		}
		out.PublicKey = d.Address(path)
		return nil
	})
	return out, err
}

func (a *Application) AppConfiguration(ctx context.Context) (device.AppConfiguration, error) {
	d := a.transport.dev
	var out device.AppConfiguration
	err := d.run(ctx, a.transport, device.OpGetAppConfig, func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.stats.ConfigCalls++
		if d.configErr != nil {
			return d.configErr
		}
		out = device.AppConfiguration{Version: d.opts.Version, MultiOpsEnabled: d.opts.MultiOpsEnabled}
		return nil
	})
	return out, err
}

func (a *Application) SignTransaction(ctx context.Context, path string, payload []byte) ([]byte, error) {
	d := a.transport.dev
	var sig []byte
	err := d.run(ctx, a.transport, device.OpSignTransaction, func() error {
		d.mu.Lock()
		d.stats.SignCalls++
		declined := d.declineSign
		d.mu.Unlock()
		if declined {
			return device.NewError(device.KindDeclined, device.OpSignTransaction, nil)
		}
		hash := sha256.Sum256(payload)
		var err error
		sig, err = d.key(path).Sign(hash[:])
		return err
	})
	return sig, err
}
