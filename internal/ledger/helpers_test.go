package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ledgerctl/internal/device/sim"
	"github.com/jonboulle/clockwork"
)

const testWait = 2 * time.Second

func fastConfig() Config {
	return Config{
		Retry:              BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1.0},
		HeartbeatInterval:  5 * time.Millisecond,
		DeviceWaitInterval: time.Millisecond,
		TransportPolicy:    TransportReuse,
	}
}

func newSimController(t *testing.T, cfg Config, opts ...Option) (*Controller, *sim.Device, *recorder) {
	t.Helper()
	dev := sim.New(sim.Options{Seed: t.Name(), MultiOpsEnabled: true})
	rec := &recorder{}
	opts = append([]Option{WithObserver(rec)}, opts...)
	c := New(dev, dev.NewApplication, cfg, opts...)
	t.Cleanup(c.Disconnect)
	return c, dev, rec
}

func connectWithin(t *testing.T, c *Controller, acct Account) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	return c.ConnectAccount(ctx, acct)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for result")
		return nil
	}
}

func blockUntil(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fc.BlockUntil(n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for %d clock waiters", n)
	}
}

type recorder struct {
	mu          sync.Mutex
	connects    []Session
	disconnects int
}

func (r *recorder) Connected(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, s)
}

func (r *recorder) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

func (r *recorder) counts() (connects, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects), r.disconnects
}
