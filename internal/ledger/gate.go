package ledger

import (
	"context"
	"sync"
)

// gate is the device-busy flag of one transport. Whoever takes it first
// issues the next device command on that handle; everyone else polls. A new
// transport gets a new gate, so a command that never returns only blocks the
// handle it was sent on.
type gate struct {
	mu     sync.Mutex
	holder string
}

func newGate() *gate {
	return &gate{}
}

// tryAcquire takes the gate for the named device command.
func (g *gate) tryAcquire(op string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" {
		return false
	}
	g.holder = op
	return true
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holder = ""
}

func (g *gate) locked() bool {
	return g.heldBy() != ""
}

// heldBy names the command holding the gate, or "" when it is free.
func (g *gate) heldBy() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// waitDevice polls until g is free and takes it for op. The caller must
// release it after its single command. A nil stop never fires.
func (c *Controller) waitDevice(ctx context.Context, g *gate, op string, stop <-chan struct{}) error {
	for !g.tryAcquire(op) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return errStaleAttempt
		case <-c.clock.After(c.cfg.DeviceWaitInterval):
		}
	}
	return nil
}

// acquireWithin polls for g for at most one heartbeat interval. It reports
// false when the interval ran out with the gate still held.
func (c *Controller) acquireWithin(g *gate, op string, stop <-chan struct{}) (bool, error) {
	if g.tryAcquire(op) {
		return true, nil
	}
	deadline := c.clock.After(c.cfg.HeartbeatInterval)
	for {
		select {
		case <-stop:
			return false, errStaleAttempt
		case <-deadline:
			return false, nil
		case <-c.clock.After(c.cfg.DeviceWaitInterval):
		}
		if g.tryAcquire(op) {
			return true, nil
		}
	}
}
