package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/rs/zerolog/log"
)

// heartbeat polls one application handle to notice silent removal. It exits
// quietly once the session moves to another handle.
type heartbeat struct {
	c    *Controller
	gen  uint64
	app  device.Application
	busy *gate
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (h *heartbeat) halt() {
	h.once.Do(func() { close(h.stop) })
}

func (c *Controller) startHeartbeatLocked(gen uint64, app device.Application, busy *gate) {
	if c.heartbeat != nil {
		if c.heartbeat.gen == gen {
			return
		}
		c.heartbeat.halt()
	}
	h := &heartbeat{
		c:    c,
		gen:  gen,
		app:  app,
		busy: busy,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.heartbeat = h
	go h.run()
}

func (c *Controller) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat.halt()
		c.heartbeat = nil
	}
}

func (h *heartbeat) run() {
	defer close(h.done)
	log.Debug().Uint64("app", h.gen).Msg("ledger polling started")
	defer log.Debug().Uint64("app", h.gen).Msg("ledger polling stopped")

	ctx := context.Background()
	for h.bound() {
		acquired, err := h.c.acquireWithin(h.busy, device.OpGetAppConfig, h.stop)
		if err != nil {
			return
		}
		var alive atomic.Bool
		if acquired {
			// The query is not awaited: a device that never answers must
			// still count as silent when the interval runs out.
			go func() {
				alive.Store(h.c.queryCapabilities(ctx, h.busy, h.gen, h.app))
			}()
			select {
			case <-h.stop:
				return
			case <-h.c.clock.After(h.c.cfg.HeartbeatInterval):
			}
		} else {
			// A signature waiting on the user is a live device unless the
			// transport knows it is gone.
			alive.Store(h.busy.heldBy() == device.OpSignTransaction && !h.linkDown())
		}

		ok := alive.Load()
		observability.RecordLedgerHeartbeat(ok)
		if !ok && h.linkLost() {
			h.c.disconnectApp(h.gen, "heartbeat")
			return
		}
	}
}

// bound reports whether polling is enabled and the session still uses h's
// application handle.
func (h *heartbeat) bound() bool {
	select {
	case <-h.stop:
		return false
	default:
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.sess.appGen == h.gen
}

// linkLost reports whether a silent cycle should tear the session down: the
// handle is still current and the transport is missing or not known to be
// connected.
func (h *heartbeat) linkLost() bool {
	h.c.mu.Lock()
	if h.c.sess.appGen != h.gen {
		h.c.mu.Unlock()
		return false
	}
	transport := h.c.sess.transport
	h.c.mu.Unlock()

	if transport == nil {
		return true
	}
	return transport.Connectivity() != device.Connected
}

// linkDown reports whether the session transport is known to be disconnected.
func (h *heartbeat) linkDown() bool {
	h.c.mu.Lock()
	transport := h.c.sess.transport
	h.c.mu.Unlock()
	return transport == nil || transport.Connectivity() == device.Disconnected
}
