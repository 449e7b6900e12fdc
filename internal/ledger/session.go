package ledger

import "github.com/danmuck/ledgerctl/internal/device"

// Session is a read-only snapshot of the controller's session fields.
type Session struct {
	Account         Account
	Path            string
	PublicKey       string
	Version         string
	MultiOpsEnabled bool
	Connectivity    device.Connectivity
	LastError       error
}

// Connected reports whether the snapshot holds a public key.
func (s Session) Connected() bool {
	return s.PublicKey != ""
}

// session is the mutable record behind Session. It is either empty or bound
// to a path; transport and application appear during a handshake and the
// public key marks it connected. busy lives and dies with transport.
type session struct {
	bound        bool
	account      Account
	path         string
	transport    device.Transport
	transportGen uint64
	busy         *gate
	app          device.Application
	appGen       uint64
	publicKey    string
	version      string
	multiOps     bool
}

// detachApplication drops everything derived from the old path while keeping
// the transport for reuse.
func (s *session) detachApplication() {
	s.app = nil
	s.appGen = 0
	s.publicKey = ""
	s.version = ""
	s.multiOps = false
}
