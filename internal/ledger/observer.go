package ledger

// Observer receives session notifications. Calls run on the controller's
// goroutines after the handshake or teardown they report has finished.
// Connect waits for Disconnected to return, so a reconnect issued from
// Disconnected must run on its own goroutine.
type Observer interface {
	Connected(s Session)
	Disconnected()
}

// ObserverFuncs adapts optional funcs to Observer.
type ObserverFuncs struct {
	OnConnect    func(s Session)
	OnDisconnect func()
}

func (o ObserverFuncs) Connected(s Session) {
	if o.OnConnect != nil {
		o.OnConnect(s)
	}
}

func (o ObserverFuncs) Disconnected() {
	if o.OnDisconnect != nil {
		o.OnDisconnect()
	}
}
