package ledger

import (
	"errors"

	"github.com/danmuck/ledgerctl/internal/device"
)

var (
	ErrTransportUnsupported = errors.New("ledger: transport unsupported")
	ErrNoActiveSession      = errors.New("ledger: no ledger wallet connected")
	ErrConnectAborted       = errors.New("ledger: connect aborted")
	ErrTeardown             = errors.New("ledger: transport teardown failed")
	ErrInvalidConfig        = errors.New("ledger: invalid config")

	errStaleAttempt = errors.New("ledger: handshake attempt superseded")
)

// Class is the failure taxonomy callers and loops act on.
type Class int

const (
	ClassHandshakeFailure Class = iota
	ClassTransportUnsupported
	ClassDeviceBusy
	ClassNoActiveSession
	ClassTeardownFailure
)

func (c Class) String() string {
	switch c {
	case ClassTransportUnsupported:
		return "transport_unsupported"
	case ClassDeviceBusy:
		return "device_busy"
	case ClassNoActiveSession:
		return "no_active_session"
	case ClassTeardownFailure:
		return "teardown_failure"
	default:
		return "handshake_failure"
	}
}

// Classify maps any error from this package or a device adapter to a Class.
// Untagged errors are retryable handshake failures.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return ClassNoActiveSession
	case errors.Is(err, ErrTransportUnsupported), errors.Is(err, device.ErrUnsupported):
		return ClassTransportUnsupported
	case errors.Is(err, ErrTeardown):
		return ClassTeardownFailure
	case errors.Is(err, device.ErrLocked):
		return ClassDeviceBusy
	default:
		return ClassHandshakeFailure
	}
}

// transportGone reports whether err means the physical handle must be reopened.
func transportGone(err error) bool {
	kind, ok := device.KindOf(err)
	if !ok {
		return false
	}
	return kind == device.KindDisconnected || kind == device.KindIO
}

// busySigning reports a locked-device reply caused by an in-flight sign.
func busySigning(err error) bool {
	return errors.Is(err, device.ErrLocked) && device.LockHolder(err) == device.OpSignTransaction
}
