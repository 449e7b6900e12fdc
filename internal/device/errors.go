package device

import "errors"

// Kind is the closed set of device failure tags.
type Kind int

const (
	KindIO Kind = iota
	KindUnsupported
	KindLocked
	KindDisconnected
	KindAppNotOpen
	KindDeclined
)

func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "transport unsupported"
	case KindLocked:
		return "device locked"
	case KindDisconnected:
		return "device disconnected"
	case KindAppNotOpen:
		return "application not open"
	case KindDeclined:
		return "declined by user"
	default:
		return "i/o failure"
	}
}

// Sentinels for errors.Is matching on Kind alone.
var (
	ErrIO           = &Error{Kind: KindIO}
	ErrUnsupported  = &Error{Kind: KindUnsupported}
	ErrLocked       = &Error{Kind: KindLocked}
	ErrDisconnected = &Error{Kind: KindDisconnected}
	ErrAppNotOpen   = &Error{Kind: KindAppNotOpen}
	ErrDeclined     = &Error{Kind: KindDeclined}
)

// Error is a tagged device failure.
type Error struct {
	Kind Kind
	Op   string
	// Lock names the command holding the device when Kind is KindLocked.
	Lock string
	Err  error
}

func (e *Error) Error() string {
	msg := "device: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Kind.String()
	if e.Lock != "" {
		msg += " by " + e.Lock
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Lock != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// NewError tags err with kind and the failing command.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the tag of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return KindIO, false
}

// LockHolder returns the command holding the device for a KindLocked error.
func LockHolder(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindLocked {
		return de.Lock
	}
	return ""
}
