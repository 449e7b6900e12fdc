package device

import "context"

// Command names reported by Error.Op and Error.Lock.
const (
	OpOpen              = "open"
	OpGetPublicKey      = "getPublicKey"
	OpGetAppConfig      = "getAppConfiguration"
	OpSignTransaction   = "signTransaction"
	OpCreateApplication = "createApplication"
)

// Connectivity is the transport's own view of the physical link.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota
	Connected
	Disconnected
)

func (c Connectivity) String() string {
	switch c {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport is one open physical handle (USB/HID, U2F).
type Transport interface {
	// Close releases the handle. Closing twice must not panic.
	Close() error
	// Connectivity reports ConnectivityUnknown when the driver cannot tell.
	Connectivity() Connectivity
}

// Opener opens physical transport handles.
type Opener interface {
	Open(ctx context.Context) (Transport, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Transport, error)

func (f OpenerFunc) Open(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// PublicKey is the device reply to a public key request.
type PublicKey struct {
	// PublicKey is the StrKey encoded account ID (G...).
	PublicKey string
}

// AppConfiguration is the device application capability report.
type AppConfiguration struct {
	Version         string
	MultiOpsEnabled bool
}

// Application is the signing application protocol layered on a Transport.
type Application interface {
	PublicKey(ctx context.Context, path string) (PublicKey, error)
	AppConfiguration(ctx context.Context) (AppConfiguration, error)
	// SignTransaction returns the raw signature over payload.
	SignTransaction(ctx context.Context, path string, payload []byte) ([]byte, error)
}

// AppFactory builds an Application bound to an open Transport.
type AppFactory func(t Transport) (Application, error)
