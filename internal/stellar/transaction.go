package stellar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

const (
	PublicNetworkPassphrase = network.PublicNetworkPassphrase
	TestNetworkPassphrase   = network.TestNetworkPassphrase
)

var (
	ErrMissingPassphrase = errors.New("stellar: missing network passphrase")
	ErrEmptyTransaction  = errors.New("stellar: empty transaction body")
)

// Transaction is anything the signing flow can attach signatures to.
type Transaction interface {
	// SignatureBase returns the canonical bytes the device signs.
	SignatureBase() ([]byte, error)
	AddSignature(sig DecoratedSignature)
}

// Envelope is an XDR-encoded transaction body plus its collected signatures.
type Envelope struct {
	NetworkPassphrase string
	Body              []byte
	Signatures        []DecoratedSignature
}

var _ Transaction = (*Envelope)(nil)

// NewEnvelope encodes tx as the body of an unsigned envelope.
func NewEnvelope(passphrase string, tx xdr.Transaction) (*Envelope, error) {
	body, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("stellar: encode transaction: %w", err)
	}
	return &Envelope{NetworkPassphrase: passphrase, Body: body}, nil
}

// SignatureBase is the network ID, the ENVELOPE_TYPE_TX tag and the body.
func (e *Envelope) SignatureBase() ([]byte, error) {
	if strings.TrimSpace(e.NetworkPassphrase) == "" {
		return nil, ErrMissingPassphrase
	}
	if len(e.Body) == 0 {
		return nil, ErrEmptyTransaction
	}
	tag, err := xdr.EnvelopeTypeEnvelopeTypeTx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	networkID := network.ID(e.NetworkPassphrase)
	out := make([]byte, 0, len(networkID)+len(tag)+len(e.Body))
	out = append(out, networkID[:]...)
	out = append(out, tag...)
	out = append(out, e.Body...)
	return out, nil
}

func (e *Envelope) AddSignature(sig DecoratedSignature) {
	e.Signatures = append(e.Signatures, sig)
}
