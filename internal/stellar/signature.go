package stellar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
)

// SignatureHint is the last four bytes of the signer's raw public key.
type SignatureHint [4]byte

func (h SignatureHint) String() string {
	return hex.EncodeToString(h[:])
}

// DecoratedSignature is the XDR signature entry appended to an envelope.
type DecoratedSignature = xdr.DecoratedSignature

// HintOf returns the hint carried by a decorated signature.
func HintOf(sig DecoratedSignature) SignatureHint {
	return SignatureHint(sig.Hint)
}

// Decorate pairs a raw signature with its signer hint.
func Decorate(hint SignatureHint, signature []byte) DecoratedSignature {
	return DecoratedSignature{
		Hint:      xdr.SignatureHint(hint),
		Signature: xdr.Signature(append([]byte(nil), signature...)),
	}
}

// HintForAddress derives the signature hint from a G... address.
func HintForAddress(address string) (SignatureHint, error) {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return SignatureHint{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return SignatureHint(kp.Hint()), nil
}

// NewDecoratedSignature pairs a raw signature with the hint for address.
func NewDecoratedSignature(address string, signature []byte) (DecoratedSignature, error) {
	hint, err := HintForAddress(address)
	if err != nil {
		return DecoratedSignature{}, err
	}
	return Decorate(hint, signature), nil
}

// Verify reports whether signature is address's signature over the hash of
// the given signature base.
func Verify(address string, signatureBase, signature []byte) bool {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(signatureBase)
	return kp.Verify(hash[:], signature) == nil
}
