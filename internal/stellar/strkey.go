package stellar

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/stellar/go/strkey"
)

var (
	ErrInvalidAddress = errors.New("stellar: invalid account address")
	ErrInvalidKey     = errors.New("stellar: invalid public key")
)

// EncodeAddress returns the G... StrKey for a raw ed25519 public key.
func EncodeAddress(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: length=%d", ErrInvalidKey, len(pub))
	}
	address, err := strkey.Encode(strkey.VersionByteAccountID, pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return address, nil
}

// DecodeAddress returns the raw ed25519 public key behind a G... StrKey.
func DecodeAddress(address string) (ed25519.PublicKey, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: length=%d", ErrInvalidAddress, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
