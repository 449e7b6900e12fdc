// Package stellar holds the keypair and signature-envelope helpers used to
// attach device signatures to Stellar transactions.
//
// StrKey account IDs, keypairs, XDR signature entries and network IDs come
// from github.com/stellar/go. This package narrows them to what the signing
// flow needs: address codecs, signature hints, decorated signatures and the
// transaction signature base.
package stellar
