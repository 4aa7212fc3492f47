// Package crypto defines the fixed-size byte-string types used throughout
// the funder (public keys, signatures, hashes, nonces and ids) and the
// IdentityClient collaborator interface that produces/verifies signatures
// on the node's behalf. This package never assumes the signing key lives
// in-process: see IdentityClient.
package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/fastsha256"
)

const (
	// PublicKeyLen is the length, in bytes, of an Ed25519 public key.
	PublicKeyLen = 32
	// SignatureLen is the length, in bytes, of an Ed25519 signature.
	SignatureLen = 64
	// HashLen is the length, in bytes, of a SHA-256 digest.
	HashLen = 32
	// RandNonceLen is the length, in bytes, of a RandNonce.
	RandNonceLen = 16
	// UidLen is the length, in bytes, of a request/command correlation id.
	UidLen = 16
	// InvoiceIdLen is the length, in bytes, of an InvoiceId.
	InvoiceIdLen = 32
	// PaymentIdLen is the length, in bytes, of a PaymentId.
	PaymentIdLen = 16
	// PlainLockLen is the length, in bytes, of a PlainLock pre-image.
	PlainLockLen = 32
	// HashedLockLen is the length, in bytes, of a HashedLock digest.
	HashedLockLen = 32
)

// fixedBytes is implemented by every fixed-size byte-string type below so
// shared helpers (hex formatting, zero checks) aren't repeated per type.
type fixedBytes interface {
	Bytes() []byte
}

func hexString(f fixedBytes) string {
	return hex.EncodeToString(f.Bytes())
}

// PublicKey identifies a node on the network.
type PublicKey [PublicKeyLen]byte

// Bytes returns the raw key bytes.
func (p PublicKey) Bytes() []byte { return p[:] }

// String implements fmt.Stringer.
func (p PublicKey) String() string { return hexString(p) }

// IsZero reports whether p is the all-zero key, used as a sentinel for
// "no public key" in maps and default struct values.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

// Less defines a total order over public keys used to decide, at friend
// bootstrap, who starts out holding the token (§4.2): the numerically
// smaller public key starts in ConsistentIn.
func Less(a, b PublicKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PublicKeyFromBytes copies b into a PublicKey, failing if the length
// doesn't match.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLen {
		return pk, fmt.Errorf("crypto: public key must be %d bytes, got %d", PublicKeyLen, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// Signature is an Ed25519 signature over a fingerprint buffer.
type Signature [SignatureLen]byte

// Bytes returns the raw signature bytes.
func (s Signature) Bytes() []byte { return s[:] }

// String implements fmt.Stringer.
func (s Signature) String() string { return hexString(s) }

// IsZero reports whether s is the all-zero signature.
func (s Signature) IsZero() bool { return s == Signature{} }

// Hash is a SHA-256 digest, used both as a content hash (e.g. old_token)
// and to derive a HashedLock from a PlainLock.
type Hash [HashLen]byte

// Bytes returns the raw digest bytes.
func (h Hash) Bytes() []byte { return h[:] }

// String implements fmt.Stringer.
func (h Hash) String() string { return hexString(h) }

// HashBytes returns the SHA-256 digest of b as a Hash.
func HashBytes(b []byte) Hash {
	return Hash(fastsha256.Sum256(b))
}

// RandNonce is a per-message random value mixed into signed fingerprints
// to prevent signature replay across otherwise-identical messages.
type RandNonce [RandNonceLen]byte

// Bytes returns the raw nonce bytes.
func (r RandNonce) Bytes() []byte { return r[:] }

// Uid correlates a coordinator inbound command with its eventual ack.
type Uid [UidLen]byte

// Bytes returns the raw id bytes.
func (u Uid) Bytes() []byte { return u[:] }

// String implements fmt.Stringer.
func (u Uid) String() string { return hexString(u) }

// InvoiceId identifies a seller-issued invoice.
type InvoiceId [InvoiceIdLen]byte

// Bytes returns the raw id bytes.
func (i InvoiceId) Bytes() []byte { return i[:] }

// String implements fmt.Stringer.
func (i InvoiceId) String() string { return hexString(i) }

// PaymentId identifies a buyer-initiated payment attempt across its
// (possibly multi-route) set of transactions.
type PaymentId [PaymentIdLen]byte

// Bytes returns the raw id bytes.
func (p PaymentId) Bytes() []byte { return p[:] }

// String implements fmt.Stringer.
func (p PaymentId) String() string { return hexString(p) }

// PlainLock is a pre-image only the payment's destination (or, after
// collection, the original buyer) ever reveals.
type PlainLock [PlainLockLen]byte

// Bytes returns the raw lock bytes.
func (p PlainLock) Bytes() []byte { return p[:] }

// HashedLock is HashBytes(plainLock), disclosed up-front so each hop can
// verify a later reveal without trusting the revealer.
type HashedLock [HashedLockLen]byte

// Bytes returns the raw hash bytes.
func (h HashedLock) Bytes() []byte { return h[:] }

// String implements fmt.Stringer.
func (h HashedLock) String() string { return hexString(h) }

// HashLock returns the HashedLock committing to p, i.e. HashedLock =
// hash(PlainLock) as required by §3.
func (p PlainLock) HashLock() HashedLock {
	return HashedLock(fastsha256.Sum256(p[:]))
}
