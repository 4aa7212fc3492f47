package crypto

import (
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

// IdentityClient is the signing collaborator. §9 "Signing" requires that
// every component treat signing as an async request/response to an
// external service and never assume the key is held in-process; every
// call here takes a context and can fail, even though SoftwareIdentity
// below answers in-process for tests and single-process deployments.
type IdentityClient interface {
	// PublicKey returns the node's own public key.
	PublicKey(ctx context.Context) (PublicKey, error)

	// Sign returns a signature over buf under the node's private key.
	Sign(ctx context.Context, buf []byte) (Signature, error)

	// Verify reports whether sig is a valid signature over buf under pk.
	// Verification never requires the identity collaborator to hold a
	// private key, but it is exposed on the same interface so callers
	// can swap in a hardware-backed client without also changing how
	// verification is invoked.
	Verify(ctx context.Context, pk PublicKey, buf []byte, sig Signature) bool
}

// SoftwareIdentity is an in-process IdentityClient backed by an Ed25519
// keypair, mirroring the original implementation's SoftwareEd25519Identity.
// It exists for tests and for single-process deployments where the signing
// key genuinely lives alongside the Funder; production deployments are
// expected to supply an IdentityClient that proxies to a separate identity
// process or hardware key.
type SoftwareIdentity struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewSoftwareIdentity generates a fresh Ed25519 keypair using crypto/rand.
func NewSoftwareIdentity() (*SoftwareIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate identity: %w", err)
	}
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &SoftwareIdentity{priv: priv, pub: pk}, nil
}

// SoftwareIdentityFromSeed derives a deterministic keypair from a 32-byte
// seed. Used by tests that need reproducible public keys.
func SoftwareIdentityFromSeed(seed []byte) (*SoftwareIdentity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pk, err := PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &SoftwareIdentity{priv: priv, pub: pk}, nil
}

// PublicKey implements IdentityClient.
func (s *SoftwareIdentity) PublicKey(_ context.Context) (PublicKey, error) {
	return s.pub, nil
}

// Sign implements IdentityClient.
func (s *SoftwareIdentity) Sign(_ context.Context, buf []byte) (Signature, error) {
	var sig Signature
	raw := ed25519.Sign(s.priv, buf)
	copy(sig[:], raw)
	return sig, nil
}

// Verify implements IdentityClient.
func (s *SoftwareIdentity) Verify(_ context.Context, pk PublicKey, buf []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), buf, sig[:])
}
