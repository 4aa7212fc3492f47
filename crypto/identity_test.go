package crypto

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftwareIdentitySignVerify(t *testing.T) {
	ctx := context.Background()

	id, err := NewSoftwareIdentity()
	require.NoError(t, err)

	pk, err := id.PublicKey(ctx)
	require.NoError(t, err)
	require.False(t, pk.IsZero())

	buf := []byte("fingerprint buffer")
	sig, err := id.Sign(ctx, buf)
	require.NoError(t, err)

	require.True(t, id.Verify(ctx, pk, buf, sig))
	require.False(t, id.Verify(ctx, pk, []byte("tampered"), sig))
}

func TestSoftwareIdentityFromSeedDeterministic(t *testing.T) {
	ctx := context.Background()
	seed := bytes.Repeat([]byte{0x07}, 32)

	id1, err := SoftwareIdentityFromSeed(seed)
	require.NoError(t, err)
	id2, err := SoftwareIdentityFromSeed(seed)
	require.NoError(t, err)

	pk1, _ := id1.PublicKey(ctx)
	pk2, _ := id2.PublicKey(ctx)
	require.Equal(t, pk1, pk2)
}

func TestPublicKeyLess(t *testing.T) {
	a := PublicKey{0xaa}
	b := PublicKey{0xbb}
	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
	require.False(t, Less(a, a))
}

func TestPlainLockHashLock(t *testing.T) {
	var lock PlainLock
	copy(lock[:], bytes.Repeat([]byte{0x01}, PlainLockLen))
	h1 := lock.HashLock()
	h2 := lock.HashLock()
	require.Equal(t, h1, h2)
}
