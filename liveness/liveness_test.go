package liveness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
)

func pk(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	p[0] = b
	return p
}

func TestEnabledAndOnlineAreIndependentAxes(t *testing.T) {
	tr := New()
	n := pk(1)
	tr.AddFriend(n)

	require.False(t, tr.IsEnabled(n))
	require.False(t, tr.IsOnline(n))

	tr.SetEnabled(n, true)
	require.True(t, tr.IsEnabled(n))
	require.False(t, tr.IsOnline(n), "enabling must not imply online")

	needsResend := tr.SetOnline(n, true)
	require.True(t, needsResend)
	require.True(t, tr.IsOnline(n))

	tr.SetEnabled(n, false)
	require.False(t, tr.IsEnabled(n))
	require.True(t, tr.IsOnline(n), "disabling must not imply offline")
}

func TestSetOnlineOnlyFiresOnTransition(t *testing.T) {
	tr := New()
	n := pk(2)

	require.True(t, tr.SetOnline(n, true))
	require.False(t, tr.SetOnline(n, true), "already online: no transition")

	require.False(t, tr.SetOnline(n, false), "going offline never needs a resend")
	require.True(t, tr.SetOnline(n, true), "offline -> online is a fresh transition")
}

func TestRelayGenerationHandshake(t *testing.T) {
	tr := New()
	n := pk(3)
	tr.AddFriend(n)

	_, needed := tr.NeedsRelayResend(n)
	require.False(t, needed, "no relays advanced yet")

	gen := tr.AdvanceRelays(n)
	require.Equal(t, uint64(1), gen)

	// Not yet online: nothing to resend.
	_, needed = tr.NeedsRelayResend(n)
	require.False(t, needed)

	tr.SetOnline(n, true)
	got, needed := tr.NeedsRelayResend(n)
	require.True(t, needed)
	require.Equal(t, gen, got)

	// A stale ack (wrong generation) changes nothing.
	tr.AckRelays(n, gen-1)
	_, needed = tr.NeedsRelayResend(n)
	require.True(t, needed)

	tr.AckRelays(n, gen)
	_, needed = tr.NeedsRelayResend(n)
	require.False(t, needed)
}

func TestReconnectLeavesAckedRelaysSettled(t *testing.T) {
	tr := New()
	n := pk(4)
	gen := tr.AdvanceRelays(n)
	tr.SetOnline(n, true)
	tr.AckRelays(n, gen)

	_, needed := tr.NeedsRelayResend(n)
	require.False(t, needed)

	// Flap: the ack was for this connection; a fresh reconnect with no
	// new AdvanceRelays call leaves relaysPending false because the
	// peer already has the current generation.
	tr.SetOnline(n, false)
	tr.SetOnline(n, true)
	_, needed = tr.NeedsRelayResend(n)
	require.False(t, needed)
}

func TestAllowResendThrottlesFlappingFriend(t *testing.T) {
	tr := New()
	n := pk(5)

	require.True(t, tr.AllowResend(n), "first resend always goes through")
	require.False(t, tr.AllowResend(n), "immediate repeat is throttled")
}
