package liveness

import (
	"time"

	"github.com/freedomlayer/offset-sub002/crypto"
)

// Tracker owns the enabled/online axes of every friend (§3's Data
// Model note: "FriendStatus (Enabled/Disabled) as distinct from
// liveness (online/offline)") and decides when a reconnect or an
// enable should trigger resends. It implements router.FriendStatusView
// directly so the coordinator can hand the same Tracker to both the
// Router and its own event loop.
type Tracker struct {
	friends map[crypto.PublicKey]*friendState
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{friends: make(map[crypto.PublicKey]*friendState)}
}

func (t *Tracker) ensure(pk crypto.PublicKey) *friendState {
	fs, ok := t.friends[pk]
	if !ok {
		fs = newFriendState()
		t.friends[pk] = fs
	}
	return fs
}

// AddFriend registers pk as a known friend, disabled and offline until
// told otherwise.
func (t *Tracker) AddFriend(pk crypto.PublicKey) {
	t.ensure(pk)
}

// RemoveFriend forgets pk entirely.
func (t *Tracker) RemoveFriend(pk crypto.PublicKey) {
	delete(t.friends, pk)
}

// IsEnabled implements router.FriendStatusView.
func (t *Tracker) IsEnabled(pk crypto.PublicKey) bool {
	fs, ok := t.friends[pk]
	return ok && fs.enabled
}

// IsOnline implements router.FriendStatusView.
func (t *Tracker) IsOnline(pk crypto.PublicKey) bool {
	fs, ok := t.friends[pk]
	return ok && fs.online
}

// SetEnabled handles the EnableFriend/DisableFriend coordinator
// commands (§6). Disabling a friend does not drop its liveness state --
// a disabled-but-online friend still acks keep-alives -- it only stops
// the Router from choosing it as a forwarding hop.
func (t *Tracker) SetEnabled(pk crypto.PublicKey, enabled bool) {
	t.ensure(pk).enabled = enabled
}

// SetOnline reports a liveness transition observed by the transport
// collaborator. needsResend is true exactly on an offline -> online
// transition (§4.4 "on transition offline -> online, resend the last
// outgoing MoveToken or reset terms"); the caller decides which of the
// two applies by inspecting the friend's current tc_status, since
// Tracker has no visibility into TokenChannel state. Callers should
// also check NeedsRelayResend after a reconnect, since a transition
// also makes any previously-unacked relay announcement deliverable
// again.
func (t *Tracker) SetOnline(pk crypto.PublicKey, online bool) (needsResend bool) {
	fs := t.ensure(pk)
	wasOnline := fs.online
	fs.online = online

	if !online {
		return false
	}
	if wasOnline {
		return false
	}

	log.Debugf("friend %s reconnected", pk)
	if fs.relaysAcked {
		// nothing pending; AdvanceRelays will mark it pending again if
		// the coordinator's relay list actually changed meanwhile.
	} else {
		fs.relaysPending = true
	}
	return true
}

// AdvanceRelays records that the coordinator changed pk's sent-relays
// generation (SetFriendRelays) and must announce it
// (§6's RelaysUpdate{generation}). It returns the new generation to
// embed in the outgoing RelaysUpdate.
func (t *Tracker) AdvanceRelays(pk crypto.PublicKey) uint64 {
	fs := t.ensure(pk)
	fs.relaysGeneration++
	fs.relaysAcked = false
	fs.relaysPending = true
	return fs.relaysGeneration
}

// AckRelays records a matching RelaysAck{generation}. Acks for a stale
// generation (the coordinator has since advanced again) are ignored.
func (t *Tracker) AckRelays(pk crypto.PublicKey, generation uint64) {
	fs, ok := t.friends[pk]
	if !ok || generation != fs.relaysGeneration {
		log.Debugf("dropping RelaysAck for %s: stale or unknown generation %d", pk, generation)
		return
	}
	fs.relaysAcked = true
	fs.relaysPending = false
}

// NeedsRelayResend reports whether pk has relay info it hasn't yet
// received an ack for and is currently reachable to resend to.
func (t *Tracker) NeedsRelayResend(pk crypto.PublicKey) (generation uint64, needed bool) {
	fs, ok := t.friends[pk]
	if !ok || !fs.online || !fs.relaysPending {
		return 0, false
	}
	return fs.relaysGeneration, true
}

// AllowResend throttles repeated resend attempts for a flapping
// connection (§4.4 "keep at most one outgoing in-flight MoveToken per
// friend until acknowledged"): it reports whether a resend attempt for
// pk may proceed right now, consuming one token from that friend's
// limiter if so. The very first call after AddFriend always succeeds.
func (t *Tracker) AllowResend(pk crypto.PublicKey) bool {
	fs := t.ensure(pk)
	return fs.resendLimiter.AllowN(time.Now(), 1)
}
