// Package liveness implements §4.4's Liveness & Handshake driver: it
// tracks which friends are enabled and reachable, and drives the
// resend-on-reconnect and relay-generation-handshake behavior the rest
// of the coordinator depends on. It holds no TokenChannel or ledger
// state of its own -- Tracker only decides *when* something needs
// resending; the coordinator supplies the content (the last outgoing
// MoveToken, the current reset terms, the current relay list).
package liveness

import (
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/time/rate"

	"github.com/freedomlayer/offset-sub002/crypto"
)

var log = btclog.Disabled

// UseLogger sets the package-wide logger, following the teacher's
// per-package logging convention.
func UseLogger(logger btclog.Logger) {
	log = logger
}

const (
	// resendBurst matches the teacher's defaultBackoff/maximumBackoff
	// doubling scheme loosely: a friend that keeps flapping should not
	// be able to trigger unbounded resend traffic, but the first
	// reconnect after a genuine outage must always go through
	// immediately.
	resendBurst = 1
	// resendRate caps steady-state resends per friend to one every two
	// seconds, which is generous enough to never delay a legitimate
	// reconnect handshake while still bounding a flapping connection
	// (see daemon/server.go's computeNextBackoff for the teacher's
	// analogous reconnect-storm concern).
	resendRate = rate.Limit(0.5)
)

// ResendKind tells the coordinator which artifact to resend after a
// friend reconnects -- the choice between the two depends on the
// friend's TokenChannel tc_status, which Tracker does not inspect.
type ResendKind int

const (
	// ResendMoveToken: tc_status is ConsistentOut; resend the last
	// outgoing MoveToken.
	ResendMoveToken ResendKind = iota
	// ResendResetTerms: tc_status is Inconsistent; resend the local
	// reset terms (InconsistencyError).
	ResendResetTerms
)

// friendState is one friend's liveness and relay-handshake bookkeeping.
type friendState struct {
	enabled bool
	online  bool

	resendLimiter *rate.Limiter

	relaysGeneration uint64
	relaysAcked      bool
	relaysPending    bool
}

func newFriendState() *friendState {
	return &friendState{
		resendLimiter: rate.NewLimiter(resendRate, resendBurst),
		relaysAcked:   true,
	}
}
