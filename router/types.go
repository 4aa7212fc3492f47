// Package router implements the Router/Switch of spec.md §4.3: per-friend
// queues, the forwarding decision for incoming RequestSendFunds batches,
// local payment initiation over a MultiRoute, and response/cancel routing
// back along the path that carried the original request. It is grounded on
// htlcswitch's circuit-map/packet-forwarding shape (mock.go's
// htlcPacket/completeCircuit/ForwardingInfo vocabulary), adapted from
// Lightning's onion-routed HTLCs to the Funder's plain, reversible
// route-list requests.
package router

import (
	"github.com/btcsuite/btclog"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// log is this package's logger, a no-op sink until UseLogger is called by
// the daemon's startup sequence (cmd/offsetd/log.go's RTR subsystem tag).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by router.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// FriendStatusView answers the liveness/enablement questions the router
// needs in order to make a forwarding decision, without owning that state
// itself: liveness (§4.4) and Friend.Status (SPEC_FULL.md Supplemented
// Feature 2) are the coordinator's collaborators, not the router's.
type FriendStatusView interface {
	// IsEnabled reports whether pk is a known, Enabled friend.
	IsEnabled(pk crypto.PublicKey) bool
	// IsOnline reports whether pk is currently reachable.
	IsOnline(pk crypto.PublicKey) bool
}

// CurrencyView exposes just enough of a friend's TokenChannel for the
// router to decide whether a currency is open on a link, without the
// router needing to import or hold the TokenChannel itself (the
// coordinator owns TokenChannel lifecycles; the router only queues
// operations for them to drain, per §4.6's ownership split).
type CurrencyView interface {
	// HasActiveCurrency reports whether cur is active (open on both
	// sides) for friend pk.
	HasActiveCurrency(pk crypto.PublicKey, cur currency.Currency) bool
}

// requestRoute is the global bookkeeping of §4.3 step 5 and §9's "Cyclic
// references" note: request_id -> (incoming friend, currency), stored by
// opaque id rather than by pointer, so the backward path never needs a
// reference back into the forwarding friend's queue entry.
type requestRoute struct {
	IncomingFriend crypto.PublicKey
	Currency       currency.Currency
}

// queueKind tags which of the three per-friend queues an entry belongs to,
// for the canonical drain order of §4.3: "oldest-first within each queue,
// backwards before user, user before forwarded." This implementation picks
// this ordering as canonical per §9's Open Question on the two parallel
// Router implementations in the original source.
type queueKind int

const (
	queueBackwards queueKind = iota
	queueUserRequests
	queueRequests
)

// queueEntry is one operation waiting to be drained into a friend's next
// outgoing MoveToken batch. seq breaks ties within a queueKind by arrival
// order (oldest first); it is assigned by friendQueues.push from a single
// per-friend monotone counter.
type queueEntry struct {
	seq      int64
	currency currency.Currency
	op       mutualcredit.Operation
}

// friendQueues holds one friend's three pending queues (§4.3).
type friendQueues struct {
	backwards    []queueEntry
	userRequests []queueEntry
	requests     []queueEntry
	nextSeq      int64
}

func newFriendQueues() *friendQueues {
	return &friendQueues{}
}

func (fq *friendQueues) push(kind queueKind, cur currency.Currency, op mutualcredit.Operation) {
	e := queueEntry{seq: fq.nextSeq, currency: cur, op: op}
	fq.nextSeq++
	switch kind {
	case queueBackwards:
		fq.backwards = append(fq.backwards, e)
	case queueUserRequests:
		fq.userRequests = append(fq.userRequests, e)
	case queueRequests:
		fq.requests = append(fq.requests, e)
	}
}

// drain returns every queued operation in canonical order, grouped per
// currency (each currency's own slice preserves the overall queue order),
// and empties the queues. The result is ready to hand straight to
// TokenChannel.ProduceOutgoing's currenciesOps parameter.
func (fq *friendQueues) drain() map[currency.Currency][]mutualcredit.Operation {
	out := make(map[currency.Currency][]mutualcredit.Operation)
	for _, e := range fq.backwards {
		out[e.currency] = append(out[e.currency], e.op)
	}
	for _, e := range fq.userRequests {
		out[e.currency] = append(out[e.currency], e.op)
	}
	for _, e := range fq.requests {
		out[e.currency] = append(out[e.currency], e.op)
	}
	fq.backwards = nil
	fq.userRequests = nil
	fq.requests = nil
	return out
}

// IsEmpty reports whether every queue for this friend is empty.
func (fq *friendQueues) IsEmpty() bool {
	return len(fq.backwards) == 0 && len(fq.userRequests) == 0 && len(fq.requests) == 0
}

// removeForwarded drops the still-queued RequestSendFundsOp for requestId
// from the forwarded-requests queue, if present. Used only by
// Router.UndoForward, same tick as the enqueue that put it there.
func (fq *friendQueues) removeForwarded(cur currency.Currency, requestId crypto.Uid) bool {
	for i, e := range fq.requests {
		if e.currency != cur {
			continue
		}
		req, ok := e.op.(mutualcredit.RequestSendFundsOp)
		if !ok || req.Request.RequestId != requestId {
			continue
		}
		fq.requests = append(fq.requests[:i], fq.requests[i+1:]...)
		return true
	}
	return false
}
