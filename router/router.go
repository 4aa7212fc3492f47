package router

import (
	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// Router is the per-node Router/Switch of §4.3: it owns every friend's
// three pending queues and the global request_id -> (friend, currency)
// map, and decides forwarding outcomes. It does not own any TokenChannel
// or MutualCredit itself -- those remain the coordinator's (§4.6), which
// drains a friend's queues into TokenChannel.ProduceOutgoing and applies
// accepted incoming operations before handing newly-accepted requests back
// to the Router via HandleIncomingRequest.
type Router struct {
	localPublicKey crypto.PublicKey
	status         FriendStatusView
	currencies     CurrencyView

	friends       map[crypto.PublicKey]*friendQueues
	requestRoutes map[crypto.Uid]requestRoute
	payments      map[crypto.PaymentId]*paymentState
}

// New constructs a Router for localPublicKey, consulting status and
// currencies to make forwarding decisions.
func New(localPublicKey crypto.PublicKey, status FriendStatusView, currencies CurrencyView) *Router {
	return &Router{
		localPublicKey: localPublicKey,
		status:         status,
		currencies:     currencies,
		friends:        make(map[crypto.PublicKey]*friendQueues),
		requestRoutes:  make(map[crypto.Uid]requestRoute),
		payments:       make(map[crypto.PaymentId]*paymentState),
	}
}

func (r *Router) ensureFriend(pk crypto.PublicKey) *friendQueues {
	fq, ok := r.friends[pk]
	if !ok {
		fq = newFriendQueues()
		r.friends[pk] = fq
	}
	return fq
}

// AddFriend registers pk with the router so it has queues ready to accept
// work, even before any request touches it.
func (r *Router) AddFriend(pk crypto.PublicKey) {
	r.ensureFriend(pk)
}

// RemoveFriend drops pk's queues. Any request_routes entries that name pk
// as the incoming friend become unreachable and are left for the next
// Cancel attempt to discover as "unknown request" -- removing a friend
// admits that any payment still in flight through it will time out at the
// buyer rather than ever being resolved, which matches spec.md's
// "Cancellation & timeouts" note that an in-flight request has no
// Router-level timeout of its own.
func (r *Router) RemoveFriend(pk crypto.PublicKey) {
	delete(r.friends, pk)
}

// HasPending reports whether pk has any queued operation awaiting the next
// outgoing MoveToken.
func (r *Router) HasPending(pk crypto.PublicKey) bool {
	fq, ok := r.friends[pk]
	return ok && !fq.IsEmpty()
}

// Drain returns and clears pk's queued operations in canonical order,
// ready for TokenChannel.ProduceOutgoing.
func (r *Router) Drain(pk crypto.PublicKey) map[currency.Currency][]mutualcredit.Operation {
	fq, ok := r.friends[pk]
	if !ok {
		return nil
	}
	return fq.drain()
}

// EnqueueBackward queues a response or cancel bound for pk (§4.3
// pending_backwards).
func (r *Router) EnqueueBackward(pk crypto.PublicKey, cur currency.Currency, op mutualcredit.Operation) {
	r.ensureFriend(pk).push(queueBackwards, cur, op)
}

// EnqueueUserRequest queues a locally-initiated RequestSendFundsOp bound
// for pk, the first hop of one leg of a payment's MultiRoute (§4.3
// pending_user_requests).
func (r *Router) EnqueueUserRequest(pk crypto.PublicKey, cur currency.Currency, op mutualcredit.Operation) {
	r.ensureFriend(pk).push(queueUserRequests, cur, op)
}

// enqueueForwarded queues a request being forwarded onward to pk (§4.3
// pending_requests).
func (r *Router) enqueueForwarded(pk crypto.PublicKey, cur currency.Currency, op mutualcredit.Operation) {
	r.ensureFriend(pk).push(queueRequests, cur, op)
}
