package router

import (
	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// ForwardOutcome classifies the result of HandleIncomingRequest.
type ForwardOutcome int

const (
	// ForwardedToNextHop means the request was pushed onto NextHop's
	// pending_requests queue and request_id was recorded for the
	// eventual backward response/cancel.
	ForwardedToNextHop ForwardOutcome = iota
	// ForwardCanceled means a CancelSendFundsOp was queued backward to
	// the incoming friend; the request never left this node.
	ForwardCanceled
	// ForwardDestinationReached means this node is the request's
	// declared Destination and route has no further hops; the caller
	// (the seller/invoice component) must now decide whether to
	// respond.
	ForwardDestinationReached
)

// ForwardResult reports what HandleIncomingRequest did with one accepted
// incoming RequestSendFundsOp.
type ForwardResult struct {
	Outcome ForwardOutcome
	NextHop crypto.PublicKey
	Pending *mutualcredit.PendingTransaction

	// ForwardedRequest is set only when Outcome is ForwardedToNextHop: it
	// is the exact op already pushed onto NextHop's pending_requests
	// queue. The caller must apply it to NextHop's MutualCredit (the
	// ledger layer's own capacity check, which this package does not
	// perform) before that queue is ever drained; see UndoForward if
	// that application fails.
	ForwardedRequest mutualcredit.RequestSendFundsOp

	// BackwardOp is set only when Outcome is ForwardCanceled: it is the
	// exact CancelSendFundsOp already queued backward to incomingFriend.
	// The caller must apply it to incomingFriend's MutualCredit before
	// that queue is drained.
	BackwardOp mutualcredit.CancelSendFundsOp
}

// HandleIncomingRequest implements §4.3's forwarding decision for a
// RequestSendFundsOp that TokenChannel.ProcessIncoming has already
// accepted (i.e. mutualcredit.ApplyIncoming has already validated
// requests-enabled, deducted this node's own fee from left_fees, and
// frozen local_pending_debt -- see mutualcredit/incoming.go). pt is the
// resulting PendingTransaction as stored under (incomingFriend, cur); its
// Route and LeftFees already reflect that processing.
//
// Route convention: pt.Route lists every hop strictly after this node,
// ending with pt.Destination. An empty Route means this node has no
// further hop to forward to, which is only valid if this node is the
// Destination.
func (r *Router) HandleIncomingRequest(incomingFriend crypto.PublicKey, cur currency.Currency, pt *mutualcredit.PendingTransaction) ForwardResult {
	if len(pt.Route) == 0 {
		if pt.Destination == r.localPublicKey {
			return ForwardResult{Outcome: ForwardDestinationReached, Pending: pt}
		}
		log.Debugf("canceling request %x: route exhausted before reaching declared destination", pt.RequestId.Bytes())
		cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: pt.RequestId}}
		r.EnqueueBackward(incomingFriend, cur, cancelOp)
		return ForwardResult{Outcome: ForwardCanceled, Pending: pt, BackwardOp: cancelOp}
	}

	nextHop := pt.Route[0]
	if !r.status.IsEnabled(nextHop) || !r.status.IsOnline(nextHop) || !r.currencies.HasActiveCurrency(nextHop, cur) {
		log.Debugf("canceling request %x: next hop %s not reachable for currency %s", pt.RequestId.Bytes(), nextHop, cur)
		cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: pt.RequestId}}
		r.EnqueueBackward(incomingFriend, cur, cancelOp)
		return ForwardResult{Outcome: ForwardCanceled, Pending: pt, BackwardOp: cancelOp}
	}

	forwardReq := mutualcredit.McRequest{
		RequestId:        pt.RequestId,
		SrcHashedLock:    pt.SrcHashedLock,
		Route:            append([]crypto.PublicKey(nil), pt.Route[1:]...),
		DestPayment:      pt.DestPayment,
		TotalDestPayment: pt.TotalDestPayment,
		InvoiceId:        pt.InvoiceId,
		LeftFees:         pt.LeftFees,
		Destination:      pt.Destination,
	}
	reqOp := mutualcredit.RequestSendFundsOp{Request: forwardReq}
	r.enqueueForwarded(nextHop, cur, reqOp)
	r.requestRoutes[pt.RequestId] = requestRoute{IncomingFriend: incomingFriend, Currency: cur}

	return ForwardResult{Outcome: ForwardedToNextHop, NextHop: nextHop, Pending: pt, ForwardedRequest: reqOp}
}

// RouteFor returns the (incoming friend, currency) a not-yet-resolved
// request_id would route a backward op to, without consuming it. The
// coordinator uses this to find the right MutualCredit to ApplyOutgoing
// against before calling HandleIncomingBackward or UndoForward.
func (r *Router) RouteFor(requestId crypto.Uid) (friend crypto.PublicKey, cur currency.Currency, ok bool) {
	route, ok := r.requestRoutes[requestId]
	if !ok {
		return crypto.PublicKey{}, "", false
	}
	return route.IncomingFriend, route.Currency, true
}

// UndoForward reverses a forwarding decision that HandleIncomingRequest
// already queued but that the ledger layer then rejected (ApplyOutgoing
// against nextHop's MutualCredit failed, e.g. insufficient credit -- a
// check this package does not perform itself). It removes the
// still-queued RequestSendFundsOp from nextHop's forwarded queue, if it
// is still there, and cancels backward toward the original incoming
// friend instead. ok is false if the op already left the queue (a
// MoveToken drained it before the ledger check could run); in that case
// the caller must let the eventual backward Response/Cancel settle the
// request instead of trying to cancel it here.
func (r *Router) UndoForward(nextHop crypto.PublicKey, cur currency.Currency, requestId crypto.Uid) bool {
	fq, ok := r.friends[nextHop]
	if !ok || !fq.removeForwarded(cur, requestId) {
		return false
	}
	cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: requestId}}
	return r.HandleIncomingBackward(requestId, cancelOp)
}

// HandleIncomingBackward routes a ResponseSendFundsOp or CancelSendFundsOp
// that arrived from the next hop back toward whichever friend originally
// forwarded the matching request to us (§4.3 "Handling responses/cancels").
// It returns false if requestId names no request this node is currently
// routing (already resolved, or never seen -- logged and otherwise
// ignored, per §7's "unexpected message" handling).
//
// The global request_id entry is cleared as soon as the backward operation
// is queued, not after the resulting MoveToken is acknowledged: queueing
// already commits the operation (it remains in the friend's queue, and if
// that friend is offline the liveness-driven resend at the token-channel
// layer -- not a Router-level retry -- delivers it once reachable), so
// there is nothing left for the global map to track past this point.
func (r *Router) HandleIncomingBackward(requestId crypto.Uid, op mutualcredit.Operation) bool {
	route, ok := r.requestRoutes[requestId]
	if !ok {
		log.Debugf("dropping backward op for unknown request %x", requestId.Bytes())
		return false
	}
	delete(r.requestRoutes, requestId)
	r.EnqueueBackward(route.IncomingFriend, route.Currency, op)
	return true
}
