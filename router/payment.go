package router

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// PaymentStatus is the lifecycle of a locally-initiated payment (§4.3,
// §5 "Cancellation & timeouts": "Open payments ... remain Searching/
// Sending/Commit/Done until explicitly closed by the user or cancelled").
type PaymentStatus int

const (
	// PaymentSearching: a MultiRoute has not yet been committed to.
	PaymentSearching PaymentStatus = iota
	// PaymentSending: every leg's RequestSendFunds has been queued.
	PaymentSending
	// PaymentCommit: at least one leg has a verified, complete response
	// but the payment as a whole has not yet reached total_dest_payment.
	PaymentCommit
	// PaymentDone: every leg committed and a Receipt was assembled.
	PaymentDone
	// PaymentCanceled: the payment will never complete.
	PaymentCanceled
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentSearching:
		return "Searching"
	case PaymentSending:
		return "Sending"
	case PaymentCommit:
		return "Commit"
	case PaymentDone:
		return "Done"
	case PaymentCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// RouteLeg describes one disjoint path of a MultiRoute (§4.3, GLOSSARY):
// the hops after this node, ending with the payment's Destination, and
// the portion of the total payment (plus this leg's fee budget) it
// carries. Route[0] is NextHop; the McRequest actually handed to NextHop
// carries Route[1:], since HandleIncomingRequest's convention is that a
// PendingTransaction's Route lists only the hops strictly after whichever
// node is currently holding it.
type RouteLeg struct {
	Currency    currency.Currency
	Route       []crypto.PublicKey
	DestPayment *big.Int
	LeftFees    *big.Int
}

// PreparedLeg is one leg of a payment after PrepareMultiRoutePayment has
// assigned it a RequestId and built its wire-ready McRequest. The caller
// (the coordinator) must apply it via the (NextHop, Currency) friend's
// MutualCredit.ApplyOutgoing before calling ConfirmLegQueued -- Router
// never touches MutualCredit state directly, matching the division of
// responsibility used for forwarding (HandleIncomingRequest assumes
// ApplyIncoming has already run).
type PreparedLeg struct {
	RequestId crypto.Uid
	NextHop   crypto.PublicKey
	Currency  currency.Currency
	Request   mutualcredit.McRequest
}

// Receipt is the aggregated evidence of a fully committed payment (§3,
// GLOSSARY "Commit"): one signed McResponse per leg, handed to the seller
// out of band once assembled.
type Receipt struct {
	PaymentId        crypto.PaymentId
	InvoiceId        crypto.InvoiceId
	Destination      crypto.PublicKey
	TotalDestPayment *big.Int
	Responses        []mutualcredit.McResponse
}

type legState struct {
	leg       PreparedLeg
	committed bool
	response  mutualcredit.McResponse
}

type paymentState struct {
	id               crypto.PaymentId
	destination      crypto.PublicKey
	invoiceId        crypto.InvoiceId
	totalDestPayment *big.Int
	plainLock        crypto.PlainLock
	hashedLock       crypto.HashedLock
	status           PaymentStatus
	legs             map[crypto.Uid]*legState
}

// PrepareMultiRoutePayment begins a RequestPayInvoice (§4.3): it shares
// the caller-supplied plainLock across every leg (so the buyer can recognize the
// first consistent set of commits, per §4.3's "aggregates them into a
// receipt" step) and builds one McRequest per leg. It does not mutate any
// ledger or enqueue anything; see PreparedLeg's doc comment for the
// two-step apply/confirm protocol the caller must follow.
func (r *Router) PrepareMultiRoutePayment(
	paymentId crypto.PaymentId,
	destination crypto.PublicKey,
	invoiceId crypto.InvoiceId,
	totalDestPayment *big.Int,
	legs []RouteLeg,
	newRequestId func() crypto.Uid,
	plainLock crypto.PlainLock,
) ([]PreparedLeg, error) {
	hashedLock := plainLock.HashLock()

	prepared := make([]PreparedLeg, 0, len(legs))
	for _, leg := range legs {
		if len(leg.Route) == 0 {
			return nil, errEmptyRouteLeg
		}
		reqId := newRequestId()
		req := mutualcredit.McRequest{
			RequestId:        reqId,
			SrcHashedLock:    hashedLock,
			Route:            append([]crypto.PublicKey(nil), leg.Route[1:]...),
			DestPayment:      leg.DestPayment,
			TotalDestPayment: totalDestPayment,
			InvoiceId:        invoiceId,
			LeftFees:         leg.LeftFees,
			Destination:      destination,
		}
		prepared = append(prepared, PreparedLeg{
			RequestId: reqId,
			NextHop:   leg.Route[0],
			Currency:  leg.Currency,
			Request:   req,
		})
	}

	r.payments[paymentId] = &paymentState{
		id:               paymentId,
		destination:      destination,
		invoiceId:        invoiceId,
		totalDestPayment: new(big.Int).Set(totalDestPayment),
		plainLock:        plainLock,
		hashedLock:       hashedLock,
		status:           PaymentSearching,
		legs:             make(map[crypto.Uid]*legState),
	}

	return prepared, nil
}

// ConfirmLegQueued finalizes one PreparedLeg after the caller has
// successfully applied it to the relevant MutualCredit via ApplyOutgoing:
// it enqueues the RequestSendFundsOp to leg.NextHop's pending_user_requests
// and registers requestId -> paymentId bookkeeping for CollectResponse/
// CollectCancel.
func (r *Router) ConfirmLegQueued(paymentId crypto.PaymentId, leg PreparedLeg) {
	p, ok := r.payments[paymentId]
	if !ok {
		return
	}
	r.EnqueueUserRequest(leg.NextHop, leg.Currency, mutualcredit.RequestSendFundsOp{Request: leg.Request})
	p.legs[leg.RequestId] = &legState{leg: leg}
	p.status = PaymentSending
}

// AbandonLeg drops bookkeeping for a PreparedLeg whose ApplyOutgoing
// failed (e.g. ErrInsufficientCredits), without ever enqueueing it.
func (r *Router) AbandonLeg(paymentId crypto.PaymentId, requestId crypto.Uid) {
	if p, ok := r.payments[paymentId]; ok {
		delete(p.legs, requestId)
	}
}

// PaymentStatus returns the current status of paymentId.
func (r *Router) PaymentStatus(paymentId crypto.PaymentId) (PaymentStatus, bool) {
	p, ok := r.payments[paymentId]
	if !ok {
		return 0, false
	}
	return p.status, true
}

// CollectResponse records a verified, complete McResponse against one of
// paymentId's own legs (resp.RequestId identifies the leg). A response
// whose hashed lock doesn't match the PlainLock this payment was prepared
// under is not a valid commit for this payment at all (§4.1, §4.3 "the
// buyer accepts the first valid set of commits whose hashed locks match")
// -- it is treated as not belonging to this payment, just like an unknown
// requestId, so the caller falls back to relaying it backward rather than
// silently swallowing a forged or misrouted response. Once every
// registered leg has committed, it assembles and returns the payment's
// Receipt and marks it Done. Returns ok=false if requestId does not belong
// to a payment this node originated -- the caller should then try routing
// it backward via HandleIncomingBackward instead, since the two are
// mutually exclusive (a request is ever only owned by one or the other).
func (r *Router) CollectResponse(requestId crypto.Uid, resp mutualcredit.McResponse) (*Receipt, bool) {
	for _, p := range r.payments {
		ls, ok := p.legs[requestId]
		if !ok {
			continue
		}
		if resp.DestHashedLock != p.hashedLock {
			return nil, false
		}
		ls.committed = true
		ls.response = resp
		p.status = PaymentCommit

		if !allLegsCommitted(p) {
			return nil, true
		}

		receipt := &Receipt{
			PaymentId:        p.id,
			InvoiceId:        p.invoiceId,
			Destination:      p.destination,
			TotalDestPayment: p.totalDestPayment,
		}
		for _, l := range p.legs {
			receipt.Responses = append(receipt.Responses, l.response)
		}
		p.status = PaymentDone
		return receipt, true
	}
	return nil, false
}

// CollectCancel marks paymentId Canceled once any of its legs receives a
// CancelSendFundsOp back -- per §8 scenario 6, a single canceled leg closes
// the whole payment (no partial-success MultiRoute recovery is attempted).
// Returns ok=false if requestId belongs to no payment this node originated.
func (r *Router) CollectCancel(requestId crypto.Uid) bool {
	for _, p := range r.payments {
		if _, ok := p.legs[requestId]; ok {
			p.status = PaymentCanceled
			return true
		}
	}
	return false
}

func allLegsCommitted(p *paymentState) bool {
	for _, l := range p.legs {
		if !l.committed {
			return false
		}
	}
	return len(p.legs) > 0
}
