package funder

import (
	"context"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/persist"
	"github.com/freedomlayer/offset-sub002/router"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
	"github.com/freedomlayer/offset-sub002/wire"
)

// handleFriendMessage dispatches one inbound FriendMessage from the
// transport collaborator (§6 "Coordinator inbound (from transport)").
// Unknown senders are dropped after logging, per §7's "unexpected
// message" handling -- a message from a friend we no longer know about
// (e.g. arriving just after RemoveFriend) is not a protocol violation.
func (c *Coordinator) handleFriendMessage(ctx context.Context, from crypto.PublicKey, msg wire.FriendMessage) {
	f, ok := c.friends[from]
	if !ok {
		log.Debugf("dropping friend message from unknown friend %s", from)
		return
	}

	switch m := msg.(type) {
	case wire.MoveTokenRequest:
		c.handleMoveToken(ctx, from, f, m)
	case wire.InconsistencyError:
		c.handleInconsistencyError(ctx, from, f, m)
	case wire.RelaysUpdate:
		c.handleRelaysUpdate(ctx, from, f, m)
	case wire.RelaysAck:
		c.liveness.AckRelays(from, m.Generation.Uint64())
	default:
		log.Debugf("dropping unrecognized friend message type %T from %s", msg, from)
	}
}

func (c *Coordinator) handleMoveToken(ctx context.Context, from crypto.PublicKey, f *Friend, mtr wire.MoveTokenRequest) {
	out, err := f.TokenChannel.ProcessIncoming(ctx, mtr)
	if err != nil {
		c.handleProcessIncomingError(ctx, from, f, err)
		return
	}

	if out.Resend != nil {
		c.sendFriendMessage(ctx, from, *out.Resend)
		return
	}
	if !out.Accepted {
		return
	}

	var holderHash crypto.Hash
	if in, ok := f.TokenChannel.Status().(tokenchannel.ConsistentIn); ok {
		holderHash = in.LastIncomingMoveTokenHashed
	}
	if _, err := c.store.Append(persist.AdvanceToken{
		PublicKey:        from,
		Holder:           true,
		MoveTokenHash:    holderHash,
		MoveTokenCounter: f.TokenChannel.MoveTokenCounter(),
	}); err != nil {
		c.fatalf(ctx, "persisting AdvanceToken for %s: %v", from, err)
		return
	}

	for _, cur := range mtr.MoveToken.SortedCurrencies() {
		for _, op := range mtr.MoveToken.CurrenciesOperations[cur] {
			if _, err := c.store.Append(persist.ApplyOperation{PublicKey: from, Currency: cur, Op: op, Outgoing: false}); err != nil {
				c.fatalf(ctx, "persisting ApplyOperation for %s/%s: %v", from, cur, err)
				return
			}
			c.routeAcceptedOp(ctx, from, f, cur, op)
		}
	}
}

// routeAcceptedOp implements §4.3's "once the incoming batch has been
// applied, route each operation" step: requests are handed to the
// Router's forwarding decision; responses/cancels are matched first
// against this node's own open payments, then against the global
// request_id table for anything merely passing through.
func (c *Coordinator) routeAcceptedOp(ctx context.Context, from crypto.PublicKey, f *Friend, cur currency.Currency, op mutualcredit.Operation) {
	mc, ok := f.TokenChannel.MutualCredit(cur)
	if !ok {
		return
	}

	switch o := op.(type) {
	case mutualcredit.RequestSendFundsOp:
		pt, ok := mc.LocalPendingTransaction(o.Request.RequestId)
		if !ok {
			log.Errorf("accepted RequestSendFundsOp %x from %s left no localPending entry", o.Request.RequestId.Bytes(), from)
			return
		}
		c.forwardRequest(ctx, from, mc, cur, pt)

	case mutualcredit.ResponseSendFundsOp:
		if receipt, ok := c.router.CollectResponse(o.Response.RequestId, o.Response); ok {
			if receipt != nil {
				log.Infof("payment %x committed: %d legs", receipt.PaymentId.Bytes(), len(receipt.Responses))
			}
			return
		}
		c.relayBackward(ctx, o.Response.RequestId, op)

	case mutualcredit.CancelSendFundsOp:
		if c.router.CollectCancel(o.Cancel.RequestId) {
			return
		}
		c.relayBackward(ctx, o.Cancel.RequestId, op)
	}
}

// forwardRequest applies HandleIncomingRequest's verdict: forwarding
// onward commits the op to the next hop's ledger immediately (undoing
// the Router's queueing if that ledger rejects it), canceling backward
// applies the cancel to the incoming friend's own ledger, and reaching
// the destination parks the leg against whatever invoice it names.
func (c *Coordinator) forwardRequest(ctx context.Context, from crypto.PublicKey, fromMC *mutualcredit.MutualCredit, cur currency.Currency, pt *mutualcredit.PendingTransaction) {
	result := c.router.HandleIncomingRequest(from, cur, pt)

	switch result.Outcome {
	case router.ForwardedToNextHop:
		nextFriend, ok := c.friends[result.NextHop]
		if !ok {
			c.undoForward(ctx, from, fromMC, cur, result)
			return
		}
		nextMC, ok := nextFriend.TokenChannel.MutualCredit(cur)
		if !ok {
			c.undoForward(ctx, from, fromMC, cur, result)
			return
		}
		if err := nextMC.ApplyOutgoing(result.ForwardedRequest); err != nil {
			log.Debugf("forwarding %x to %s rejected by ledger: %v", pt.RequestId.Bytes(), result.NextHop, err)
			c.undoForward(ctx, from, fromMC, cur, result)
			return
		}
		if _, err := c.store.Append(persist.ApplyOperation{PublicKey: result.NextHop, Currency: cur, Op: result.ForwardedRequest, Outgoing: true}); err != nil {
			c.fatalf(ctx, "persisting forwarded request toward %s: %v", result.NextHop, err)
		}

	case router.ForwardCanceled:
		if err := fromMC.ApplyOutgoing(result.BackwardOp); err != nil {
			log.Errorf("applying backward cancel toward %s failed: %v", from, err)
			return
		}
		if _, err := c.store.Append(persist.ApplyOperation{PublicKey: from, Currency: cur, Op: result.BackwardOp, Outgoing: true}); err != nil {
			c.fatalf(ctx, "persisting backward cancel toward %s: %v", from, err)
		}

	case router.ForwardDestinationReached:
		c.parkIncomingLeg(ctx, from, cur, pt)
	}
}

// undoForward reverses a queued-but-rejected forward: the cancel applied
// here to fromMC (localPending, where the original request still lives)
// mirrors the one UndoForward separately builds for its own backward
// queue -- duplicated construction, not duplicated ledger application.
func (c *Coordinator) undoForward(ctx context.Context, from crypto.PublicKey, fromMC *mutualcredit.MutualCredit, cur currency.Currency, result router.ForwardResult) {
	requestId := result.Pending.RequestId
	cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: requestId}}
	if err := fromMC.ApplyOutgoing(cancelOp); err != nil {
		log.Errorf("undoing forward toward %s: applying cancel to %s failed: %v", result.NextHop, from, err)
		return
	}
	if _, err := c.store.Append(persist.ApplyOperation{PublicKey: from, Currency: cur, Op: cancelOp, Outgoing: true}); err != nil {
		c.fatalf(ctx, "persisting undo-forward cancel toward %s: %v", from, err)
		return
	}
	c.router.UndoForward(result.NextHop, cur, requestId)
}

// parkIncomingLeg handles ForwardDestinationReached: pt names an invoice
// this node must already have issued via AddInvoice. A request naming an
// unknown invoice, the wrong currency, or an invoice that is no longer
// open is canceled immediately rather than parked.
func (c *Coordinator) parkIncomingLeg(ctx context.Context, from crypto.PublicKey, cur currency.Currency, pt *mutualcredit.PendingTransaction) {
	inv, ok := c.invoices[pt.InvoiceId]
	if ok && inv.currency == cur && inv.status == invoiceOpen {
		inv.legs[pt.RequestId] = &incomingLeg{friend: from, currency: cur, pending: pt}
		return
	}

	f, ok := c.friends[from]
	if !ok {
		return
	}
	mc, ok := f.TokenChannel.MutualCredit(cur)
	if !ok {
		return
	}
	cancelOp := mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: pt.RequestId}}
	if err := mc.ApplyOutgoing(cancelOp); err != nil {
		log.Errorf("canceling request for unknown/closed invoice %x: %v", pt.InvoiceId.Bytes(), err)
		return
	}
	if _, err := c.store.Append(persist.ApplyOperation{PublicKey: from, Currency: cur, Op: cancelOp, Outgoing: true}); err != nil {
		c.fatalf(ctx, "persisting invoice-rejection cancel toward %s: %v", from, err)
		return
	}
	c.router.EnqueueBackward(from, cur, cancelOp)
}

// relayBackward handles a Response/Cancel that belongs to neither a
// payment this node originated: it must be relayed on toward whoever
// forwarded the matching request to us, applying it as an outgoing op
// against that friend's own ledger first (§4.3 "Handling responses/
// cancels"). A request_id this node is not currently routing is simply
// dropped, per §7.
func (c *Coordinator) relayBackward(ctx context.Context, requestId crypto.Uid, op mutualcredit.Operation) {
	target, cur, ok := c.router.RouteFor(requestId)
	if !ok {
		log.Debugf("dropping backward op for unrouted request %x", requestId.Bytes())
		return
	}
	f, ok := c.friends[target]
	if !ok {
		return
	}
	mc, ok := f.TokenChannel.MutualCredit(cur)
	if !ok {
		return
	}
	if err := mc.ApplyOutgoing(op); err != nil {
		log.Errorf("relaying backward op for %x toward %s failed: %v", requestId.Bytes(), target, err)
		return
	}
	if _, err := c.store.Append(persist.ApplyOperation{PublicKey: target, Currency: cur, Op: op, Outgoing: true}); err != nil {
		c.fatalf(ctx, "persisting relayed backward op toward %s: %v", target, err)
		return
	}
	c.router.HandleIncomingBackward(requestId, op)
}

// handleProcessIncomingError distinguishes a protocol violation (the
// token channel already transitioned to Inconsistent -- recoverable via
// the reset protocol) from an infrastructure failure (it did not --
// fatal, since state is now uncertain) and from the benign "unexpected
// message in this tc_status, already dropped" case (§7).
func (c *Coordinator) handleProcessIncomingError(ctx context.Context, from crypto.PublicKey, f *Friend, err error) {
	terms, isInconsistent := f.TokenChannel.LocalResetTerms()
	if !isInconsistent {
		if err == tokenchannel.ErrUnexpectedState {
			log.Debugf("dropped unexpected MoveToken from %s: %v", from, err)
			return
		}
		c.fatalf(ctx, "processing MoveToken from %s: %v", from, err)
		return
	}

	if _, err := c.store.Append(persist.Inconsistent{
		PublicKey:            from,
		InconsistencyCounter: terms.InconsistencyCounter,
		LocalResetToken:      terms.ResetToken,
	}); err != nil {
		c.fatalf(ctx, "persisting inconsistency with %s: %v", from, err)
		return
	}

	log.Warnf("friend %s channel inconsistent: %v", from, err)
	balances := make([]wire.CurrencyBalance, len(terms.BalanceForReset))
	for i, b := range terms.BalanceForReset {
		balances[i] = wire.CurrencyBalance{Currency: b.Currency, BalanceForReset: b.BalanceForReset}
	}
	c.sendFriendMessage(ctx, from, wire.InconsistencyError{
		InconsistencyCounter: terms.InconsistencyCounter,
		BalanceForReset:      balances,
		ResetToken:           terms.ResetToken,
	})
}

func (c *Coordinator) handleInconsistencyError(ctx context.Context, from crypto.PublicKey, f *Friend, msg wire.InconsistencyError) {
	if err := f.TokenChannel.ProcessInconsistencyError(ctx, msg); err != nil {
		c.fatalf(ctx, "processing InconsistencyError from %s: %v", from, err)
		return
	}
	terms, _ := f.TokenChannel.LocalResetTerms()
	if _, err := c.store.Append(persist.Inconsistent{
		PublicKey:            from,
		InconsistencyCounter: terms.InconsistencyCounter,
		LocalResetToken:      terms.ResetToken,
	}); err != nil {
		c.fatalf(ctx, "persisting inconsistency with %s: %v", from, err)
	}
}

func (c *Coordinator) handleRelaysUpdate(ctx context.Context, from crypto.PublicKey, f *Friend, msg wire.RelaysUpdate) {
	gen := msg.Generation.Uint64()
	c.sendFriendMessage(ctx, from, wire.RelaysAck{Generation: msg.Generation})
	if c.relayDialer != nil {
		if err := c.relayDialer.Dial(ctx, msg.Relays); err != nil {
			log.Debugf("dialing relays announced by %s (gen %d) failed: %v", from, gen, err)
		}
	}
}

func (c *Coordinator) sendFriendMessage(ctx context.Context, to crypto.PublicKey, msg wire.FriendMessage) {
	if c.transport == nil {
		return
	}
	if err := c.transport.SendFriendMessage(ctx, to, msg); err != nil {
		log.Debugf("sending friend message to %s failed (left for the next resend): %v", to, err)
	}
}
