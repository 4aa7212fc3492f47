package mutualcredit

import (
	"context"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
)

// IncomingConfig carries the per-currency knobs and collaborators needed to
// validate an incoming operation: the fee rate this node charges for
// forwarding on this currency/link (§4.3), and the identity collaborator
// used to verify an McResponse's signature (§4.1).
type IncomingConfig struct {
	Rate     FeeRate
	Identity crypto.IdentityClient
}

// ProcessOperationOutput reports side effects of ApplyIncoming that the
// caller (the token channel, and above it the router) needs in order to
// enqueue further work -- e.g. a McResponse/McCancel that must now be
// forwarded further backward is not produced here; ApplyIncoming only
// updates ledger state. This type is reserved for future output fields
// (e.g. fee actually retained) without changing ApplyIncoming's signature.
type ProcessOperationOutput struct {
	// RetainedFee is set when processing a RequestSendFundsOp: the
	// portion of left_fees this node kept for itself before forwarding
	// the remainder onward.
	RetainedFee *big.Int
}

// ApplyIncoming applies op as the side receiving it from the peer that
// currently holds the token. It is the symmetric "other half" of
// ApplyOutgoing: where ApplyOutgoing freezes remote_pending_debt,
// ApplyIncoming freezes local_pending_debt, and so on, so that both sides
// converge on the same balance once MoveTokens have crossed (§4.1, law in
// §8).
func (mc *MutualCredit) ApplyIncoming(ctx context.Context, op Operation, cfg IncomingConfig) (ProcessOperationOutput, error) {
	switch o := op.(type) {
	case EnableRequestsOp:
		mc.requestsStatus.Remote = Open
		return ProcessOperationOutput{}, nil

	case DisableRequestsOp:
		mc.requestsStatus.Remote = Closed
		return ProcessOperationOutput{}, nil

	case SetRemoteMaxDebtOp:
		if !fitsUint128(o.MaxDebt) {
			return ProcessOperationOutput{}, ErrCreditCalcOverflow
		}
		mc.balance.LocalMaxDebt = new(big.Int).Set(o.MaxDebt)
		return ProcessOperationOutput{}, nil

	case RequestSendFundsOp:
		return mc.applyIncomingRequestSendFunds(o.Request, cfg.Rate)

	case ResponseSendFundsOp:
		return ProcessOperationOutput{}, mc.applyIncomingResponseSendFunds(ctx, o.Response, cfg.Identity)

	case CancelSendFundsOp:
		return ProcessOperationOutput{}, mc.applyIncomingCancelSendFunds(o.Cancel)

	default:
		return ProcessOperationOutput{}, ErrInvalidRoute
	}
}

// applyIncomingRequestSendFunds accepts a request forwarded to us by the
// peer, per §4.1:
//
//	validates left_fees >= configured_rate(dest_payment)
//	deducts the node's fee from left_fees
//	increases local_pending_debt, stores in local-pending
//	fails if requests-local is Closed, request_id collides anywhere on
//	this side, left_fees insufficient, or route has duplicates
func (mc *MutualCredit) applyIncomingRequestSendFunds(req McRequest, rate FeeRate) (ProcessOperationOutput, error) {
	if mc.requestsStatus.Local == Closed {
		return ProcessOperationOutput{}, ErrRequestsDisabled
	}
	if mc.requestIdExists(req.RequestId) {
		return ProcessOperationOutput{}, ErrRequestAlreadyExists
	}
	if hasDuplicateRoute(req.Route) {
		return ProcessOperationOutput{}, ErrInvalidRoute
	}

	myFee := rate.Apply(req.DestPayment)
	if req.LeftFees.Cmp(myFee) < 0 {
		return ProcessOperationOutput{}, ErrFeeTooLow
	}

	remainingFees := new(big.Int).Sub(req.LeftFees, myFee)
	freeze := new(big.Int).Add(req.DestPayment, remainingFees)
	if !fitsUint128(freeze) {
		return ProcessOperationOutput{}, ErrCreditCalcOverflow
	}

	newLocalPending := new(big.Int).Add(mc.balance.LocalPendingDebt, freeze)
	limit := new(big.Int).Add(mc.balance.LocalMaxDebt, new(big.Int).Neg(mc.balance.Balance))
	if newLocalPending.Cmp(limit) > 0 {
		return ProcessOperationOutput{}, ErrInsufficientCredits
	}
	if !fitsUint128(newLocalPending) {
		return ProcessOperationOutput{}, ErrCreditCalcOverflow
	}

	mc.balance.LocalPendingDebt = newLocalPending

	stored := req
	stored.LeftFees = remainingFees
	mc.localPending[req.RequestId] = stored.toPendingTransaction()

	return ProcessOperationOutput{RetainedFee: myFee}, nil
}

// applyIncomingResponseSendFunds is the "the peer sent me a response
// backward" side: this side forwarded the request toward the peer, so the
// frozen amount here lives in remotePending (mirroring the peer's
// localPending for the same request_id). The response's hashed lock must
// match the one this side froze the request under, and the destination's
// signature over it, before either the freeze is released or the balance
// moves (§4.1).
func (mc *MutualCredit) applyIncomingResponseSendFunds(ctx context.Context, resp McResponse, identity crypto.IdentityClient) error {
	pt, ok := mc.remotePending[resp.RequestId]
	if !ok {
		return ErrRequestDoesNotExist
	}
	if resp.DestHashedLock != pt.SrcHashedLock {
		return ErrHashedLockMismatch
	}

	if identity != nil {
		buf := BuildResponseSignatureBuffer(mc.Currency, resp, pt)
		if !identity.Verify(ctx, pt.Destination, buf, resp.Signature) {
			return ErrInvalidSignature
		}
	}

	frozen := pt.FrozenAmount()
	newRemotePending := new(big.Int).Sub(mc.balance.RemotePendingDebt, frozen)
	if newRemotePending.Sign() < 0 {
		return ErrCreditCalcOverflow
	}
	mc.balance.RemotePendingDebt = newRemotePending
	delete(mc.remotePending, resp.RequestId)

	if !resp.IsComplete {
		return nil
	}

	// balance -= dest_payment: we received funds forwarded toward us on
	// this link, so our credit against it shrinks.
	newBalance := new(big.Int).Sub(mc.balance.Balance, pt.DestPayment)
	if !fitsInt128(newBalance) {
		return ErrCreditCalcOverflow
	}
	mc.balance.Balance = newBalance

	fee := new(big.Int).Sub(pt.TotalDestPayment, pt.DestPayment)
	fee.Sub(fee, pt.LeftFees)
	if fee.Sign() > 0 {
		newInFees := new(big.Int).Add(mc.balance.InFees, fee)
		if !fitsUint256(newInFees) {
			return ErrCreditCalcOverflow
		}
		mc.balance.InFees = newInFees
	}

	return nil
}

// applyIncomingCancelSendFunds releases the frozen amount on the
// remote-pending side without moving the balance (§4.1).
func (mc *MutualCredit) applyIncomingCancelSendFunds(c McCancel) error {
	pt, ok := mc.remotePending[c.RequestId]
	if !ok {
		return ErrRequestDoesNotExist
	}
	frozen := pt.FrozenAmount()
	newRemotePending := new(big.Int).Sub(mc.balance.RemotePendingDebt, frozen)
	if newRemotePending.Sign() < 0 {
		return ErrCreditCalcOverflow
	}
	mc.balance.RemotePendingDebt = newRemotePending
	delete(mc.remotePending, c.RequestId)
	return nil
}
