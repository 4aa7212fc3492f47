package mutualcredit

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
)

// ApplyOutgoing applies op as the side that is queuing it for the peer to
// process. The coordinator calls it before queuing the operation for the
// peer's next MoveToken (§4.2). A failure
// here means the operation is simply not queued; unlike ApplyIncoming it
// never needs to roll back previously-applied operations in the same
// batch, since the caller only adds an operation to the batch after this
// call succeeds.
func (mc *MutualCredit) ApplyOutgoing(op Operation) error {
	switch o := op.(type) {
	case EnableRequestsOp:
		mc.requestsStatus.Local = Open
		return nil

	case DisableRequestsOp:
		mc.requestsStatus.Local = Closed
		return nil

	case SetRemoteMaxDebtOp:
		if !fitsUint128(o.MaxDebt) {
			return ErrCreditCalcOverflow
		}
		mc.balance.RemoteMaxDebt = new(big.Int).Set(o.MaxDebt)
		return nil

	case RequestSendFundsOp:
		return mc.applyOutgoingRequestSendFunds(o.Request)

	case ResponseSendFundsOp:
		return mc.applyOutgoingResponseSendFunds(o.Response)

	case CancelSendFundsOp:
		return mc.applyOutgoingCancelSendFunds(o.Cancel)

	default:
		return ErrInvalidRoute
	}
}

// applyOutgoingRequestSendFunds freezes remote_pending_debt for a request
// this side is forwarding onward, per §4.1:
//
//	freeze = req.dest_payment + req.left_fees
//	fails if remote_pending_debt + freeze > remote_max_debt + balance
//	or request_id collides
func (mc *MutualCredit) applyOutgoingRequestSendFunds(req McRequest) error {
	if mc.requestIdExists(req.RequestId) {
		return ErrRequestAlreadyExists
	}
	if hasDuplicateRoute(req.Route) {
		return ErrInvalidRoute
	}

	freeze := new(big.Int).Add(req.DestPayment, req.LeftFees)
	if !fitsUint128(freeze) {
		return ErrCreditCalcOverflow
	}

	newRemotePending := new(big.Int).Add(mc.balance.RemotePendingDebt, freeze)
	limit := new(big.Int).Add(mc.balance.RemoteMaxDebt, mc.balance.Balance)
	if newRemotePending.Cmp(limit) > 0 {
		return ErrInsufficientCredits
	}
	if !fitsUint128(newRemotePending) {
		return ErrCreditCalcOverflow
	}

	mc.balance.RemotePendingDebt = newRemotePending
	mc.remotePending[req.RequestId] = req.toPendingTransaction()
	return nil
}

// applyOutgoingResponseSendFunds is the "I am sending this response
// backward to whichever friend forwarded the matching request to me"
// side. It looks up the PendingTransaction this side holds as the
// forwarder (localPending, mirroring the peer's remotePending for the
// same request), rejects a response whose hashed lock doesn't match the
// one the request was frozen under, releases the freeze, and moves the
// balance once IsComplete (§4.1, and the CollectSendFunds-derived
// settlement rule documented in SPEC_FULL.md's "Supplemented Features" §1).
func (mc *MutualCredit) applyOutgoingResponseSendFunds(resp McResponse) error {
	pt, ok := mc.localPending[resp.RequestId]
	if !ok {
		return ErrRequestDoesNotExist
	}
	if resp.DestHashedLock != pt.SrcHashedLock {
		return ErrHashedLockMismatch
	}

	frozen := pt.FrozenAmount()
	newLocalPending := new(big.Int).Sub(mc.balance.LocalPendingDebt, frozen)
	if newLocalPending.Sign() < 0 {
		return ErrCreditCalcOverflow
	}
	mc.balance.LocalPendingDebt = newLocalPending
	delete(mc.localPending, resp.RequestId)

	if !resp.IsComplete {
		return nil
	}

	// balance += dest_payment: we forwarded funds on behalf of the peer
	// upstream of us, so our credit against this link grows.
	newBalance := new(big.Int).Add(mc.balance.Balance, pt.DestPayment)
	if !fitsInt128(newBalance) {
		return ErrCreditCalcOverflow
	}
	mc.balance.Balance = newBalance

	fee := new(big.Int).Sub(pt.TotalDestPayment, pt.DestPayment)
	fee.Sub(fee, pt.LeftFees)
	if fee.Sign() > 0 {
		newOutFees := new(big.Int).Add(mc.balance.OutFees, fee)
		if !fitsUint256(newOutFees) {
			return ErrCreditCalcOverflow
		}
		mc.balance.OutFees = newOutFees
	}

	return nil
}

// applyOutgoingCancelSendFunds releases the frozen amount for a request the
// peer forwarded to us (localPending) without moving the balance (§4.1).
func (mc *MutualCredit) applyOutgoingCancelSendFunds(c McCancel) error {
	pt, ok := mc.localPending[c.RequestId]
	if !ok {
		return ErrRequestDoesNotExist
	}
	frozen := pt.FrozenAmount()
	newLocalPending := new(big.Int).Sub(mc.balance.LocalPendingDebt, frozen)
	if newLocalPending.Sign() < 0 {
		return ErrCreditCalcOverflow
	}
	mc.balance.LocalPendingDebt = newLocalPending
	delete(mc.localPending, c.RequestId)
	return nil
}

// hasDuplicateRoute reports whether route visits the same public key
// twice, an invalid route per §4.1's incoming validation (checked on the
// outgoing side too so a malformed route is never queued for the peer in
// the first place).
func hasDuplicateRoute(route []crypto.PublicKey) bool {
	seen := make(map[crypto.PublicKey]struct{}, len(route))
	for _, pk := range route {
		if _, ok := seen[pk]; ok {
			return true
		}
		seen[pk] = struct{}{}
	}
	return false
}
