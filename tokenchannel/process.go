package tokenchannel

import (
	"context"
	"math/big"

	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// ProcessIncomingOutput reports the result of ProcessIncoming.
type ProcessIncomingOutput struct {
	// Accepted is true when the MoveToken was applied and tc_status moved
	// to ConsistentIn.
	Accepted bool

	// Resend is set on the duplicate/idempotent-resend path (§4.2,
	// §8 Scenario 5): no state changed; the caller should send Resend
	// back to the peer instead of reprocessing.
	Resend *wire.MoveTokenRequest

	// RetainedFees accumulates, per currency, the forwarding fee this
	// node kept while processing any RequestSendFundsOp in the batch.
	RetainedFees map[currency.Currency]*big.Int
}

// ProcessIncoming validates and applies an incoming MoveTokenRequest
// against the current tc_status, per §4.2's six-step description:
//  1. duplicate/old_token check
//  2. move_token_counter + signature verification
//  3. apply currencies_diff
//  4. apply each currency's operations through Incoming MC
//  5. verify info_hash
//  6. transition to ConsistentIn
//
// Any failure from step 2 onward is a peer-attributable protocol
// violation and pushes the channel to Inconsistent (§7); ledger mutations
// from steps 3-4 are rolled back first so Inconsistent's LocalResetTerms
// reflect the last agreed-upon state, not a partially-applied batch.
func (tc *TokenChannel) ProcessIncoming(ctx context.Context, mtr wire.MoveTokenRequest) (ProcessIncomingOutput, error) {
	switch st := tc.status.(type) {
	case ConsistentOut:
		return tc.processIncomingConsistentOut(ctx, st, mtr)
	case Inconsistent:
		return tc.processIncomingDuringReset(ctx, st, mtr)
	default:
		log.Debugf("dropping MoveToken received in unexpected tc_status %T", tc.status)
		return ProcessIncomingOutput{}, ErrUnexpectedState
	}
}

func (tc *TokenChannel) processIncomingConsistentOut(ctx context.Context, out ConsistentOut, mtr wire.MoveTokenRequest) (ProcessIncomingOutput, error) {
	mt := mtr.MoveToken

	expectedOld := hashMoveToken(out.LastOutgoingMoveToken)
	if mt.OldToken != expectedOld {
		if tc.outgoingHistory[1] != nil && mt.OldToken == *tc.outgoingHistory[1] {
			resend := wire.MoveTokenRequest{MoveToken: out.LastOutgoingMoveToken, TokenWanted: true}
			return ProcessIncomingOutput{Resend: &resend}, nil
		}
		return tc.failInconsistent(ctx, ErrBadOldToken)
	}

	expectedCounter := new(big.Int).Add(tc.moveTokenCounter, big.NewInt(1))
	if mt.MoveTokenCounter.Cmp(expectedCounter) != 0 {
		return tc.failInconsistent(ctx, ErrBadCounter)
	}

	fp := wire.Fingerprint(mt, mt.MoveTokenCounter, tc.RemotePublicKey, tc.LocalPublicKey)
	if tc.identity == nil || !tc.identity.Verify(ctx, tc.RemotePublicKey, fp, mt.NewToken) {
		return tc.failInconsistent(ctx, ErrBadSignature)
	}

	remoteBefore := tc.currenciesRemote.Sorted()
	mcBefore := tc.snapshotAll()
	rollback := func() {
		tc.restoreRemoteSet(remoteBefore)
		tc.restoreAll(mcBefore)
	}

	if err := tc.applyCurrenciesDiff(mt.CurrenciesDiff); err != nil {
		rollback()
		return tc.failInconsistent(ctx, err)
	}

	retained := make(map[currency.Currency]*big.Int)
	for _, cur := range mt.SortedCurrencies() {
		mc, ok := tc.mutualCredits[cur]
		if !ok {
			rollback()
			return tc.failInconsistent(ctx, ErrBadInfoHash)
		}
		for _, op := range mt.CurrenciesOperations[cur] {
			out, err := mc.ApplyIncoming(ctx, op, mutualcredit.IncomingConfig{Rate: tc.rate(cur), Identity: tc.identity})
			if err != nil {
				rollback()
				return tc.failInconsistent(ctx, err)
			}
			if out.RetainedFee != nil {
				acc, ok := retained[cur]
				if !ok {
					acc = big.NewInt(0)
				}
				retained[cur] = new(big.Int).Add(acc, out.RetainedFee)
			}
		}
	}

	if tc.computeInfoHash() != mt.InfoHash {
		rollback()
		return tc.failInconsistent(ctx, ErrBadInfoHash)
	}

	tc.moveTokenCounter = mt.MoveTokenCounter
	newHash := hashMoveToken(mt)
	tc.status = ConsistentIn{LastIncomingMoveTokenHashed: newHash}

	return ProcessIncomingOutput{Accepted: true, RetainedFees: retained}, nil
}

func (tc *TokenChannel) snapshotAll() map[currency.Currency]mutualcredit.Snapshot {
	snaps := make(map[currency.Currency]mutualcredit.Snapshot, len(tc.mutualCredits))
	for cur, mc := range tc.mutualCredits {
		snaps[cur] = mc.Snapshot()
	}
	return snaps
}

func (tc *TokenChannel) restoreAll(snaps map[currency.Currency]mutualcredit.Snapshot) {
	for cur := range tc.mutualCredits {
		if _, existed := snaps[cur]; !existed {
			delete(tc.mutualCredits, cur)
		}
	}
	for cur, snap := range snaps {
		tc.mutualCredits[cur] = mutualcredit.Restore(snap)
	}
}

func (tc *TokenChannel) restoreRemoteSet(members []currency.Currency) {
	fresh := currency.NewSet()
	for _, c := range members {
		fresh.Add(c)
	}
	tc.currenciesRemote = fresh
}
