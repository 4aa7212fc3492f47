package tokenchannel

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// ErrUnknownResetTerms is returned by ResetFriendChannel when the token
// requested to accept does not match the peer's currently known reset
// terms (§7 "channel not inconsistent when ResetFriendChannel requested,
// unknown remote reset terms").
var ErrUnknownResetTerms = errors.New("tokenchannel: reset token does not match peer's known reset terms")

// failInconsistent transitions the channel to Inconsistent and returns
// whichever error the caller should surface: the signer failing to
// produce LocalResetTerms is an infrastructure failure and takes priority
// over the original protocol-violation error, matching §7's severity
// ordering (infrastructure failures are fatal; protocol violations are
// recoverable).
func (tc *TokenChannel) failInconsistent(ctx context.Context, origErr error) (ProcessIncomingOutput, error) {
	if err := tc.enterInconsistent(ctx); err != nil {
		return ProcessIncomingOutput{}, err
	}
	return ProcessIncomingOutput{}, origErr
}

// enterInconsistent builds LocalResetTerms from this side's current
// (already rolled-back-to-last-agreed) balance belief, signs it, and
// transitions tc_status to Inconsistent, preserving any previously learned
// OptRemoteResetTerms.
func (tc *TokenChannel) enterInconsistent(ctx context.Context) error {
	var optRemote *ResetTerms
	if inc, ok := tc.status.(Inconsistent); ok {
		optRemote = inc.OptRemoteResetTerms
	}

	terms, err := tc.buildLocalResetTerms(ctx)
	if err != nil {
		return err
	}
	tc.status = Inconsistent{LocalResetTerms: terms, OptRemoteResetTerms: optRemote}
	return nil
}

func (tc *TokenChannel) buildLocalResetTerms(ctx context.Context) (ResetTerms, error) {
	counter := tc.inconsistencyCounter + 1

	balances := make([]wire.CurrencyBalance, 0, len(tc.mutualCredits))
	for _, cur := range tc.ActiveCurrencies() {
		mc := tc.mutualCredits[cur]
		balances = append(balances, wire.CurrencyBalance{
			Currency:        cur,
			BalanceForReset: new(big.Int).Set(mc.Balance().Balance),
		})
	}

	fp := wire.ResetFingerprint(counter, balances, tc.LocalPublicKey, tc.RemotePublicKey)
	sig, err := tc.identity.Sign(ctx, fp)
	if err != nil {
		return ResetTerms{}, err
	}

	return ResetTerms{InconsistencyCounter: counter, BalanceForReset: balances, ResetToken: sig}, nil
}

// ProcessInconsistencyError applies a peer-emitted InconsistencyError,
// per §4.2: "Any state → Inconsistent via receive-InconsistencyError".
func (tc *TokenChannel) ProcessInconsistencyError(ctx context.Context, msg wire.InconsistencyError) error {
	remote := ResetTerms{
		InconsistencyCounter: msg.InconsistencyCounter,
		BalanceForReset:      msg.BalanceForReset,
		ResetToken:           msg.ResetToken,
	}

	if inc, ok := tc.status.(Inconsistent); ok {
		tc.status = Inconsistent{LocalResetTerms: inc.LocalResetTerms, OptRemoteResetTerms: &remote}
		return nil
	}

	terms, err := tc.buildLocalResetTerms(ctx)
	if err != nil {
		return err
	}
	tc.status = Inconsistent{LocalResetTerms: terms, OptRemoteResetTerms: &remote}
	return nil
}

// LocalResetTerms returns this side's current reset proposal, for the
// caller to package into an InconsistencyError FriendMessage. ok is false
// unless tc_status is Inconsistent.
func (tc *TokenChannel) LocalResetTerms() (ResetTerms, bool) {
	inc, ok := tc.status.(Inconsistent)
	if !ok {
		return ResetTerms{}, false
	}
	return inc.LocalResetTerms, true
}

// RemoteResetTerms returns the peer's most recently learned reset
// proposal, if any.
func (tc *TokenChannel) RemoteResetTerms() (ResetTerms, bool) {
	inc, ok := tc.status.(Inconsistent)
	if !ok || inc.OptRemoteResetTerms == nil {
		return ResetTerms{}, false
	}
	return *inc.OptRemoteResetTerms, true
}

// ResetFriendChannel finalizes the reset protocol by accepting
// peerResetToken -- which must match the peer's currently known
// ResetToken exactly (§6 "ResetFriendChannel(reset_token)") -- and
// producing the MoveToken that carries the agreed balances back to the
// peer. Per §4.2: "old_token equal to the peer's reset token and
// inconsistency_counter incremented; this atomically replaces all
// McBalances with the agreed values and clears all pending transactions."
func (tc *TokenChannel) ResetFriendChannel(ctx context.Context, peerResetToken crypto.Signature) (wire.MoveTokenRequest, error) {
	inc, ok := tc.status.(Inconsistent)
	if !ok {
		return wire.MoveTokenRequest{}, ErrNotInconsistent
	}
	if inc.OptRemoteResetTerms == nil || inc.OptRemoteResetTerms.ResetToken != peerResetToken {
		return wire.MoveTokenRequest{}, ErrUnknownResetTerms
	}
	remote := *inc.OptRemoteResetTerms

	// The peer's balance_for_reset is its own balance belief; ours is
	// the negation, since a consistent channel always holds
	// peer.balance == -local.balance (§8 invariant 2).
	negated := make([]wire.CurrencyBalance, len(remote.BalanceForReset))
	for i, b := range remote.BalanceForReset {
		negated[i] = wire.CurrencyBalance{Currency: b.Currency, BalanceForReset: new(big.Int).Neg(b.BalanceForReset)}
	}
	tc.applyResetBalances(negated)
	tc.inconsistencyCounter = remote.InconsistencyCounter

	oldToken := crypto.HashBytes(peerResetToken.Bytes())
	return tc.produceResetMoveToken(ctx, oldToken)
}

// applyResetBalances replaces every active currency's McBalance with a
// fresh zero-pending balance at the agreed value, clearing all pending
// transactions on both sides, per §4.2's reset finalization.
func (tc *TokenChannel) applyResetBalances(balances []wire.CurrencyBalance) {
	for _, b := range balances {
		tc.mutualCredits[b.Currency] = mutualcredit.New(tc.LocalPublicKey, tc.RemotePublicKey, b.Currency, b.BalanceForReset.Int64())
	}
}

// produceResetMoveToken signs and transitions out of Inconsistent using
// oldToken as the MoveToken's old_token, independent of ProduceOutgoing's
// ordinary ConsistentIn precondition.
func (tc *TokenChannel) produceResetMoveToken(ctx context.Context, oldToken crypto.Hash) (wire.MoveTokenRequest, error) {
	var randNonce [16]byte
	if _, err := rand.Read(randNonce[:]); err != nil {
		return wire.MoveTokenRequest{}, err
	}

	mt := wire.MoveToken{
		OldToken:             oldToken,
		CurrenciesOperations: map[currency.Currency][]mutualcredit.Operation{},
		InfoHash:             tc.computeInfoHash(),
		MoveTokenCounter:     new(big.Int).Add(tc.moveTokenCounter, big.NewInt(1)),
	}
	copy(mt.RandNonce[:], randNonce[:])

	fp := wire.Fingerprint(mt, mt.MoveTokenCounter, tc.LocalPublicKey, tc.RemotePublicKey)
	sig, err := tc.identity.Sign(ctx, fp)
	if err != nil {
		return wire.MoveTokenRequest{}, err
	}
	mt.NewToken = sig

	tc.moveTokenCounter = mt.MoveTokenCounter
	newHash := hashMoveToken(mt)
	tc.outgoingHistory[1] = tc.outgoingHistory[0]
	tc.outgoingHistory[0] = &newHash
	tc.status = ConsistentOut{LastOutgoingMoveToken: mt}

	return wire.MoveTokenRequest{MoveToken: mt}, nil
}

// processIncomingDuringReset handles a MoveTokenRequest received while
// tc_status is Inconsistent: it finalizes the reset only if old_token
// equals the hash of our own previously proposed ResetToken (meaning the
// peer just called the equivalent of ResetFriendChannel, accepting our
// terms); any other message in this state is an unexpected message and is
// silently dropped after logging, per §7.
func (tc *TokenChannel) processIncomingDuringReset(ctx context.Context, inc Inconsistent, mtr wire.MoveTokenRequest) (ProcessIncomingOutput, error) {
	ourTokenHash := crypto.HashBytes(inc.LocalResetTerms.ResetToken.Bytes())
	if mtr.MoveToken.OldToken != ourTokenHash {
		log.Debugf("dropping MoveToken received while Inconsistent: old_token does not finalize our reset terms")
		return ProcessIncomingOutput{}, ErrUnexpectedState
	}

	tc.applyResetBalances(inc.LocalResetTerms.BalanceForReset)
	tc.inconsistencyCounter = inc.LocalResetTerms.InconsistencyCounter
	tc.moveTokenCounter = mtr.MoveToken.MoveTokenCounter
	tc.status = ConsistentIn{LastIncomingMoveTokenHashed: hashMoveToken(mtr.MoveToken)}

	return ProcessIncomingOutput{Accepted: true}, nil
}
