package tokenchannel

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// TestPairInconsistencyWithMatchingBalanceProposals generalizes
// TestInducedInconsistencyAndReset to the case where both sides detect
// the mismatch independently (rather than one learning of it only via
// the other's InconsistencyError) and, by coincidence, propose the exact
// same balance_for_reset value rather than mirrored negations. A
// consistent channel always has peer.balance == -local.balance, so two
// identical proposals can never both be correct; the reset protocol must
// still reconcile them into a proper mirror pair via ResetFriendChannel's
// unconditional negation of whichever side's terms get accepted, not by
// trusting that the two proposals already agree.
func TestPairInconsistencyWithMatchingBalanceProposals(t *testing.T) {
	ctx := context.Background()
	pk0, id0, pk1, id1 := testKeys(t)
	fst1, err := currency.New("FST1")
	require.NoError(t, err)

	tc0 := New(pk0, pk1, id0, 10)
	tc1 := New(pk1, pk0, id1, 10)

	// Both sides believe they hold the same +5 balance -- impossible in
	// a consistent channel, but exactly the kind of double mismatch a
	// partitioned pair can independently drift into.
	tc0.currenciesLocal.Add(fst1)
	tc0.currenciesRemote.Add(fst1)
	tc0.mutualCredits[fst1] = mutualcredit.New(pk0, pk1, fst1, 5)

	tc1.currenciesLocal.Add(fst1)
	tc1.currenciesRemote.Add(fst1)
	tc1.mutualCredits[fst1] = mutualcredit.New(pk1, pk0, fst1, 5)

	require.NoError(t, tc0.enterInconsistent(ctx))
	require.NoError(t, tc1.enterInconsistent(ctx))

	pk0Terms, ok := tc0.LocalResetTerms()
	require.True(t, ok)
	pk1Terms, ok := tc1.LocalResetTerms()
	require.True(t, ok)
	require.Equal(t, pk0Terms.BalanceForReset[0].BalanceForReset, pk1Terms.BalanceForReset[0].BalanceForReset,
		"test fixture requires the two independent proposals to coincide in value")

	// Each side learns of the other's independently-raised inconsistency,
	// as if both InconsistencyError messages crossed in flight.
	require.NoError(t, tc0.ProcessInconsistencyError(ctx, wire.InconsistencyError{
		InconsistencyCounter: pk1Terms.InconsistencyCounter,
		BalanceForReset:      pk1Terms.BalanceForReset,
		ResetToken:           pk1Terms.ResetToken,
	}))
	require.NoError(t, tc1.ProcessInconsistencyError(ctx, wire.InconsistencyError{
		InconsistencyCounter: pk0Terms.InconsistencyCounter,
		BalanceForReset:      pk0Terms.BalanceForReset,
		ResetToken:           pk0Terms.ResetToken,
	}))

	inc0, ok := tc0.Status().(Inconsistent)
	require.True(t, ok)
	require.NotNil(t, inc0.OptRemoteResetTerms)
	inc1, ok := tc1.Status().(Inconsistent)
	require.True(t, ok)
	require.NotNil(t, inc1.OptRemoteResetTerms)

	// pk0 (the smaller key, matching the bootstrap tie-break this module
	// already uses elsewhere) accepts pk1's terms.
	resetMtr, err := tc0.ResetFriendChannel(ctx, pk1Terms.ResetToken)
	require.NoError(t, err)

	mc0, ok := tc0.MutualCredit(fst1)
	require.True(t, ok)
	require.Zero(t, big.NewInt(-5).Cmp(mc0.Balance().Balance),
		"accepting the peer's terms must negate them even though they numerically matched ours")

	out, err := tc1.ProcessIncoming(ctx, resetMtr)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	mc1, ok := tc1.MutualCredit(fst1)
	require.True(t, ok)
	require.Zero(t, big.NewInt(5).Cmp(mc1.Balance().Balance))

	// The two sides are now a proper mirror pair, not the doubly-wrong
	// +5/+5 they each independently proposed.
	require.Zero(t, new(big.Int).Neg(mc0.Balance().Balance).Cmp(mc1.Balance().Balance))
	require.Equal(t, pk1Terms.InconsistencyCounter, tc0.InconsistencyCounter())
	require.Equal(t, pk1Terms.InconsistencyCounter, tc1.InconsistencyCounter())

	_, ok = tc1.Status().(ConsistentIn)
	require.True(t, ok)
	_, ok = tc0.Status().(ConsistentOut)
	require.True(t, ok)
}
