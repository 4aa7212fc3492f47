package tokenchannel

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

func testKeys(t *testing.T) (crypto.PublicKey, *crypto.SoftwareIdentity, crypto.PublicKey, *crypto.SoftwareIdentity) {
	t.Helper()
	seed0 := make([]byte, 32)
	seed0[0] = 1
	seed1 := make([]byte, 32)
	seed1[0] = 2

	id0, err := crypto.SoftwareIdentityFromSeed(seed0)
	require.NoError(t, err)
	id1, err := crypto.SoftwareIdentityFromSeed(seed1)
	require.NoError(t, err)

	pk0, err := id0.PublicKey(context.Background())
	require.NoError(t, err)
	pk1, err := id1.PublicKey(context.Background())
	require.NoError(t, err)

	require.True(t, crypto.Less(pk0, pk1), "test fixture assumes pk0 sorts before pk1")
	return pk0, id0, pk1, id1
}

func TestBootstrapAssignsTokenHolderBySmallerKey(t *testing.T) {
	pk0, id0, pk1, id1 := testKeys(t)

	tc0 := New(pk0, pk1, id0, 10)
	tc1 := New(pk1, pk0, id1, 10)

	_, ok := tc0.Status().(ConsistentIn)
	require.True(t, ok, "smaller public key should start holding the token")

	_, ok = tc1.Status().(ConsistentOut)
	require.True(t, ok, "larger public key should start not holding the token")
}

// TestMoveTokenHandshakeRoundtrip exercises §8 Scenario 1's setup: one
// side opens a currency and enables requests, and the two sides exchange
// one MoveToken each; the peer records the currency in its remote set and
// sees requests enabled.
func TestMoveTokenHandshakeRoundtrip(t *testing.T) {
	ctx := context.Background()
	pk0, id0, pk1, id1 := testKeys(t)
	fst1, err := currency.New("FST1")
	require.NoError(t, err)

	tc0 := New(pk0, pk1, id0, 10)
	tc1 := New(pk1, pk0, id1, 10)

	tc0.AddCurrency(fst1)
	mc0, ok := tc0.MutualCredit(fst1)
	require.True(t, ok)
	require.NoError(t, mc0.ApplyOutgoing(mutualcredit.EnableRequestsOp{}))

	ops := map[currency.Currency][]mutualcredit.Operation{fst1: {mutualcredit.EnableRequestsOp{}}}
	diff := []wire.CurrencyDiff{{Currency: fst1, Add: true}}

	mtr1, err := tc0.ProduceOutgoing(ctx, ops, diff, false)
	require.NoError(t, err)

	out1, err := tc1.ProcessIncoming(ctx, mtr1)
	require.NoError(t, err)
	require.True(t, out1.Accepted)

	mc1, ok := tc1.MutualCredit(fst1)
	require.True(t, ok)
	require.Equal(t, mutualcredit.Open, mc1.RequestsStatusRemote())
	require.Contains(t, tc1.CurrenciesRemote(), fst1)

	_, ok = tc1.Status().(ConsistentIn)
	require.True(t, ok)

	mtr2, err := tc1.ProduceOutgoing(ctx, nil, nil, false)
	require.NoError(t, err)

	out2, err := tc0.ProcessIncoming(ctx, mtr2)
	require.NoError(t, err)
	require.True(t, out2.Accepted)

	_, ok = tc0.Status().(ConsistentIn)
	require.True(t, ok)
}

// TestDuplicateMoveTokenIsIdempotentResend is §8 Scenario 5: a stale
// MoveToken, whose old_token matches our second-to-last outgoing rather
// than our latest, must produce a resend without mutating state.
func TestDuplicateMoveTokenIsIdempotentResend(t *testing.T) {
	ctx := context.Background()
	pk0, id0, pk1, id1 := testKeys(t)

	tc0 := New(pk0, pk1, id0, 10)
	tc1 := New(pk1, pk0, id1, 10)

	// Round 1.
	mtr1, err := tc0.ProduceOutgoing(ctx, nil, nil, false)
	require.NoError(t, err)
	_, err = tc1.ProcessIncoming(ctx, mtr1)
	require.NoError(t, err)

	mtr2, err := tc1.ProduceOutgoing(ctx, nil, nil, false)
	require.NoError(t, err)
	staleToken := mtr2.MoveToken
	_, err = tc0.ProcessIncoming(ctx, mtr2)
	require.NoError(t, err)

	// Round 2: tc1's outgoing history now holds [mtr4, mtr2] once it
	// produces again below.
	mtr3, err := tc0.ProduceOutgoing(ctx, nil, nil, false)
	require.NoError(t, err)
	_, err = tc1.ProcessIncoming(ctx, mtr3)
	require.NoError(t, err)

	mtr4, err := tc1.ProduceOutgoing(ctx, nil, nil, false)
	require.NoError(t, err)

	staleData, err := staleToken.Marshal()
	require.NoError(t, err)
	staleHash := crypto.HashBytes(staleData)

	counterBefore := tc1.MoveTokenCounter()

	stale := wire.MoveTokenRequest{
		MoveToken: wire.MoveToken{
			OldToken:             staleHash,
			CurrenciesOperations: map[currency.Currency][]mutualcredit.Operation{},
			MoveTokenCounter:     big.NewInt(999),
		},
	}
	out, err := tc1.ProcessIncoming(ctx, stale)
	require.NoError(t, err)
	require.NotNil(t, out.Resend)
	require.Equal(t, mtr4.MoveToken.NewToken, out.Resend.MoveToken.NewToken)
	require.Equal(t, counterBefore, tc1.MoveTokenCounter())
}

// TestInducedInconsistencyAndReset is §8 Scenario 3.
func TestInducedInconsistencyAndReset(t *testing.T) {
	ctx := context.Background()
	pk0, id0, pk1, id1 := testKeys(t)
	fst1, err := currency.New("FST1")
	require.NoError(t, err)

	tc0 := New(pk0, pk1, id0, 10)
	tc1 := New(pk1, pk0, id1, 10)

	// Deliberately mismatched initial balance beliefs.
	tc0.currenciesLocal.Add(fst1)
	tc0.currenciesRemote.Add(fst1)
	tc0.mutualCredits[fst1] = mutualcredit.New(pk0, pk1, fst1, 20)

	tc1.currenciesLocal.Add(fst1)
	tc1.currenciesRemote.Add(fst1)
	tc1.mutualCredits[fst1] = mutualcredit.New(pk1, pk0, fst1, -10)

	mtr1, err := tc0.ProduceOutgoing(ctx, map[currency.Currency][]mutualcredit.Operation{}, nil, false)
	require.NoError(t, err)

	_, err = tc1.ProcessIncoming(ctx, mtr1)
	require.Error(t, err, "pk1 should detect the info_hash mismatch")

	inc1, ok := tc1.Status().(Inconsistent)
	require.True(t, ok)
	require.Equal(t, uint64(1), inc1.LocalResetTerms.InconsistencyCounter)
	require.Len(t, inc1.LocalResetTerms.BalanceForReset, 1)
	require.Equal(t, big.NewInt(-10), inc1.LocalResetTerms.BalanceForReset[0].BalanceForReset)

	pk1Terms := inc1.LocalResetTerms
	inconsistencyMsg := wire.InconsistencyError{
		InconsistencyCounter: pk1Terms.InconsistencyCounter,
		BalanceForReset:      pk1Terms.BalanceForReset,
		ResetToken:           pk1Terms.ResetToken,
	}

	err = tc0.ProcessInconsistencyError(ctx, inconsistencyMsg)
	require.NoError(t, err)

	inc0, ok := tc0.Status().(Inconsistent)
	require.True(t, ok)
	require.Equal(t, big.NewInt(20), inc0.LocalResetTerms.BalanceForReset[0].BalanceForReset)
	require.NotNil(t, inc0.OptRemoteResetTerms)
	require.Equal(t, pk1Terms.ResetToken, inc0.OptRemoteResetTerms.ResetToken)

	// pk0 accepts pk1's terms.
	resetMtr, err := tc0.ResetFriendChannel(ctx, pk1Terms.ResetToken)
	require.NoError(t, err)

	mc0, ok := tc0.MutualCredit(fst1)
	require.True(t, ok)
	require.Equal(t, big.NewInt(10), mc0.Balance().Balance)
	require.Equal(t, pk1Terms.InconsistencyCounter, tc0.InconsistencyCounter())

	// pk1 processes pk0's finalizing MoveToken using its own proposed terms.
	out, err := tc1.ProcessIncoming(ctx, resetMtr)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	mc1, ok := tc1.MutualCredit(fst1)
	require.True(t, ok)
	require.Equal(t, big.NewInt(-10), mc1.Balance().Balance)
	require.Equal(t, pk1Terms.InconsistencyCounter, tc1.InconsistencyCounter())

	_, ok = tc1.Status().(ConsistentIn)
	require.True(t, ok)
}
