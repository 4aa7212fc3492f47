package indexreport

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

func pk(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	p[0] = b
	return p
}

func baseState() FriendCurrencyState {
	return FriendCurrencyState{
		Enabled:              true,
		Online:               true,
		ChannelConsistent:    true,
		CurrencyActiveRemote: true,
		CurrencyActiveLocal:  true,
		Balance:              big.NewInt(5),
		LocalMaxDebt:         big.NewInt(100),
		RemoteMaxDebt:        big.NewInt(100),
		LocalPendingDebt:     big.NewInt(10),
		RemotePendingDebt:    big.NewInt(20),
		Rate:                 mutualcredit.FeeRate{Mul: big.NewInt(0), Add: big.NewInt(1)},
	}
}

func TestCapacityFormula(t *testing.T) {
	st := baseState()
	// send_capacity = local_max_debt + balance - local_pending_debt = 100+5-10 = 95
	require.Equal(t, big.NewInt(95), sendCapacity(st))
	// recv_capacity = remote_max_debt - (balance + remote_pending_debt) = 100-(5+20) = 75
	require.Equal(t, big.NewInt(75), recvCapacity(st))
}

func TestCapacitySaturatesAtZero(t *testing.T) {
	st := baseState()
	st.LocalPendingDebt = big.NewInt(1000)
	require.Equal(t, big.NewInt(0), sendCapacity(st))

	st2 := baseState()
	st2.RemotePendingDebt = big.NewInt(1000)
	require.Equal(t, big.NewInt(0), recvCapacity(st2))
}

func TestZeroedConditions(t *testing.T) {
	cur, _ := currency.New("FST1")
	n := pk(1)

	cases := []func(*FriendCurrencyState){
		func(st *FriendCurrencyState) { st.Online = false },
		func(st *FriendCurrencyState) { st.Enabled = false },
		func(st *FriendCurrencyState) { st.ChannelConsistent = false },
		func(st *FriendCurrencyState) { st.CurrencyActiveRemote = false },
		func(st *FriendCurrencyState) { st.RequestsRemoteClosed = true },
	}
	for _, mutate := range cases {
		st := baseState()
		mutate(&st)
		r := New()
		mutation, ok := r.Update(n, cur, st)
		require.True(t, ok)
		require.Zero(t, mutation.SendCapacity.Sign(), "send_capacity must be zero")
	}
}

func TestUpdateOnlyEmitsOnChange(t *testing.T) {
	cur, _ := currency.New("FST1")
	n := pk(2)
	r := New()

	st := baseState()
	_, ok := r.Update(n, cur, st)
	require.True(t, ok, "first observation always emits")

	_, ok = r.Update(n, cur, st)
	require.False(t, ok, "unchanged state emits nothing")

	st.Balance = big.NewInt(6)
	mutation, ok := r.Update(n, cur, st)
	require.True(t, ok, "a changed balance must re-emit")
	require.Equal(t, big.NewInt(96), mutation.SendCapacity)
}

func TestRemoveForgetsAndEmitsRemoveFriendCurrency(t *testing.T) {
	cur, _ := currency.New("FST1")
	n := pk(3)
	r := New()
	r.Update(n, cur, baseState())

	mutation := r.Remove(n, cur)
	require.Equal(t, MutationRemove, mutation.Kind)

	// Re-observing the same unchanged state after a Remove must emit
	// again, since Remove forgot the prior mutation.
	_, ok := r.Update(n, cur, baseState())
	require.True(t, ok)
}

func TestRemoveFriendDropsEveryCurrency(t *testing.T) {
	cur1, _ := currency.New("FST1")
	cur2, _ := currency.New("FST2")
	n := pk(4)
	r := New()
	r.Update(n, cur1, baseState())
	r.Update(n, cur2, baseState())

	mutations := r.RemoveFriend(n)
	require.Len(t, mutations, 2)
	for _, m := range mutations {
		require.Equal(t, MutationRemove, m.Kind)
	}
}
