package indexreport

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
)

// saturatingSub returns a-b, floored at zero -- §4.5's "(saturating)"
// qualifier on both capacity formulas.
func saturatingSub(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return new(big.Int)
	}
	return d
}

// sendCapacity implements §4.5's send_capacity(c,f) formula.
func sendCapacity(st FriendCurrencyState) *big.Int {
	if st.zeroedForSend() {
		return new(big.Int)
	}
	lhs := new(big.Int).Add(st.LocalMaxDebt, st.Balance)
	return saturatingSub(lhs, st.LocalPendingDebt)
}

// recvCapacity implements §4.5's recv_capacity(c,f) formula.
func recvCapacity(st FriendCurrencyState) *big.Int {
	if st.zeroedForRecv() {
		return new(big.Int)
	}
	rhs := new(big.Int).Add(st.Balance, st.RemotePendingDebt)
	return saturatingSub(st.RemoteMaxDebt, rhs)
}

func (st FriendCurrencyState) zeroedForSend() bool {
	return !st.Online || !st.Enabled || !st.ChannelConsistent ||
		!st.CurrencyActiveRemote || st.RequestsRemoteClosed
}

func (st FriendCurrencyState) zeroedForRecv() bool {
	return !st.Online || !st.Enabled || !st.ChannelConsistent ||
		!st.CurrencyActiveLocal || st.RequestsLocalClosed
}

// Update computes the current IndexMutation for (pk, cur) given st and
// returns it along with ok=true only if it differs from the last
// mutation reported for this pair -- a no-op recomputation (nothing
// changed since the last call) returns ok=false and emits nothing,
// matching §4.5's "whenever ... changes".
func (r *Reporter) Update(pk crypto.PublicKey, cur currency.Currency, st FriendCurrencyState) (IndexMutation, bool) {
	mutation := IndexMutation{
		Kind:         MutationUpdate,
		PublicKey:    pk,
		Currency:     cur,
		SendCapacity: sendCapacity(st),
		RecvCapacity: recvCapacity(st),
		Rate:         st.Rate,
	}

	k := key{pk: pk, cur: cur}
	if prev, ok := r.last[k]; ok && mutationsEqual(prev, mutation) {
		return IndexMutation{}, false
	}
	r.last[k] = mutation
	return mutation, true
}

// Remove emits RemoveFriendCurrency for (pk, cur) -- §4.5 "when currency
// removed or friend removed" -- and forgets any previously reported
// capacity so a later re-add starts fresh.
func (r *Reporter) Remove(pk crypto.PublicKey, cur currency.Currency) IndexMutation {
	delete(r.last, key{pk: pk, cur: cur})
	return IndexMutation{Kind: MutationRemove, PublicKey: pk, Currency: cur}
}

// RemoveFriend emits RemoveFriendCurrency for every currency this
// Reporter has ever reported for pk, and forgets all of them.
func (r *Reporter) RemoveFriend(pk crypto.PublicKey) []IndexMutation {
	var mutations []IndexMutation
	for k := range r.last {
		if k.pk != pk {
			continue
		}
		mutations = append(mutations, IndexMutation{Kind: MutationRemove, PublicKey: k.pk, Currency: k.cur})
		delete(r.last, k)
	}
	return mutations
}

func mutationsEqual(a, b IndexMutation) bool {
	return a.Kind == b.Kind &&
		a.SendCapacity.Cmp(b.SendCapacity) == 0 &&
		a.RecvCapacity.Cmp(b.RecvCapacity) == 0 &&
		a.Rate.Mul.Cmp(b.Rate.Mul) == 0 &&
		a.Rate.Add.Cmp(b.Rate.Add) == 0
}
