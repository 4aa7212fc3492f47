package tokenchannel

import (
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// AddCurrency adds cur to this side's committed currency set, creating a
// fresh zero-balance MutualCredit if one doesn't already exist (it may
// already exist if the peer added the same currency first). Called by the
// coordinator (funder's OpenFriendCurrency) before including an Add entry in a produced MoveToken's
// currencies_diff, and mirrored by applyCurrenciesDiff for the peer's
// remote set on the receiving side (§4.2 step 3).
func (tc *TokenChannel) AddCurrency(cur currency.Currency) {
	tc.currenciesLocal.Add(cur)
	tc.ensureMutualCredit(cur)
}

// RemoveCurrency removes cur from this side's committed set. It fails with
// ErrCurrencyNotEmpty unless the currency's MutualCredit has a zero balance
// and no pending transactions on either side (§4.2 step 3).
func (tc *TokenChannel) RemoveCurrency(cur currency.Currency) error {
	mc, ok := tc.mutualCredits[cur]
	if ok && !mc.IsEmpty() {
		return ErrCurrencyNotEmpty
	}
	tc.currenciesLocal.Remove(cur)
	tc.pruneIfInactive(cur)
	return nil
}

func (tc *TokenChannel) ensureMutualCredit(cur currency.Currency) *mutualcredit.MutualCredit {
	mc, ok := tc.mutualCredits[cur]
	if !ok {
		mc = mutualcredit.New(tc.LocalPublicKey, tc.RemotePublicKey, cur, 0)
		tc.mutualCredits[cur] = mc
	}
	return mc
}

func (tc *TokenChannel) pruneIfInactive(cur currency.Currency) {
	if !tc.currenciesLocal.Contains(cur) && !tc.currenciesRemote.Contains(cur) {
		delete(tc.mutualCredits, cur)
	}
}

// applyCurrenciesDiff mirrors a peer's currencies_diff onto
// currencies_remote, creating or pruning MutualCredit entries exactly as
// AddCurrency/RemoveCurrency do for the local side.
func (tc *TokenChannel) applyCurrenciesDiff(diffs []wire.CurrencyDiff) error {
	for _, d := range diffs {
		if d.Add {
			tc.currenciesRemote.Add(d.Currency)
			tc.ensureMutualCredit(d.Currency)
		} else {
			mc, ok := tc.mutualCredits[d.Currency]
			if ok && !mc.IsEmpty() {
				return ErrCurrencyNotEmpty
			}
			tc.currenciesRemote.Remove(d.Currency)
			tc.pruneIfInactive(d.Currency)
		}
	}
	return nil
}
