package tokenchannel

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// RestoredBalance is one currency's restorable state: its committed-set
// membership on each side and the recoverable half of its MutualCredit
// (everything mutualcredit.Snapshot captures except pending transactions,
// which are not part of a persisted snapshot and are rebuilt instead by
// replaying the mutation-log tail after Restore returns -- see
// persist.FriendSnapshot's doc comment).
type RestoredBalance struct {
	Currency currency.Currency
	Balance  mutualcredit.McBalance
	Local    mutualcredit.RequestsStatus
	Remote   mutualcredit.RequestsStatus
}

// Restore rebuilds a TokenChannel from a persisted FriendSnapshot's fields
// (§6's restart procedure). It reconstructs tc_status from holder/
// inconsistent/lastMoveTokenHash exactly as New does from the bootstrap
// hash, with one known gap: a restart landing mid-ConsistentOut recovers
// only the hash of its last outgoing MoveToken, not the MoveToken itself,
// so the old-token-mismatch resend path (processIncomingConsistentOut's
// outgoingHistory check) cannot replay a byte-identical resend until this
// node produces a fresh MoveToken -- the peer's own resend request would
// instead surface as a fresh inconsistency, which the reset protocol
// already handles.
func Restore(
	local, remote crypto.PublicKey,
	identity crypto.IdentityClient,
	maxOperationsInBatch int,
	balances []RestoredBalance,
	holder bool,
	inconsistent bool,
	lastMoveTokenHash crypto.Hash,
	moveTokenCounter *big.Int,
	inconsistencyCounter uint64,
) *TokenChannel {
	tc := &TokenChannel{
		LocalPublicKey:       local,
		RemotePublicKey:      remote,
		identity:             identity,
		maxOperationsInBatch: maxOperationsInBatch,
		currenciesLocal:      currency.NewSet(),
		currenciesRemote:     currency.NewSet(),
		mutualCredits:        make(map[currency.Currency]*mutualcredit.MutualCredit),
		rates:                make(map[currency.Currency]mutualcredit.FeeRate),
		moveTokenCounter:     moveTokenCounter,
		inconsistencyCounter: inconsistencyCounter,
	}

	for _, b := range balances {
		tc.currenciesLocal.Add(b.Currency)
		tc.currenciesRemote.Add(b.Currency)
		bal := b.Balance
		tc.mutualCredits[b.Currency] = mutualcredit.Restore(mutualcredit.Snapshot{
			LocalPublicKey:  local,
			RemotePublicKey: remote,
			Currency:        b.Currency,
			Balance:         &bal,
			RequestsLocal:   b.Local,
			RequestsRemote:  b.Remote,
		})
	}

	switch {
	case inconsistent:
		tc.status = Inconsistent{LocalResetTerms: ResetTerms{
			InconsistencyCounter: inconsistencyCounter,
			ResetToken:           crypto.Signature{},
		}}
	case holder:
		tc.status = ConsistentIn{LastIncomingMoveTokenHashed: lastMoveTokenHash}
	default:
		tc.status = ConsistentOut{LastOutgoingMoveToken: emptyBootstrapMoveToken()}
		tc.outgoingHistory[0] = &lastMoveTokenHash
	}

	return tc
}
