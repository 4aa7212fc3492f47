package tokenchannel

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// ProduceOutgoing packages currenciesOps/currenciesDiff into a signed
// MoveTokenRequest and transitions tc_status to ConsistentOut (§4.2). The
// caller (the coordinator, draining the router's per-friend queues) is expected to have
// already applied every operation via the relevant MutualCredit's
// ApplyOutgoing and to have added/removed currencies with AddCurrency/
// RemoveCurrency before calling this -- ProduceOutgoing only signs and
// transitions state, it never mutates ledger balances itself.
func (tc *TokenChannel) ProduceOutgoing(
	ctx context.Context,
	currenciesOps map[currency.Currency][]mutualcredit.Operation,
	currenciesDiff []wire.CurrencyDiff,
	tokenWanted bool,
) (wire.MoveTokenRequest, error) {
	in, ok := tc.status.(ConsistentIn)
	if !ok {
		return wire.MoveTokenRequest{}, ErrNotTokenHolder
	}

	var randNonce [16]byte
	if _, err := rand.Read(randNonce[:]); err != nil {
		return wire.MoveTokenRequest{}, err
	}

	mt := wire.MoveToken{
		OldToken:             in.LastIncomingMoveTokenHashed,
		CurrenciesOperations: currenciesOps,
		CurrenciesDiff:       currenciesDiff,
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
	inHash := in.LastIncomingMoveTokenHashed
	tc.status = ConsistentOut{LastOutgoingMoveToken: mt, OptLastIncomingHashed: &inHash}

	return wire.MoveTokenRequest{MoveToken: mt, TokenWanted: tokenWanted}, nil
}

// computeInfoHash folds every active currency's current InfoHashTuple into
// §4.2's info_hash.
func (tc *TokenChannel) computeInfoHash() crypto.Hash {
	tuples := make([]mutualcredit.InfoHashTuple, 0, len(tc.mutualCredits))
	for _, cur := range tc.ActiveCurrencies() {
		tuples = append(tuples, tc.mutualCredits[cur].InfoHashTuple())
	}
	return wire.InfoHash(tuples)
}
