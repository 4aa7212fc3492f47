// Package tokenchannel implements the two-party, signed MoveToken protocol
// of spec.md §4.2: exactly one side holds the token at a time, every
// accepted MoveToken moves the ledger forward, and any provable
// disagreement is resolved through a signed reset rather than silently
// diverging.
package tokenchannel

import (
	"errors"
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/wire"
)

// Errors a MoveToken's processing can surface. ErrBadOldToken,
// ErrBadSignature, ErrBadCounter and ErrBadInfoHash are peer-attributable
// protocol violations that push the channel into Inconsistent (§7), as
// does ErrCurrencyNotEmpty when it comes from the peer's currencies_diff;
// the others leave tc_status unchanged.
var (
	ErrBadOldToken        = errors.New("tokenchannel: old_token does not match our last outgoing MoveToken")
	ErrBadSignature       = errors.New("tokenchannel: new_token signature invalid")
	ErrBadCounter         = errors.New("tokenchannel: move_token_counter mismatch")
	ErrBadInfoHash        = errors.New("tokenchannel: info_hash mismatch after applying operations")
	ErrCurrencyNotEmpty   = errors.New("tokenchannel: cannot remove a currency with non-zero balance or pending")
	ErrNotTokenHolder     = errors.New("tokenchannel: cannot produce a MoveToken while not holding the token")
	ErrNotInconsistent    = errors.New("tokenchannel: channel is not in the Inconsistent state")
	ErrDuplicateMoveToken = errors.New("tokenchannel: duplicate MoveToken, resend issued")
	ErrUnexpectedState    = errors.New("tokenchannel: MoveToken received in an unexpected state, dropped")
)

// TcStatus is the three-armed tagged variant of §3/§9: never a nullable
// pointer, each arm carries exactly the data that state needs.
type TcStatus interface {
	isTcStatus()
}

// ConsistentIn means "I received the most recent MoveToken; I hold the
// token" (§4.2).
type ConsistentIn struct {
	LastIncomingMoveTokenHashed crypto.Hash
}

func (ConsistentIn) isTcStatus() {}

// ConsistentOut means "I sent the most recent MoveToken; I do not hold the
// token" (§4.2).
type ConsistentOut struct {
	LastOutgoingMoveToken   wire.MoveToken
	OptLastIncomingHashed   *crypto.Hash
}

func (ConsistentOut) isTcStatus() {}

// ResetTerms is a party's signed proposal of what balances should be after
// a reset (§4.2, GLOSSARY).
type ResetTerms struct {
	InconsistencyCounter uint64
	BalanceForReset      []wire.CurrencyBalance
	ResetToken           crypto.Signature
}

// Inconsistent means a provable ledger disagreement has been detected;
// recovery requires the reset protocol (§4.2).
type Inconsistent struct {
	LocalResetTerms      ResetTerms
	OptRemoteResetTerms  *ResetTerms
}

func (Inconsistent) isTcStatus() {}

// TokenChannel is the per-friend, multi-currency container of §3/§4.2.
type TokenChannel struct {
	LocalPublicKey  crypto.PublicKey
	RemotePublicKey crypto.PublicKey

	identity             crypto.IdentityClient
	maxOperationsInBatch int

	currenciesLocal  *currency.Set
	currenciesRemote *currency.Set
	mutualCredits    map[currency.Currency]*mutualcredit.MutualCredit
	rates            map[currency.Currency]mutualcredit.FeeRate

	status               TcStatus
	moveTokenCounter     *big.Int
	inconsistencyCounter uint64

	// outgoingHistory holds the hash of our last outgoing MoveToken (index
	// 0) and the one before it (index 1), so ProcessIncoming can detect
	// the "peer missed our latest send" duplicate case of §4.2 step 1.
	outgoingHistory [2]*crypto.Hash
}

// New constructs a TokenChannel for a fresh friend relationship,
// bootstrapping tc_status per §4.2: "whoever has the numerically smaller
// public key starts holding the token by convention, with an empty
// bootstrap MoveToken".
func New(local, remote crypto.PublicKey, identity crypto.IdentityClient, maxOperationsInBatch int) *TokenChannel {
	tc := &TokenChannel{
		LocalPublicKey:       local,
		RemotePublicKey:      remote,
		identity:             identity,
		maxOperationsInBatch: maxOperationsInBatch,
		currenciesLocal:      currency.NewSet(),
		currenciesRemote:     currency.NewSet(),
		mutualCredits:        make(map[currency.Currency]*mutualcredit.MutualCredit),
		rates:                make(map[currency.Currency]mutualcredit.FeeRate),
		moveTokenCounter:     big.NewInt(0),
	}

	bootstrap := emptyBootstrapMoveToken()
	bootstrapHash := hashMoveToken(bootstrap)

	if crypto.Less(local, remote) {
		tc.status = ConsistentIn{LastIncomingMoveTokenHashed: bootstrapHash}
	} else {
		tc.status = ConsistentOut{LastOutgoingMoveToken: bootstrap}
		tc.outgoingHistory[0] = &bootstrapHash
	}
	return tc
}

func emptyBootstrapMoveToken() wire.MoveToken {
	return wire.MoveToken{
		CurrenciesOperations: map[currency.Currency][]mutualcredit.Operation{},
		MoveTokenCounter:     big.NewInt(0),
	}
}

func hashMoveToken(mt wire.MoveToken) crypto.Hash {
	data, err := mt.Marshal()
	if err != nil {
		// The bootstrap MoveToken and every MoveToken this package
		// constructs itself is always well-formed; a Marshal failure
		// here would mean a programming error, not an input we need
		// to recover from.
		panic("tokenchannel: failed to marshal our own MoveToken: " + err.Error())
	}
	return crypto.HashBytes(data)
}

// Status returns the current tc_status.
func (tc *TokenChannel) Status() TcStatus {
	return tc.status
}

// MoveTokenCounter returns the current move_token_counter.
func (tc *TokenChannel) MoveTokenCounter() *big.Int {
	return new(big.Int).Set(tc.moveTokenCounter)
}

// InconsistencyCounter returns the current inconsistency_counter.
func (tc *TokenChannel) InconsistencyCounter() uint64 {
	return tc.inconsistencyCounter
}

// ActiveCurrencies returns currency.Intersect(currencies_local,
// currencies_remote), the set of currencies with live McBalance state.
func (tc *TokenChannel) ActiveCurrencies() []currency.Currency {
	return currency.Intersect(tc.currenciesLocal, tc.currenciesRemote)
}

// MutualCredit looks up the MutualCredit for cur. One exists as soon as
// either side has added cur, before cur is active.
func (tc *TokenChannel) MutualCredit(cur currency.Currency) (*mutualcredit.MutualCredit, bool) {
	mc, ok := tc.mutualCredits[cur]
	return mc, ok
}

// SetRate configures the fee rate this node charges for forwarding on cur.
func (tc *TokenChannel) SetRate(cur currency.Currency, rate mutualcredit.FeeRate) {
	tc.rates[cur] = rate
}

// rate returns the configured FeeRate for cur, defaulting to zero (no fee)
// when unset.
func (tc *TokenChannel) rate(cur currency.Currency) mutualcredit.FeeRate {
	r, ok := tc.rates[cur]
	if !ok {
		return mutualcredit.FeeRate{Mul: big.NewInt(0), Add: big.NewInt(0)}
	}
	return r
}

// Rate exposes the configured FeeRate for cur (for index reporting).
func (tc *TokenChannel) Rate(cur currency.Currency) mutualcredit.FeeRate {
	return tc.rate(cur)
}

// CurrenciesLocal exposes the set of currencies this side has committed to
// (for persistence snapshots and index reporting).
func (tc *TokenChannel) CurrenciesLocal() []currency.Currency {
	return tc.currenciesLocal.Sorted()
}

// CurrenciesRemote exposes the set of currencies the peer has committed to.
func (tc *TokenChannel) CurrenciesRemote() []currency.Currency {
	return tc.currenciesRemote.Sorted()
}
