// Package wire defines the on-the-wire FriendMessage variants (§6) and the
// deterministic MoveToken fingerprint encoding the token channel signs and
// verifies.
package wire

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// CurrencyDiff is one entry of a MoveToken's currencies_diff: a currency
// being added to or removed from the active set (§3, §4.2 step 3).
type CurrencyDiff struct {
	Currency currency.Currency
	Add      bool
}

// MoveToken is the signed batch of per-currency operations that transfers
// the token to the peer (§3, §6).
type MoveToken struct {
	OldToken crypto.Hash

	// CurrenciesOperations is serialized "ordered by currency bytes lex"
	// per §6; SortedCurrencies() below produces that canonical ordering on
	// demand so callers never have to remember to sort the map.
	CurrenciesOperations map[currency.Currency][]mutualcredit.Operation

	CurrenciesDiff []CurrencyDiff

	InfoHash crypto.Hash

	// MoveTokenCounter is modeled as *big.Int to honor the unsigned
	// 128-bit width §3 assigns it, even though no realistic deployment
	// approaches 2^64 MoveTokens on a single friend.
	MoveTokenCounter *big.Int

	RandNonce crypto.RandNonce
	NewToken  crypto.Signature
}

// SortedCurrencies returns the keys of CurrenciesOperations in canonical
// (lexicographic) order.
func (mt *MoveToken) SortedCurrencies() []currency.Currency {
	cs := make([]currency.Currency, 0, len(mt.CurrenciesOperations))
	for c := range mt.CurrenciesOperations {
		cs = append(cs, c)
	}
	currency.SortSlice(cs)
	return cs
}

// SortedCurrenciesDiff returns CurrenciesDiff sorted by currency bytes, as
// §6 requires for fingerprint stability.
func (mt *MoveToken) SortedCurrenciesDiff() []CurrencyDiff {
	out := append([]CurrencyDiff(nil), mt.CurrenciesDiff...)
	sortCurrencyDiff(out)
	return out
}

func sortCurrencyDiff(cs []CurrencyDiff) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && currency.Less(cs[j].Currency, cs[j-1].Currency); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// FriendMessage is the tagged wire variant of §6.
type FriendMessage interface {
	isFriendMessage()
}

// MoveTokenRequest carries a MoveToken, plus whether the sender wants the
// token back immediately because it still has queued operations (§4.2).
type MoveTokenRequest struct {
	MoveToken   MoveToken
	TokenWanted bool
}

func (MoveTokenRequest) isFriendMessage() {}

// CurrencyBalance is one entry of an InconsistencyError's reset terms: the
// sender's proposed post-reset balance for Currency (§6).
type CurrencyBalance struct {
	Currency       currency.Currency
	BalanceForReset *big.Int
}

// InconsistencyError carries one side's reset terms after detecting a
// provable ledger disagreement (§4.2, §6).
type InconsistencyError struct {
	InconsistencyCounter uint64
	BalanceForReset      []CurrencyBalance
	ResetToken           crypto.Signature
}

func (InconsistencyError) isFriendMessage() {}

// RelayAddressPort is a single relay endpoint. The relay/transport
// collaborator owns dialing and authentication; this type only carries
// enough to identify an endpoint for the RelaysUpdate handshake (§6).
type RelayAddressPort struct {
	Host string
	Port uint16
}

// RelaysUpdate announces a friend's current relay set under a monotone
// generation number (§6, SPEC_FULL.md Supplemented Feature 3).
type RelaysUpdate struct {
	Generation *big.Int
	Relays     []RelayAddressPort
}

func (RelaysUpdate) isFriendMessage() {}

// RelaysAck acknowledges a RelaysUpdate by echoing its generation (§6).
type RelaysAck struct {
	Generation *big.Int
}

func (RelaysAck) isFriendMessage() {}
