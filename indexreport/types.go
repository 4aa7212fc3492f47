// Package indexreport implements §4.5's Index-Capacity Reporter: it
// derives, for each (friend, currency), the send/recv capacity the
// index collaborator should advertise on this node's behalf, and emits
// an IndexMutation only when that capacity (or the friend's
// advertised rate) actually changes -- never on every tick.
package indexreport

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// MutationKind distinguishes the two IndexMutation variants of §6.
type MutationKind int

const (
	// MutationUpdate corresponds to UpdateFriendCurrency.
	MutationUpdate MutationKind = iota
	// MutationRemove corresponds to RemoveFriendCurrency.
	MutationRemove
)

// IndexMutation is one emitted message bound for the index collaborator
// (§6's "Coordinator outbound (to index collaborator)").
type IndexMutation struct {
	Kind         MutationKind
	PublicKey    crypto.PublicKey
	Currency     currency.Currency
	SendCapacity *big.Int
	RecvCapacity *big.Int
	Rate         mutualcredit.FeeRate
}

// FriendCurrencyState is the snapshot of every fact send_capacity/
// recv_capacity depends on for one (friend, currency) pair (§4.5). The
// coordinator assembles this from Tracker (liveness), TokenChannel
// (status, active currencies) and MutualCredit (balance, requests
// status) -- Reporter itself touches none of those types directly, to
// keep the capacity formula testable in isolation.
type FriendCurrencyState struct {
	Enabled              bool
	Online               bool
	ChannelConsistent    bool
	CurrencyActiveRemote bool
	CurrencyActiveLocal  bool
	RequestsRemoteClosed bool
	RequestsLocalClosed  bool

	Balance           *big.Int
	LocalMaxDebt      *big.Int
	RemoteMaxDebt     *big.Int
	LocalPendingDebt  *big.Int
	RemotePendingDebt *big.Int

	Rate mutualcredit.FeeRate
}

type key struct {
	pk  crypto.PublicKey
	cur currency.Currency
}

// Reporter tracks the last IndexMutation emitted per (friend, currency)
// so Update only returns a fresh one when something actually changed.
type Reporter struct {
	last map[key]IndexMutation
}

// New constructs an empty Reporter.
func New() *Reporter {
	return &Reporter{last: make(map[key]IndexMutation)}
}
