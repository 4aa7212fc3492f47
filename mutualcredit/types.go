// Package mutualcredit implements the single-currency bilateral ledger
// described in spec.md §4.1: a symmetric pair of Outgoing/Incoming
// processors for six operations, each pair chosen so that applying the
// outgoing effect on one side and the incoming effect on the other
// converge on the same balance.
package mutualcredit

import (
	"math/big"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
)

// bit-width bounds used to detect CreditCalcOverflow. McBalance fields are
// modeled as arbitrary-precision integers (math/big.Int) rather than fixed
// machine words so that every intermediate computation is exact, but every
// mutation is still checked against the 128-bit / 256-bit bounds spec.md
// assigns each field.
var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func fitsInt128(n *big.Int) bool {
	return n.Cmp(minInt128) >= 0 && n.Cmp(maxInt128) <= 0
}

func fitsUint128(n *big.Int) bool {
	return n.Sign() >= 0 && n.Cmp(maxUint128) <= 0
}

func fitsUint256(n *big.Int) bool {
	return n.Sign() >= 0 && n.Cmp(maxUint256) <= 0
}

// RequestsStatus toggles whether new RequestSendFunds operations may be
// queued in a given direction.
type RequestsStatus int

const (
	// Closed rejects new RequestSendFunds operations.
	Closed RequestsStatus = iota
	// Open accepts new RequestSendFunds operations.
	Open
)

// requestsStatusPair tracks the local and remote halves of §4.1's
// EnableRequests/DisableRequests toggle: .local is set by our own Outgoing
// MC, .remote is set by the peer's requests as observed through Incoming MC.
type requestsStatusPair struct {
	Local  RequestsStatus
	Remote RequestsStatus
}

// McBalance is the per-friend, per-currency ledger state of §3.
type McBalance struct {
	// Balance is the signed net credit this side holds against the
	// other; the peer's balance for the same currency is its negation
	// once both sides are in sync (§8 invariant 2).
	Balance *big.Int

	LocalMaxDebt  *big.Int
	RemoteMaxDebt *big.Int

	LocalPendingDebt  *big.Int
	RemotePendingDebt *big.Int

	InFees  *big.Int
	OutFees *big.Int
}

func newMcBalance(balance int64) *McBalance {
	return &McBalance{
		Balance:           big.NewInt(balance),
		LocalMaxDebt:      big.NewInt(0),
		RemoteMaxDebt:     big.NewInt(0),
		LocalPendingDebt:  big.NewInt(0),
		RemotePendingDebt: big.NewInt(0),
		InFees:            big.NewInt(0),
		OutFees:           big.NewInt(0),
	}
}

func (b *McBalance) clone() *McBalance {
	return &McBalance{
		Balance:           new(big.Int).Set(b.Balance),
		LocalMaxDebt:      new(big.Int).Set(b.LocalMaxDebt),
		RemoteMaxDebt:     new(big.Int).Set(b.RemoteMaxDebt),
		LocalPendingDebt:  new(big.Int).Set(b.LocalPendingDebt),
		RemotePendingDebt: new(big.Int).Set(b.RemotePendingDebt),
		InFees:            new(big.Int).Set(b.InFees),
		OutFees:           new(big.Int).Set(b.OutFees),
	}
}

// checkInvariant verifies §3's invariant:
//
//	-local_max_debt <= balance - local_pending_debt
//	balance + remote_pending_debt <= remote_max_debt
func (b *McBalance) checkInvariant() bool {
	lhs := new(big.Int).Sub(b.Balance, b.LocalPendingDebt)
	negLocalMax := new(big.Int).Neg(b.LocalMaxDebt)
	if lhs.Cmp(negLocalMax) < 0 {
		return false
	}
	rhs := new(big.Int).Add(b.Balance, b.RemotePendingDebt)
	if rhs.Cmp(b.RemoteMaxDebt) > 0 {
		return false
	}
	return true
}

// PendingTransaction is the ledger's memory of an in-flight McRequest,
// stored on whichever side froze credits for it (§3).
type PendingTransaction struct {
	RequestId        crypto.Uid
	SrcHashedLock    crypto.HashedLock
	Route            []crypto.PublicKey
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	InvoiceId        crypto.InvoiceId
	LeftFees         *big.Int

	// Destination is the payment's final recipient, fixed at request
	// creation time even as Route shrinks while the request is forwarded
	// hop by hop. §4.1 requires verifying "destination's signature" on
	// the eventual response; that requires knowing who the destination
	// is independent of how much of Route remains at any given hop.
	Destination crypto.PublicKey
}

// FrozenAmount is the amount of credit this transaction has earmarked:
// dest_payment + left_fees, per §4.1 RequestSendFunds.
func (pt *PendingTransaction) FrozenAmount() *big.Int {
	return new(big.Int).Add(pt.DestPayment, pt.LeftFees)
}

func clonePendingTransaction(pt *PendingTransaction) *PendingTransaction {
	route := make([]crypto.PublicKey, len(pt.Route))
	copy(route, pt.Route)
	return &PendingTransaction{
		RequestId:        pt.RequestId,
		SrcHashedLock:    pt.SrcHashedLock,
		Route:            route,
		DestPayment:      new(big.Int).Set(pt.DestPayment),
		TotalDestPayment: new(big.Int).Set(pt.TotalDestPayment),
		InvoiceId:        pt.InvoiceId,
		LeftFees:         new(big.Int).Set(pt.LeftFees),
		Destination:      pt.Destination,
	}
}

// McRequest is a forwarded payment attempt, as described in §3.
type McRequest struct {
	RequestId        crypto.Uid
	SrcHashedLock    crypto.HashedLock
	Route            []crypto.PublicKey
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	InvoiceId        crypto.InvoiceId
	LeftFees         *big.Int
	Destination      crypto.PublicKey
}

func (r *McRequest) toPendingTransaction() *PendingTransaction {
	return &PendingTransaction{
		RequestId:        r.RequestId,
		SrcHashedLock:    r.SrcHashedLock,
		Route:            append([]crypto.PublicKey(nil), r.Route...),
		DestPayment:      new(big.Int).Set(r.DestPayment),
		TotalDestPayment: new(big.Int).Set(r.TotalDestPayment),
		InvoiceId:        r.InvoiceId,
		LeftFees:         new(big.Int).Set(r.LeftFees),
		Destination:      r.Destination,
	}
}

// McResponse is the signed receipt of §3, produced by the payment's
// destination once it reveals its half of the hashed-lock pair.
type McResponse struct {
	RequestId      crypto.Uid
	DestHashedLock crypto.HashedLock
	IsComplete     bool
	RandNonce      crypto.RandNonce
	Signature      crypto.Signature
}

// McCancel releases the frozen credits for RequestId without moving the
// balance (§4.1 CancelSendFunds).
type McCancel struct {
	RequestId crypto.Uid
}

// FeeRate describes the linear fee this node charges for forwarding over a
// given currency: fee = Mul*dest_payment + Add (§4.3 step 2).
type FeeRate struct {
	Mul *big.Int
	Add *big.Int
}

// Apply computes this node's forwarding fee for destPayment.
func (r FeeRate) Apply(destPayment *big.Int) *big.Int {
	fee := new(big.Int).Mul(r.Mul, destPayment)
	fee.Add(fee, r.Add)
	return fee
}

// MutualCredit is the complete per-friend, per-currency ledger: the
// McBalance snapshot plus both sides' in-flight PendingTransactions and
// requests-open/closed toggles.
type MutualCredit struct {
	LocalPublicKey  crypto.PublicKey
	RemotePublicKey crypto.PublicKey
	Currency        currency.Currency

	balance        *McBalance
	requestsStatus requestsStatusPair

	// localPending indexes PendingTransactions this side accepted from
	// an incoming RequestSendFunds (the remote side mirrors the same
	// request_id in its own remotePending map).
	localPending map[crypto.Uid]*PendingTransaction
	// remotePending indexes PendingTransactions this side froze by
	// sending a RequestSendFunds outgoing.
	remotePending map[crypto.Uid]*PendingTransaction
}

// New constructs a MutualCredit for one currency between two friends with
// an initial balance (used at bootstrap and after a reset, §4.2).
func New(local, remote crypto.PublicKey, cur currency.Currency, balance int64) *MutualCredit {
	return &MutualCredit{
		LocalPublicKey:  local,
		RemotePublicKey: remote,
		Currency:        cur,
		balance:         newMcBalance(balance),
		requestsStatus:  requestsStatusPair{Local: Closed, Remote: Closed},
		localPending:    make(map[crypto.Uid]*PendingTransaction),
		remotePending:   make(map[crypto.Uid]*PendingTransaction),
	}
}

// Balance returns a defensive copy of the current McBalance.
func (mc *MutualCredit) Balance() *McBalance {
	return mc.balance.clone()
}

// RequestsStatusLocal reports this side's own requests toggle, set by an
// outgoing Enable/DisableRequests; while it is Closed, RequestSendFunds
// arriving from the peer are rejected.
func (mc *MutualCredit) RequestsStatusLocal() RequestsStatus {
	return mc.requestsStatus.Local
}

// RequestsStatusRemote reports whether the peer currently accepts incoming
// RequestSendFunds from us.
func (mc *MutualCredit) RequestsStatusRemote() RequestsStatus {
	return mc.requestsStatus.Remote
}

// LocalPendingTransaction looks up a PendingTransaction accepted from an
// incoming request.
func (mc *MutualCredit) LocalPendingTransaction(id crypto.Uid) (*PendingTransaction, bool) {
	pt, ok := mc.localPending[id]
	if !ok {
		return nil, false
	}
	return clonePendingTransaction(pt), true
}

// RemotePendingTransaction looks up a PendingTransaction this side froze by
// sending an outgoing request.
func (mc *MutualCredit) RemotePendingTransaction(id crypto.Uid) (*PendingTransaction, bool) {
	pt, ok := mc.remotePending[id]
	if !ok {
		return nil, false
	}
	return clonePendingTransaction(pt), true
}

// requestIdExists reports whether id is already present in either pending
// map, used to detect RequestAlreadyExists (§4.1).
func (mc *MutualCredit) requestIdExists(id crypto.Uid) bool {
	if _, ok := mc.localPending[id]; ok {
		return true
	}
	if _, ok := mc.remotePending[id]; ok {
		return true
	}
	return false
}

// InfoHashTuple is the per-currency tuple folded into a MoveToken's
// info_hash, per §4.2: "a deterministic hash of the sorted list of
// (currency, balance, local_pending_debt, remote_pending_debt, in_fees,
// out_fees) tuples after applying the operations".
type InfoHashTuple struct {
	Currency          currency.Currency
	Balance           *big.Int
	LocalPendingDebt  *big.Int
	RemotePendingDebt *big.Int
	InFees            *big.Int
	OutFees           *big.Int
}

// InfoHashTuple returns this currency's contribution to the MoveToken
// info_hash.
func (mc *MutualCredit) InfoHashTuple() InfoHashTuple {
	b := mc.balance
	return InfoHashTuple{
		Currency:          mc.Currency,
		Balance:           new(big.Int).Set(b.Balance),
		LocalPendingDebt:  new(big.Int).Set(b.LocalPendingDebt),
		RemotePendingDebt: new(big.Int).Set(b.RemotePendingDebt),
		InFees:            new(big.Int).Set(b.InFees),
		OutFees:           new(big.Int).Set(b.OutFees),
	}
}

// IsEmpty reports whether the currency has a zero balance and no pending
// transactions on either side, the precondition for removing it via
// currencies_diff (§4.2 step 3).
func (mc *MutualCredit) IsEmpty() bool {
	return mc.balance.Balance.Sign() == 0 &&
		mc.balance.LocalPendingDebt.Sign() == 0 &&
		mc.balance.RemotePendingDebt.Sign() == 0 &&
		len(mc.localPending) == 0 &&
		len(mc.remotePending) == 0
}

// Snapshot captures every field persist needs to restore a MutualCredit,
// grouped the way channeldb groups a ChannelCommitment snapshot.
type Snapshot struct {
	LocalPublicKey  crypto.PublicKey
	RemotePublicKey crypto.PublicKey
	Currency        currency.Currency
	Balance         *McBalance
	RequestsLocal   RequestsStatus
	RequestsRemote  RequestsStatus
	LocalPending    []*PendingTransaction
	RemotePending   []*PendingTransaction
}

// Snapshot returns a deep copy of the MutualCredit's current state.
func (mc *MutualCredit) Snapshot() Snapshot {
	local := make([]*PendingTransaction, 0, len(mc.localPending))
	for _, pt := range mc.localPending {
		local = append(local, clonePendingTransaction(pt))
	}
	remote := make([]*PendingTransaction, 0, len(mc.remotePending))
	for _, pt := range mc.remotePending {
		remote = append(remote, clonePendingTransaction(pt))
	}
	return Snapshot{
		LocalPublicKey:  mc.LocalPublicKey,
		RemotePublicKey: mc.RemotePublicKey,
		Currency:        mc.Currency,
		Balance:         mc.balance.clone(),
		RequestsLocal:   mc.requestsStatus.Local,
		RequestsRemote:  mc.requestsStatus.Remote,
		LocalPending:    local,
		RemotePending:   remote,
	}
}

// Restore rebuilds a MutualCredit from a Snapshot, used by persist on
// daemon restart.
func Restore(s Snapshot) *MutualCredit {
	mc := &MutualCredit{
		LocalPublicKey:  s.LocalPublicKey,
		RemotePublicKey: s.RemotePublicKey,
		Currency:        s.Currency,
		balance:         s.Balance.clone(),
		requestsStatus:  requestsStatusPair{Local: s.RequestsLocal, Remote: s.RequestsRemote},
		localPending:    make(map[crypto.Uid]*PendingTransaction),
		remotePending:   make(map[crypto.Uid]*PendingTransaction),
	}
	for _, pt := range s.LocalPending {
		mc.localPending[pt.RequestId] = clonePendingTransaction(pt)
	}
	for _, pt := range s.RemotePending {
		mc.remotePending[pt.RequestId] = clonePendingTransaction(pt)
	}
	return mc
}
