package router

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

type fakeStatus struct {
	enabled map[crypto.PublicKey]bool
	online  map[crypto.PublicKey]bool
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{enabled: make(map[crypto.PublicKey]bool), online: make(map[crypto.PublicKey]bool)}
}

func (f *fakeStatus) IsEnabled(pk crypto.PublicKey) bool { return f.enabled[pk] }
func (f *fakeStatus) IsOnline(pk crypto.PublicKey) bool  { return f.online[pk] }

type fakeCurrencies struct {
	active map[crypto.PublicKey]map[currency.Currency]bool
}

func newFakeCurrencies() *fakeCurrencies {
	return &fakeCurrencies{active: make(map[crypto.PublicKey]map[currency.Currency]bool)}
}

func (f *fakeCurrencies) set(pk crypto.PublicKey, cur currency.Currency) {
	if f.active[pk] == nil {
		f.active[pk] = make(map[currency.Currency]bool)
	}
	f.active[pk][cur] = true
}

func (f *fakeCurrencies) HasActiveCurrency(pk crypto.PublicKey, cur currency.Currency) bool {
	return f.active[pk] != nil && f.active[pk][cur]
}

func pk(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	p[0] = b
	return p
}

func uid(b byte) crypto.Uid {
	var u crypto.Uid
	u[0] = b
	return u
}

// TestQueueDrainOrder exercises the canonical ordering of §4.3: backwards
// before user before forwarded, oldest-first within each.
func TestQueueDrainOrder(t *testing.T) {
	fst1, err := currency.New("FST1")
	require.NoError(t, err)

	fq := newFriendQueues()
	fq.push(queueRequests, fst1, mutualcredit.EnableRequestsOp{})
	fq.push(queueBackwards, fst1, mutualcredit.DisableRequestsOp{})
	fq.push(queueUserRequests, fst1, mutualcredit.SetRemoteMaxDebtOp{MaxDebt: big.NewInt(1)})

	ops := fq.drain()[fst1]
	require.Len(t, ops, 3)
	require.Equal(t, mutualcredit.OpDisableRequests, ops[0].OpType())
	require.Equal(t, mutualcredit.OpSetRemoteMaxDebt, ops[1].OpType())
	require.Equal(t, mutualcredit.OpEnableRequests, ops[2].OpType())
	require.True(t, fq.IsEmpty())
}

// TestForwardToNextHop is §8 Scenario 4's per-hop building block: an
// accepted incoming request forwards to the next hop when it's enabled,
// online, and shares the currency.
func TestForwardToNextHop(t *testing.T) {
	fst1, _ := currency.New("FST1")
	n0, n1, n2 := pk(0), pk(1), pk(2)

	status := newFakeStatus()
	status.enabled[n2] = true
	status.online[n2] = true
	curs := newFakeCurrencies()
	curs.set(n2, fst1)

	r := New(n1, status, curs)

	pt := &mutualcredit.PendingTransaction{
		RequestId:        uid(1),
		Route:            []crypto.PublicKey{n2},
		DestPayment:      big.NewInt(10),
		TotalDestPayment: big.NewInt(12),
		LeftFees:         big.NewInt(1),
		Destination:      n2,
	}

	result := r.HandleIncomingRequest(n0, fst1, pt)
	require.Equal(t, ForwardedToNextHop, result.Outcome)
	require.Equal(t, n2, result.NextHop)

	require.True(t, r.HasPending(n2))
	ops := r.Drain(n2)[fst1]
	require.Len(t, ops, 1)
	reqOp, ok := ops[0].(mutualcredit.RequestSendFundsOp)
	require.True(t, ok)
	require.Empty(t, reqOp.Request.Route, "route should be empty after popping the only remaining hop")
	require.Equal(t, n2, reqOp.Request.Destination)
}

// TestForwardCancelsWhenNextHopDisabled is §8 Scenario 6's cancellation
// trigger.
func TestForwardCancelsWhenNextHopDisabled(t *testing.T) {
	fst1, _ := currency.New("FST1")
	n0, n1, n2 := pk(0), pk(1), pk(2)

	status := newFakeStatus() // n2 left disabled/offline
	curs := newFakeCurrencies()
	curs.set(n2, fst1)

	r := New(n1, status, curs)

	pt := &mutualcredit.PendingTransaction{
		RequestId:   uid(1),
		Route:       []crypto.PublicKey{n2},
		DestPayment: big.NewInt(10),
		LeftFees:    big.NewInt(1),
		Destination: n2,
	}

	result := r.HandleIncomingRequest(n0, fst1, pt)
	require.Equal(t, ForwardCanceled, result.Outcome)

	ops := r.Drain(n0)[fst1]
	require.Len(t, ops, 1)
	_, ok := ops[0].(mutualcredit.CancelSendFundsOp)
	require.True(t, ok)
}

// TestForwardReachesDestination covers a request whose route is already
// exhausted because this node is the declared destination.
func TestForwardReachesDestination(t *testing.T) {
	fst1, _ := currency.New("FST1")
	n0, n1 := pk(0), pk(1)

	r := New(n1, newFakeStatus(), newFakeCurrencies())

	pt := &mutualcredit.PendingTransaction{
		RequestId:   uid(1),
		Route:       nil,
		DestPayment: big.NewInt(10),
		Destination: n1,
	}

	result := r.HandleIncomingRequest(n0, fst1, pt)
	require.Equal(t, ForwardDestinationReached, result.Outcome)
	require.False(t, r.HasPending(n0))
}

// TestHandleIncomingBackwardRoutesToOriginalHop mirrors §4.3's
// "Handling responses/cancels": a Cancel arriving from the next hop is
// queued backward to whoever forwarded the original request, using the
// global request_id bookkeeping recorded during forwarding.
func TestHandleIncomingBackwardRoutesToOriginalHop(t *testing.T) {
	fst1, _ := currency.New("FST1")
	n0, n1, n2 := pk(0), pk(1), pk(2)

	status := newFakeStatus()
	status.enabled[n2] = true
	status.online[n2] = true
	curs := newFakeCurrencies()
	curs.set(n2, fst1)

	r := New(n1, status, curs)
	pt := &mutualcredit.PendingTransaction{
		RequestId:   uid(7),
		Route:       []crypto.PublicKey{n2},
		DestPayment: big.NewInt(10),
		LeftFees:    big.NewInt(1),
		Destination: n2,
	}
	result := r.HandleIncomingRequest(n0, fst1, pt)
	require.Equal(t, ForwardedToNextHop, result.Outcome)
	r.Drain(n2) // simulate the forwarded MoveToken having been sent

	ok := r.HandleIncomingBackward(uid(7), mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: uid(7)}})
	require.True(t, ok)

	ops := r.Drain(n0)[fst1]
	require.Len(t, ops, 1)
	_, isCancel := ops[0].(mutualcredit.CancelSendFundsOp)
	require.True(t, isCancel)

	// A second delivery of the same backward op (e.g. a duplicate
	// MoveToken at the token-channel layer that our caller, for some
	// reason, handed to the router twice) is now unknown.
	ok = r.HandleIncomingBackward(uid(7), mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: uid(7)}})
	require.False(t, ok)
}

// TestMultiRoutePaymentAssemblesReceiptOnceAllLegsCommit is §8 Scenario
// 1's buyer-side building block, generalized to two legs.
func TestMultiRoutePaymentAssemblesReceiptOnceAllLegsCommit(t *testing.T) {
	fst1, _ := currency.New("FST1")
	buyer, hopA, hopB, dest := pk(0), pk(1), pk(2), pk(3)

	r := New(buyer, newFakeStatus(), newFakeCurrencies())

	var nextId byte = 10
	newID := func() crypto.Uid {
		id := uid(nextId)
		nextId++
		return id
	}

	var lock crypto.PlainLock
	lock[0] = 0x42

	legs := []RouteLeg{
		{Currency: fst1, Route: []crypto.PublicKey{hopA, dest}, DestPayment: big.NewInt(5), LeftFees: big.NewInt(1)},
		{Currency: fst1, Route: []crypto.PublicKey{hopB, dest}, DestPayment: big.NewInt(5), LeftFees: big.NewInt(1)},
	}

	paymentId := crypto.PaymentId{0x01}
	prepared, err := r.PrepareMultiRoutePayment(paymentId, dest, crypto.InvoiceId{0x02}, big.NewInt(10), legs, newID, lock)
	require.NoError(t, err)
	require.Len(t, prepared, 2)

	for _, leg := range prepared {
		r.ConfirmLegQueued(paymentId, leg)
	}

	status, ok := r.PaymentStatus(paymentId)
	require.True(t, ok)
	require.Equal(t, PaymentSending, status)

	require.True(t, r.HasPending(hopA))
	require.True(t, r.HasPending(hopB))

	hashedLock := lock.HashLock()

	receipt, ok := r.CollectResponse(prepared[0].RequestId, mutualcredit.McResponse{RequestId: prepared[0].RequestId, DestHashedLock: hashedLock, IsComplete: true})
	require.True(t, ok)
	require.Nil(t, receipt, "receipt should not assemble until every leg commits")

	status, _ = r.PaymentStatus(paymentId)
	require.Equal(t, PaymentCommit, status)

	receipt, ok = r.CollectResponse(prepared[1].RequestId, mutualcredit.McResponse{RequestId: prepared[1].RequestId, DestHashedLock: hashedLock, IsComplete: true})
	require.True(t, ok)
	require.NotNil(t, receipt)
	require.Len(t, receipt.Responses, 2)
	require.Equal(t, big.NewInt(10), receipt.TotalDestPayment)

	status, _ = r.PaymentStatus(paymentId)
	require.Equal(t, PaymentDone, status)
}

// TestMultiRoutePaymentCancelsOnLegCancel is §8 Scenario 6's buyer-side
// outcome.
func TestMultiRoutePaymentCancelsOnLegCancel(t *testing.T) {
	fst1, _ := currency.New("FST1")
	buyer, hopA, dest := pk(0), pk(1), pk(2)

	r := New(buyer, newFakeStatus(), newFakeCurrencies())
	newID := func() crypto.Uid { return uid(9) }
	var lock crypto.PlainLock

	legs := []RouteLeg{{Currency: fst1, Route: []crypto.PublicKey{hopA, dest}, DestPayment: big.NewInt(10), LeftFees: big.NewInt(0)}}
	paymentId := crypto.PaymentId{0x05}
	prepared, err := r.PrepareMultiRoutePayment(paymentId, dest, crypto.InvoiceId{0x06}, big.NewInt(10), legs, newID, lock)
	require.NoError(t, err)
	r.ConfirmLegQueued(paymentId, prepared[0])

	ok := r.CollectCancel(prepared[0].RequestId)
	require.True(t, ok)

	status, _ := r.PaymentStatus(paymentId)
	require.Equal(t, PaymentCanceled, status)
}
