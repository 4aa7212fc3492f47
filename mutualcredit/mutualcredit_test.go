package mutualcredit

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
)

func testCurrency(t *testing.T) currency.Currency {
	t.Helper()
	c, err := currency.New("FST1")
	require.NoError(t, err)
	return c
}

func pk(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	for i := range p {
		p[i] = b
	}
	return p
}

func TestOutgoingOpenCloseRequests(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)

	require.Equal(t, Closed, mc.RequestsStatusLocal())
	require.Equal(t, Closed, mc.RequestsStatusRemote())

	require.NoError(t, mc.ApplyOutgoing(EnableRequestsOp{}))
	require.Equal(t, Open, mc.RequestsStatusLocal())
	require.Equal(t, Closed, mc.RequestsStatusRemote())

	require.NoError(t, mc.ApplyOutgoing(DisableRequestsOp{}))
	require.Equal(t, Closed, mc.RequestsStatusLocal())
}

func TestOutgoingSetRemoteMaxDebt(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)

	require.Equal(t, int64(0), mc.Balance().RemoteMaxDebt.Int64())
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(20)}))
	require.Equal(t, int64(20), mc.Balance().RemoteMaxDebt.Int64())
}

// TestRequestResponseSendFunds mirrors the original's
// test_request_response_collect_send_funds: a request received from the
// peer is frozen, then a signed, complete response sent back settles the
// balance.
func TestRequestResponseSendFunds(t *testing.T) {
	ctx := context.Background()
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)

	_, err := mc.ApplyIncoming(ctx, SetRemoteMaxDebtOp{MaxDebt: big.NewInt(100)}, IncomingConfig{})
	require.NoError(t, err)
	err = mc.ApplyOutgoing(EnableRequestsOp{})
	require.NoError(t, err)

	dest, err := crypto.NewSoftwareIdentity()
	require.NoError(t, err)
	destPk, err := dest.PublicKey(ctx)
	require.NoError(t, err)

	var requestID crypto.Uid
	requestID[0] = 3
	var srcLock crypto.PlainLock
	srcLock[0] = 1

	req := McRequest{
		RequestId:        requestID,
		SrcHashedLock:    srcLock.HashLock(),
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb), destPk},
		DestPayment:      big.NewInt(10),
		TotalDestPayment: big.NewInt(10),
		LeftFees:         big.NewInt(5),
		Destination:      destPk,
	}

	_, err = mc.ApplyIncoming(ctx, RequestSendFundsOp{Request: req}, IncomingConfig{Rate: FeeRate{Mul: big.NewInt(0), Add: big.NewInt(0)}})
	require.NoError(t, err)

	bal := mc.Balance()
	require.Equal(t, int64(0), bal.Balance.Int64())
	require.Equal(t, int64(100), bal.LocalMaxDebt.Int64())
	require.Equal(t, int64(0), bal.RemoteMaxDebt.Int64())
	require.Equal(t, int64(15), bal.LocalPendingDebt.Int64())
	require.Equal(t, int64(0), bal.RemotePendingDebt.Int64())

	pt, ok := mc.LocalPendingTransaction(requestID)
	require.True(t, ok)

	var nonce crypto.RandNonce
	nonce[0] = 5

	resp := McResponse{
		RequestId:      requestID,
		DestHashedLock: srcLock.HashLock(),
		IsComplete:     true,
		RandNonce:      nonce,
	}
	buf := BuildResponseSignatureBuffer(cur, resp, pt)
	sig, err := dest.Sign(ctx, buf)
	require.NoError(t, err)
	resp.Signature = sig

	require.NoError(t, mc.ApplyOutgoing(ResponseSendFundsOp{Response: resp}))

	bal = mc.Balance()
	require.Equal(t, int64(10), bal.Balance.Int64(), "forwarding this response backward grows our credit against the link we forwarded it to")
	require.Equal(t, int64(0), bal.LocalPendingDebt.Int64())
	require.Equal(t, int64(0), bal.RemotePendingDebt.Int64())
}

// TestRequestCancelSendFunds mirrors test_request_cancel_send_funds: a
// cancel releases the freeze with no balance movement.
func TestRequestCancelSendFunds(t *testing.T) {
	ctx := context.Background()
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)

	_, err := mc.ApplyIncoming(ctx, SetRemoteMaxDebtOp{MaxDebt: big.NewInt(100)}, IncomingConfig{})
	require.NoError(t, err)
	err = mc.ApplyOutgoing(EnableRequestsOp{})
	require.NoError(t, err)

	var requestID crypto.Uid
	requestID[0] = 3

	req := McRequest{
		RequestId:        requestID,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb), pk(0xcc)},
		DestPayment:      big.NewInt(10),
		TotalDestPayment: big.NewInt(10),
		LeftFees:         big.NewInt(5),
		Destination:      pk(0xcc),
	}
	_, err = mc.ApplyIncoming(ctx, RequestSendFundsOp{Request: req}, IncomingConfig{Rate: FeeRate{Mul: big.NewInt(0), Add: big.NewInt(0)}})
	require.NoError(t, err)
	require.Equal(t, int64(15), mc.Balance().LocalPendingDebt.Int64())

	err = mc.ApplyOutgoing(CancelSendFundsOp{Cancel: McCancel{RequestId: requestID}})
	require.NoError(t, err)

	bal := mc.Balance()
	require.Equal(t, int64(0), bal.Balance.Int64())
	require.Equal(t, int64(0), bal.LocalPendingDebt.Int64())
}

// TestOverLimitRejection mirrors spec.md §8 scenario 2: a second request
// that would exceed remote_max_debt must fail at Outgoing MC.
func TestOverLimitRejection(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(10)}))

	var id1, id2 crypto.Uid
	id1[0] = 1
	id2[0] = 2

	req1 := McRequest{
		RequestId:        id1,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb)},
		DestPayment:      big.NewInt(8),
		TotalDestPayment: big.NewInt(8),
		LeftFees:         big.NewInt(2),
		Destination:      pk(0xbb),
	}
	require.NoError(t, mc.ApplyOutgoing(RequestSendFundsOp{Request: req1}))

	req2 := McRequest{
		RequestId:        id2,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb)},
		DestPayment:      big.NewInt(6),
		TotalDestPayment: big.NewInt(6),
		LeftFees:         big.NewInt(0),
		Destination:      pk(0xbb),
	}
	err := mc.ApplyOutgoing(RequestSendFundsOp{Request: req2})
	require.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestIncomingRequestRequiresOpenRequests(t *testing.T) {
	ctx := context.Background()
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)

	var id crypto.Uid
	id[0] = 1
	req := McRequest{
		RequestId:        id,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb)},
		DestPayment:      big.NewInt(1),
		TotalDestPayment: big.NewInt(1),
		LeftFees:         big.NewInt(0),
		Destination:      pk(0xbb),
	}
	_, err := mc.ApplyIncoming(ctx, RequestSendFundsOp{Request: req}, IncomingConfig{})
	require.ErrorIs(t, err, ErrRequestsDisabled)
}

func TestIncomingRequestFeeTooLow(t *testing.T) {
	ctx := context.Background()
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(1000)}))
	mc.requestsStatus.Local = Open

	var id crypto.Uid
	id[0] = 1
	req := McRequest{
		RequestId:        id,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb)},
		DestPayment:      big.NewInt(10),
		TotalDestPayment: big.NewInt(11),
		LeftFees:         big.NewInt(0),
		Destination:      pk(0xbb),
	}
	rate := FeeRate{Mul: big.NewInt(0), Add: big.NewInt(1)}
	_, err := mc.ApplyIncoming(ctx, RequestSendFundsOp{Request: req}, IncomingConfig{Rate: rate})
	require.ErrorIs(t, err, ErrFeeTooLow)
}

func TestRequestIdCollision(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(1000)}))

	var id crypto.Uid
	id[0] = 9
	req := McRequest{
		RequestId:        id,
		Route:            []crypto.PublicKey{pk(0xaa), pk(0xbb)},
		DestPayment:      big.NewInt(1),
		TotalDestPayment: big.NewInt(1),
		LeftFees:         big.NewInt(0),
		Destination:      pk(0xbb),
	}
	require.NoError(t, mc.ApplyOutgoing(RequestSendFundsOp{Request: req}))
	err := mc.ApplyOutgoing(RequestSendFundsOp{Request: req})
	require.ErrorIs(t, err, ErrRequestAlreadyExists)
}

func TestIsEmpty(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 0)
	require.True(t, mc.IsEmpty())
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(10)}))
	require.True(t, mc.IsEmpty())
}

func TestSnapshotRoundtrip(t *testing.T) {
	cur := testCurrency(t)
	mc := New(pk(0xaa), pk(0xbb), cur, 5)
	require.NoError(t, mc.ApplyOutgoing(SetRemoteMaxDebtOp{MaxDebt: big.NewInt(50)}))

	snap := mc.Snapshot()
	restored := Restore(snap)

	require.Equal(t, mc.Balance().Balance, restored.Balance().Balance)
	require.Equal(t, mc.Balance().RemoteMaxDebt, restored.Balance().RemoteMaxDebt)
}
