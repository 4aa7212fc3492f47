package persist

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

func pk(b byte) crypto.PublicKey {
	var p crypto.PublicKey
	p[0] = b
	return p
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "offset.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offset.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestMutationRoundtrip(t *testing.T) {
	cur, _ := currency.New("FST1")
	n := pk(1)

	cases := []Mutation{
		AddFriend{PublicKey: n, Name: "alice"},
		RemoveFriend{PublicKey: n},
		SetFriendEnabled{PublicKey: n, Enabled: true},
		OpenCurrency{PublicKey: n, Currency: cur},
		CloseCurrency{PublicKey: n, Currency: cur},
		SetMaxDebt{PublicKey: n, Currency: cur, Local: true, MaxDebt: big.NewInt(1000)},
		SetRate{PublicKey: n, Currency: cur, Rate: mutualcredit.FeeRate{Mul: big.NewInt(1), Add: big.NewInt(2)}},
		ApplyOperation{PublicKey: n, Currency: cur, Op: mutualcredit.EnableRequestsOp{}},
		ApplyOperation{PublicKey: n, Currency: cur, Op: mutualcredit.CancelSendFundsOp{Cancel: mutualcredit.McCancel{RequestId: crypto.Uid{9}}}},
		AdvanceToken{PublicKey: n, Holder: true, MoveTokenHash: crypto.Hash{1, 2, 3}, MoveTokenCounter: big.NewInt(7)},
		Inconsistent{PublicKey: n, InconsistencyCounter: 3, LocalResetToken: crypto.Signature{4, 5}},
		RelayGeneration{PublicKey: n, Generation: 9},
	}

	for _, m := range cases {
		encoded, err := MarshalMutation(m)
		require.NoError(t, err)
		decoded, err := UnmarshalMutation(encoded)
		require.NoError(t, err)
		require.Equal(t, m, decoded)
	}
}

func TestAppendAndReplayAfter(t *testing.T) {
	s := openTestStore(t)
	n := pk(2)

	seq1, err := s.Append(AddFriend{PublicKey: n, Name: "bob"})
	require.NoError(t, err)
	seq2, err := s.Append(SetFriendEnabled{PublicKey: n, Enabled: true})
	require.NoError(t, err)
	require.Equal(t, seq1+1, seq2)

	all, err := s.ReplayAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, AddFriend{PublicKey: n, Name: "bob"}, all[0])

	onlySecond, err := s.ReplayAfter(seq1)
	require.NoError(t, err)
	require.Len(t, onlySecond, 1)
	require.Equal(t, SetFriendEnabled{PublicKey: n, Enabled: true}, onlySecond[0])
}

func TestSnapshotTruncatesMutationLog(t *testing.T) {
	s := openTestStore(t)
	n := pk(3)

	seq, err := s.Append(AddFriend{PublicKey: n, Name: "carol"})
	require.NoError(t, err)
	_, err = s.Append(SetFriendEnabled{PublicKey: n, Enabled: true})
	require.NoError(t, err)

	snap := Snapshot{
		Seq: seq,
		Friends: []FriendSnapshot{{
			PublicKey:        n,
			Name:             "carol",
			Enabled:          false,
			MoveTokenCounter: big.NewInt(0),
			Balances: []CurrencyBalance{{
				Currency: currency.Currency("FST1"),
				Balance: mutualcredit.McBalance{
					Balance:           big.NewInt(5),
					LocalMaxDebt:      big.NewInt(10),
					RemoteMaxDebt:     big.NewInt(10),
					LocalPendingDebt:  big.NewInt(0),
					RemotePendingDebt: big.NewInt(0),
					InFees:            big.NewInt(0),
					OutFees:           big.NewInt(0),
				},
			}},
		}},
	}
	require.NoError(t, s.WriteSnapshot(snap))

	// The snapshotted mutation (seq) is gone; anything after survives.
	remaining, err := s.ReplayAfter(0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, SetFriendEnabled{PublicKey: n, Enabled: true}, remaining[0])

	got, ok, err := s.ReadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, n, got.Friends[0].PublicKey)
	require.Equal(t, big.NewInt(5), got.Friends[0].Balances[0].Balance.Balance)
}

func TestRestoreCombinesSnapshotAndTail(t *testing.T) {
	s := openTestStore(t)
	n := pk(4)

	seq, err := s.Append(AddFriend{PublicKey: n, Name: "dave"})
	require.NoError(t, err)
	require.NoError(t, s.WriteSnapshot(Snapshot{Seq: seq, Friends: []FriendSnapshot{{PublicKey: n, Name: "dave", MoveTokenCounter: big.NewInt(0)}}}))

	_, err = s.Append(SetFriendEnabled{PublicKey: n, Enabled: true})
	require.NoError(t, err)

	snap, tail, err := s.Restore()
	require.NoError(t, err)
	require.Len(t, snap.Friends, 1)
	require.Equal(t, "dave", snap.Friends[0].Name)
	require.Len(t, tail, 1)
	require.Equal(t, SetFriendEnabled{PublicKey: n, Enabled: true}, tail[0])
}

func TestRestoreOnFreshDatabaseReturnsEmptySnapshot(t *testing.T) {
	s := openTestStore(t)
	snap, tail, err := s.Restore()
	require.NoError(t, err)
	require.Empty(t, snap.Friends)
	require.Empty(t, tail)
}
