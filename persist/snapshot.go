package persist

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/coreos/bbolt"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/currency"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
)

// CurrencyBalance pairs a currency with its McBalance, for the
// per-friend balance list inside a FriendSnapshot.
type CurrencyBalance struct {
	Currency currency.Currency
	Balance  mutualcredit.McBalance

	// RequestsLocal/RequestsRemote capture the EnableRequests/
	// DisableRequests toggle for each direction -- true means Open. Not
	// derivable from Balance alone, and otherwise lost across a restart
	// if no tail mutation after the snapshot happens to re-toggle it.
	RequestsLocal  bool
	RequestsRemote bool
}

// FriendSnapshot is one friend's full recoverable state, matching §6's
// "Persisted state" list verbatim: TokenChannel status, active
// currencies, McBalances, move_token_counter, inconsistency_counter,
// last_incoming_move_token_hashed, relay config, and the sent-relays
// generation. Pending transactions and queued-but-undelivered operations
// are intentionally not part of the snapshot -- see DESIGN.md's Open
// Question decision on this point.
type FriendSnapshot struct {
	PublicKey crypto.PublicKey
	Name      string
	Enabled   bool

	Relays               []string
	SentRelaysGeneration uint64

	Inconsistent         bool
	Holder               bool // meaningful only when !Inconsistent: true = ConsistentIn
	LastMoveTokenHash    crypto.Hash
	MoveTokenCounter     *big.Int
	InconsistencyCounter uint64

	Balances []CurrencyBalance
}

// Snapshot is a full point-in-time Funder state together with the
// mutation-log sequence number it reflects -- any mutation with a
// sequence number <= Seq is already captured here and is safe to
// truncate from the log.
type Snapshot struct {
	Seq     uint64
	Friends []FriendSnapshot
}

func (fs FriendSnapshot) marshalInto(buf *bytes.Buffer) error {
	buf.Write(fs.PublicKey.Bytes())
	writeString(buf, fs.Name)
	writeBool(buf, fs.Enabled)

	writeUint64(buf, uint64(len(fs.Relays)))
	for _, addr := range fs.Relays {
		writeString(buf, addr)
	}
	writeUint64(buf, fs.SentRelaysGeneration)

	writeBool(buf, fs.Inconsistent)
	writeBool(buf, fs.Holder)
	buf.Write(fs.LastMoveTokenHash.Bytes())
	writeBigInt(buf, fs.MoveTokenCounter)
	writeUint64(buf, fs.InconsistencyCounter)

	writeUint64(buf, uint64(len(fs.Balances)))
	for _, cb := range fs.Balances {
		writeString(buf, string(cb.Currency))
		writeBigInt(buf, cb.Balance.Balance)
		writeBigInt(buf, cb.Balance.LocalMaxDebt)
		writeBigInt(buf, cb.Balance.RemoteMaxDebt)
		writeBigInt(buf, cb.Balance.LocalPendingDebt)
		writeBigInt(buf, cb.Balance.RemotePendingDebt)
		writeBigInt(buf, cb.Balance.InFees)
		writeBigInt(buf, cb.Balance.OutFees)
		writeBool(buf, cb.RequestsLocal)
		writeBool(buf, cb.RequestsRemote)
	}
	return nil
}

func unmarshalFriendSnapshot(r *bytes.Reader) (FriendSnapshot, error) {
	var fs FriendSnapshot
	if err := readFixed(r, fs.PublicKey[:]); err != nil {
		return fs, err
	}
	var err error
	if fs.Name, err = readString(r); err != nil {
		return fs, err
	}
	if fs.Enabled, err = readBool(r); err != nil {
		return fs, err
	}

	numRelays, err := readUint64(r)
	if err != nil {
		return fs, err
	}
	fs.Relays = make([]string, numRelays)
	for i := range fs.Relays {
		if fs.Relays[i], err = readString(r); err != nil {
			return fs, err
		}
	}
	if fs.SentRelaysGeneration, err = readUint64(r); err != nil {
		return fs, err
	}

	if fs.Inconsistent, err = readBool(r); err != nil {
		return fs, err
	}
	if fs.Holder, err = readBool(r); err != nil {
		return fs, err
	}
	if err := readFixed(r, fs.LastMoveTokenHash[:]); err != nil {
		return fs, err
	}
	if fs.MoveTokenCounter, err = readBigInt(r); err != nil {
		return fs, err
	}
	if fs.InconsistencyCounter, err = readUint64(r); err != nil {
		return fs, err
	}

	numBalances, err := readUint64(r)
	if err != nil {
		return fs, err
	}
	fs.Balances = make([]CurrencyBalance, numBalances)
	for i := range fs.Balances {
		cur, err := readString(r)
		if err != nil {
			return fs, err
		}
		fs.Balances[i].Currency = currency.Currency(cur)
		b := &fs.Balances[i].Balance
		for _, field := range []**big.Int{&b.Balance, &b.LocalMaxDebt, &b.RemoteMaxDebt, &b.LocalPendingDebt, &b.RemotePendingDebt, &b.InFees, &b.OutFees} {
			v, err := readBigInt(r)
			if err != nil {
				return fs, err
			}
			*field = v
		}
		if fs.Balances[i].RequestsLocal, err = readBool(r); err != nil {
			return fs, err
		}
		if fs.Balances[i].RequestsRemote, err = readBool(r); err != nil {
			return fs, err
		}
	}
	return fs, nil
}

// MarshalSnapshot encodes snap into its persisted byte form.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, snap.Seq)
	writeUint64(&buf, uint64(len(snap.Friends)))
	for _, fs := range snap.Friends {
		if err := fs.marshalInto(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalSnapshot inverts MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	r := bytes.NewReader(data)
	var snap Snapshot
	var err error
	if snap.Seq, err = readUint64(r); err != nil {
		return snap, err
	}
	numFriends, err := readUint64(r)
	if err != nil {
		return snap, err
	}
	snap.Friends = make([]FriendSnapshot, numFriends)
	for i := range snap.Friends {
		if snap.Friends[i], err = unmarshalFriendSnapshot(r); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// WriteSnapshot persists snap as the new latest snapshot and truncates
// every mutation log entry it already reflects (§6's periodic-snapshot
// procedure).
func (s *Store) WriteSnapshot(snap Snapshot) error {
	encoded, err := MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("persist: unable to encode snapshot: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(snapshotKey, encoded)
	})
	if err != nil {
		return fmt.Errorf("persist: unable to write snapshot: %w", err)
	}
	return s.TruncateThrough(snap.Seq)
}

// ReadSnapshot returns the latest snapshot, or ok=false if none has ever
// been written (a fresh database).
func (s *Store) ReadSnapshot() (Snapshot, bool, error) {
	var encoded []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get(snapshotKey)
		if v != nil {
			encoded = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	if encoded == nil {
		return Snapshot{}, false, nil
	}
	snap, err := UnmarshalSnapshot(encoded)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("persist: corrupt snapshot: %w", err)
	}
	return snap, true, nil
}

// Restore returns the latest snapshot (or an empty one for a fresh
// database) plus every mutation since it, ready for the coordinator to
// replay in order (§6's restart procedure).
func (s *Store) Restore() (Snapshot, []Mutation, error) {
	snap, ok, err := s.ReadSnapshot()
	if err != nil {
		return Snapshot{}, nil, err
	}
	if !ok {
		snap = Snapshot{}
	}
	tail, err := s.ReplayAfter(snap.Seq)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, tail, nil
}
