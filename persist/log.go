package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/coreos/bbolt"
)

// Append persists m as the next entry in the mutation log and returns
// its sequence number, taking the key from the mutations bucket's
// NextSequence and writing the entry with a single Put. A
// write failure here is infrastructure failure (§7): the caller should
// treat it as fatal, not retry with degraded semantics.
func (s *Store) Append(m Mutation) (uint64, error) {
	encoded, err := MarshalMutation(m)
	if err != nil {
		return 0, fmt.Errorf("persist: unable to encode mutation: %w", err)
	}

	var seq uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutationsBucket)
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), encoded)
	})
	if err != nil {
		return 0, fmt.Errorf("persist: unable to append mutation: %w", err)
	}
	return seq, nil
}

// ReplayAfter returns every mutation with sequence number strictly
// greater than afterSeq, in ascending order -- the "replayed tail
// mutations" of §6's restart procedure.
func (s *Store) ReplayAfter(afterSeq uint64) ([]Mutation, error) {
	var mutations []Mutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutationsBucket)
		c := b.Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			m, err := UnmarshalMutation(v)
			if err != nil {
				return fmt.Errorf("persist: corrupt mutation at seq %d: %w", binary.BigEndian.Uint64(k), err)
			}
			mutations = append(mutations, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutations, nil
}

// TruncateThrough deletes every mutation log entry with sequence number
// <= seq, called after a snapshot makes them redundant for restore
// (§6: "restored from the latest snapshot plus replayed tail
// mutations").
func (s *Store) TruncateThrough(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutationsBucket)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= seq; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
