// Package persist implements §6's "Persisted state": an append-only
// sequence of typed mutations with periodic snapshots, backed by
// bbolt. It follows channeldb's nested-bucket-per-key layout
// (channeldb/channel.go's openChanBucket -> per-node -> per-chain ->
// per-channel-point hierarchy) applied to a flatter shape: one
// mutation log and one latest-snapshot slot.
package persist

import (
	"fmt"

	"github.com/coreos/bbolt"
)

var (
	mutationsBucket = []byte("mutations")
	snapshotBucket  = []byte("snapshot")
	snapshotKey     = []byte("latest")
)

// Store wraps a bbolt database file holding one Funder instance's
// persisted state.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database at path, ensuring both top-level
// buckets exist (channeldb/channel.go's createChannelDB does the
// equivalent CreateBucketIfNotExists dance for its own buckets on
// open).
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: unable to open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(mutationsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: unable to initialize buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
