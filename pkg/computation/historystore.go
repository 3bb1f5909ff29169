package computation

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

// HistoryStore persists each container's rolling duration history in a
// single bbolt database so the duration estimate survives a process
// restart instead of resetting to -1 (spec §4.5 step 5).
type HistoryStore struct {
	db *bolt.DB
}

var historyBucket = []byte("duration_history")

// OpenHistoryStore opens (creating if absent) a bbolt database at path.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Load returns a History seeded with container's persisted entries, oldest
// first, bound to this store so future appends persist automatically.
func (s *HistoryStore) Load(container string) (*History, error) {
	h := &History{store: s, container: container}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket).Bucket([]byte(container))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			h.entries = append(h.entries, time.Duration(int64(binary.BigEndian.Uint64(v))))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(h.entries) > historySize {
		h.entries = h.entries[len(h.entries)-historySize:]
	}
	return h, nil
}

// persist writes container's current entries, replacing whatever was
// stored before, and drops anything beyond historySize.
func (s *HistoryStore) persist(container string, entries []time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent, err := tx.CreateBucketIfNotExists(historyBucket)
		if err != nil {
			return err
		}
		key := []byte(container)
		if err := parent.DeleteBucket(key); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := parent.CreateBucket(key)
		if err != nil {
			return err
		}
		for i, d := range entries {
			var seqKey [8]byte
			binary.BigEndian.PutUint64(seqKey[:], uint64(i))
			var val [8]byte
			binary.BigEndian.PutUint64(val[:], uint64(d))
			if err := bucket.Put(seqKey[:], val[:]); err != nil {
				return err
			}
		}
		return nil
	})
}
