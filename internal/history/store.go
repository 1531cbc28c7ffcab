// Package history keeps the most recent extraction batches on disk.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/gridline/internal/models"
)

// DefaultLimit is how many batches are kept when no limit is configured
const DefaultLimit = 5

var (
	bucketBatches = []byte("batches")
	bucketIndex   = []byte("batch_index")
)

// Store is a bbolt-backed history of batches, newest first
type Store struct {
	db    *bolt.DB
	limit int
}

// Open opens or creates the history database at path
func Open(path string, limit int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := New(db, limit)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a store on an already open database
func New(db *bolt.DB, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBatches, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: db, limit: limit}, nil
}

// Limit returns the number of batches kept
func (s *Store) Limit() int {
	return s.limit
}

// Add saves a batch and drops the oldest ones beyond the limit
func (s *Store) Add(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		return fmt.Errorf("batch id is required")
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		batches := tx.Bucket(bucketBatches)
		index := tx.Bucket(bucketIndex)

		if old := batches.Get([]byte(batch.ID)); old != nil {
			var prev models.Batch
			if err := json.Unmarshal(old, &prev); err == nil {
				index.Delete(makeIndexKey(prev.Timestamp, prev.ID))
			}
		}

		data, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("failed to marshal batch: %w", err)
		}
		if err := batches.Put([]byte(batch.ID), data); err != nil {
			return fmt.Errorf("failed to store batch: %w", err)
		}
		if err := index.Put(makeIndexKey(batch.Timestamp, batch.ID), []byte(batch.ID)); err != nil {
			return fmt.Errorf("failed to add to index: %w", err)
		}

		return trim(index, batches, s.limit)
	})
}

// trim deletes the oldest entries until at most limit remain
func trim(index, batches *bolt.Bucket, limit int) error {
	var keys [][]byte
	c := index.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	if len(keys) <= limit {
		return nil
	}
	stale := keys[:len(keys)-limit]

	for _, k := range stale {
		id := index.Get(k)
		if err := batches.Delete(id); err != nil {
			return err
		}
		if err := index.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// List returns all stored batches, newest first
func (s *Store) List(ctx context.Context) ([]*models.Batch, error) {
	var out []*models.Batch

	err := s.db.View(func(tx *bolt.Tx) error {
		batches := tx.Bucket(bucketBatches)
		c := tx.Bucket(bucketIndex).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			data := batches.Get(v)
			if data == nil {
				continue
			}
			var b models.Batch
			if err := json.Unmarshal(data, &b); err != nil {
				continue
			}
			out = append(out, &b)
		}
		return nil
	})

	return out, err
}

// Summaries returns the listing view of every batch, newest first
func (s *Store) Summaries(ctx context.Context) ([]models.BatchSummary, error) {
	batches, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.BatchSummary, 0, len(batches))
	for _, b := range batches {
		out = append(out, b.Summary())
	}
	return out, nil
}

// Get returns a batch by id, or nil when it is not stored
func (s *Store) Get(ctx context.Context, id string) (*models.Batch, error) {
	var batch *models.Batch

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBatches).Get([]byte(id))
		if data == nil {
			return nil
		}
		batch = &models.Batch{}
		return json.Unmarshal(data, batch)
	})

	return batch, err
}

// Delete removes a batch; deleting a missing id is not an error
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		batches := tx.Bucket(bucketBatches)

		data := batches.Get([]byte(id))
		if data == nil {
			return nil
		}
		var b models.Batch
		if err := json.Unmarshal(data, &b); err == nil {
			tx.Bucket(bucketIndex).Delete(makeIndexKey(b.Timestamp, b.ID))
		}
		return batches.Delete([]byte(id))
	})
}

// Clear removes every batch
func (s *Store) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBatches, bucketIndex} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of stored batches
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketBatches).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Store) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key: 8-byte big-endian unix nanos + id
func makeIndexKey(t time.Time, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	copy(key[8:], id)
	return key
}
