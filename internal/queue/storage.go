package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs     = []byte("jobs")
	bucketPending  = []byte("pending")
	bucketDeferred = []byte("deferred")
)

// indexTimeLayout is fixed width so index keys sort by time
const indexTimeLayout = "2006-01-02T15:04:05.000000000Z"

// BoltStorage implements Queue interface using BoltDB
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
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

	s, err := NewBoltStorageWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewBoltStorageWithDB creates the queue buckets in an open database
func NewBoltStorageWithDB(db *bolt.DB) (*BoltStorage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPending, bucketDeferred} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

func putJob(b *bolt.Bucket, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := b.Put([]byte(job.ID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

// Enqueue adds a job to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = StatusPending

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJob(tx.Bucket(bucketJobs), job); err != nil {
			return err
		}

		indexKey := makeIndexKey(job.CreatedAt, job.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

// Dequeue claims the next job: due deferred jobs first, then pending ones
// in arrival order.
func (s *BoltStorage) Dequeue(ctx context.Context) (*Job, error) {
	var job *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		now := time.Now()

		claim := func(index *bolt.Bucket, due func(k []byte) bool) (bool, error) {
			c := index.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if !due(k) {
					return false, nil
				}

				data := jobs.Get(v)
				if data == nil {
					// Job was deleted, clean up index
					if err := c.Delete(); err != nil {
						return false, err
					}
					continue
				}

				var j Job
				if err := json.Unmarshal(data, &j); err != nil {
					continue
				}

				j.Status = StatusRunning
				j.UpdatedAt = now
				if err := putJob(jobs, &j); err != nil {
					return false, err
				}
				if err := c.Delete(); err != nil {
					return false, err
				}

				job = &j
				return true, nil
			}
			return false, nil
		}

		found, err := claim(tx.Bucket(bucketDeferred), func(k []byte) bool {
			return !parseTimestampFromKey(k).After(now)
		})
		if err != nil || found {
			return err
		}

		_, err = claim(tx.Bucket(bucketPending), func([]byte) bool { return true })
		return err
	})

	return job, err
}

// Update stores the job state. Finished jobs lose their PDF text and
// deferred jobs are indexed by their retry time.
func (s *BoltStorage) Update(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job.UpdatedAt = time.Now()
		if job.Finished() {
			job.PDFText = ""
		}

		if err := putJob(tx.Bucket(bucketJobs), job); err != nil {
			return err
		}

		if job.Status == StatusDeferred {
			indexKey := makeIndexKey(job.NextRetryAt, job.ID)
			if err := tx.Bucket(bucketDeferred).Put(indexKey, []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		}
		return nil
	})
}

// SetStage records the progress stage of a running job
func (s *BoltStorage) SetStage(ctx context.Context, id, stage string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		data := jobs.Get([]byte(id))
		if data == nil {
			return nil
		}

		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		j.Stage = stage
		j.UpdatedAt = time.Now()
		return putJob(jobs, &j)
	})
}

// Get retrieves a job by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}

		job = &Job{}
		return json.Unmarshal(data, job)
	})

	return job, err
}

// List returns jobs matching filter, newest first
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var jobs []*Job

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}
			if filter.Status != "" && j.Status != filter.Status {
				return nil
			}
			j.PDFText = ""
			jobs = append(jobs, &j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}

	return jobs, nil
}

// Delete removes a job from the queue
func (s *BoltStorage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		deleteJob(tx, jobs.Get([]byte(id)))
		return jobs.Delete([]byte(id))
	})
}

// deleteJob cleans up the index entries of a stored job
func deleteJob(tx *bolt.Tx, data []byte) {
	if data == nil {
		return
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return
	}
	tx.Bucket(bucketPending).Delete(makeIndexKey(j.CreatedAt, j.ID))
	tx.Bucket(bucketDeferred).Delete(makeIndexKey(j.NextRetryAt, j.ID))
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}

			stats.Total++
			switch j.Status {
			case StatusPending:
				stats.Pending++
			case StatusRunning:
				stats.Running++
			case StatusDeferred:
				stats.Deferred++
			case StatusDone:
				stats.Done++
			case StatusFailed:
				stats.Failed++
			}
			return nil
		})
	})

	return stats, err
}

// StatusCounts returns the number of jobs per status, including zeros
func (s *BoltStorage) StatusCounts(ctx context.Context) (map[string]int64, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int64{
		string(StatusPending):  stats.Pending,
		string(StatusRunning):  stats.Running,
		string(StatusDeferred): stats.Deferred,
		string(StatusDone):     stats.Done,
		string(StatusFailed):   stats.Failed,
	}, nil
}

// RequeueRunning puts jobs left running by an unclean shutdown back into
// the pending index.
func (s *BoltStorage) RequeueRunning(ctx context.Context) (int, error) {
	requeued := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		pending := tx.Bucket(bucketPending)

		var stuck []Job
		err := jobs.ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err == nil && j.Status == StatusRunning {
				stuck = append(stuck, j)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i := range stuck {
			j := &stuck[i]
			j.Status = StatusPending
			j.Stage = ""
			j.UpdatedAt = time.Now()
			if err := putJob(jobs, j); err != nil {
				return err
			}
			if err := pending.Put(makeIndexKey(j.CreatedAt, j.ID), []byte(j.ID)); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})

	return requeued, err
}

// CleanupFinished removes done and failed jobs older than maxAge
func (s *BoltStorage) CleanupFinished(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)

		var toDelete [][]byte
		err := jobs.ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				return nil
			}
			if j.Finished() && j.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range toDelete {
			if err := jobs.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeLayout) + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	if len(key) < len(indexTimeLayout) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeLayout, string(key[:len(indexTimeLayout)]))
	return ts
}
