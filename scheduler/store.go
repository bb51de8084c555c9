package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketJobs     = []byte("jobs")
	bucketPeriodic = []byte("periodic")
)

// PeriodicInfo is the persisted record of a unique periodic work.
type PeriodicInfo struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Interval  time.Duration `json:"interval"`
	LastJobID uuid.UUID     `json:"last_job_id"`
	NextRunAt time.Time     `json:"next_run_at"`
}

// boltStore persists jobs and periodic work in a bbolt file.
type boltStore struct {
	db *bolt.DB
}

func openBoltStore(path string) (*boltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPeriodic} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func (s *boltStore) putJob(job *JobInfo) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID.String()), data)
	})
}

func (s *boltStore) getJob(id uuid.UUID) (*JobInfo, error) {
	var job *JobInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketJobs).Get([]byte(id.String()))
		if v == nil {
			return ErrJobNotFound
		}
		job = &JobInfo{}
		return json.Unmarshal(v, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// jobs returns every job accepted by keep (all jobs when keep is nil).
func (s *boltStore) jobs(keep func(*JobInfo) bool) ([]JobInfo, error) {
	var result []JobInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job JobInfo
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("decode job %s: %w", k, err)
			}
			if keep == nil || keep(&job) {
				result = append(result, job)
			}
			return nil
		})
	})
	return result, err
}

// pruneJobs deletes finished jobs that ended before cutoff.
func (s *boltStore) pruneJobs(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var job JobInfo
			if err := json.Unmarshal(v, &job); err != nil {
				return nil
			}
			if job.State.IsFinished() && job.FinishedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func (s *boltStore) putPeriodic(p *PeriodicInfo) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeriodic).Put([]byte(p.Name), data)
	})
}

func (s *boltStore) getPeriodic(name string) (*PeriodicInfo, error) {
	var p *PeriodicInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPeriodic).Get([]byte(name))
		if v == nil {
			return ErrWorkNotFound
		}
		p = &PeriodicInfo{}
		return json.Unmarshal(v, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *boltStore) deletePeriodic(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeriodic).Delete([]byte(name))
	})
}

func (s *boltStore) periodics() ([]PeriodicInfo, error) {
	var result []PeriodicInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeriodic).ForEach(func(k, v []byte) error {
			var p PeriodicInfo
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode periodic work %s: %w", k, err)
			}
			result = append(result, p)
			return nil
		})
	})
	return result, err
}
