package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Store keeps the bookkeeping of jobs being tracked. It is best effort:
// the poller logs store failures and keeps polling. Records are keyed by
// AsyncJob.RecordKey, so one job tracked twice has two records.
type Store interface {
	Save(ctx context.Context, job *cloudcall.AsyncJob) error
	Load(ctx context.Context, key string) (*cloudcall.AsyncJob, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*cloudcall.AsyncJob, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]cloudcall.AsyncJob
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]cloudcall.AsyncJob)}
}

// Save stores a copy of job.
func (s *MemoryStore) Save(_ context.Context, job *cloudcall.AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.RecordKey()] = *job

	return nil
}

// Load returns a copy of the record under key or ErrJobNotFound.
func (s *MemoryStore) Load(_ context.Context, key string) (*cloudcall.AsyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrJobNotFound, key)
	}

	return &job, nil
}

// Delete removes the record under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, key)

	return nil
}

// List returns all jobs ordered by submission time.
func (s *MemoryStore) List(_ context.Context) ([]*cloudcall.AsyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*cloudcall.AsyncJob, 0, len(s.jobs))

	for _, job := range s.jobs {
		jobCopy := job
		out = append(out, &jobCopy)
	}

	sortJobs(out)

	return out, nil
}

// Close does nothing.
func (s *MemoryStore) Close() error {
	return nil
}

// NopStore keeps nothing.
type NopStore struct{}

// NewNopStore creates a store that discards every job.
func NewNopStore() *NopStore {
	return &NopStore{}
}

// Save does nothing.
func (NopStore) Save(context.Context, *cloudcall.AsyncJob) error { return nil }

// Load always fails with ErrJobNotFound.
func (NopStore) Load(_ context.Context, key string) (*cloudcall.AsyncJob, error) {
	return nil, fmt.Errorf("%w: %s", constants.ErrJobNotFound, key)
}

// Delete does nothing.
func (NopStore) Delete(context.Context, string) error { return nil }

// List returns no jobs.
func (NopStore) List(context.Context) ([]*cloudcall.AsyncJob, error) { return nil, nil }

// Close does nothing.
func (NopStore) Close() error { return nil }

func sortJobs(jobs []*cloudcall.AsyncJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].RecordKey() < jobs[j].RecordKey()
		}

		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
}
