package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"inquisitor/internal/jobs"
)

type memoryStore struct {
	mu      sync.RWMutex
	batches map[string]jobs.Batch
	jobs    map[string]jobs.Job
	byBatch map[string][]string
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns an in-process Store.
func NewMemory() Store {
	return &memoryStore{
		batches: map[string]jobs.Batch{},
		jobs:    map[string]jobs.Job{},
		byBatch: map[string][]string{},
	}
}

func (s *memoryStore) CreateBatch(_ context.Context, b jobs.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return errDuplicate("batch", b.ID)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *memoryStore) GetBatch(_ context.Context, id string) (jobs.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return jobs.Batch{}, ErrNotFound
	}
	return b, nil
}

func (s *memoryStore) UpdateBatchStatus(_ context.Context, id string, st jobs.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return false, ErrNotFound
	}
	if !jobs.Advances(b.Status, st) {
		return false, nil
	}
	b.Status = st
	if st.Terminal() {
		t := at
		b.CompletedAt = &t
	}
	s.batches[id] = b
	return true, nil
}

func (s *memoryStore) ListOpenBatches(_ context.Context) ([]jobs.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.Batch, 0)
	for _, b := range s.batches {
		if !b.Status.Terminal() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) CreateJob(_ context.Context, j jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return errDuplicate("job", j.ID)
	}
	if _, ok := s.batches[j.BatchID]; !ok {
		return ErrNotFound
	}
	j.Data = append([]byte(nil), j.Data...)
	s.jobs[j.ID] = j
	s.byBatch[j.BatchID] = append(s.byBatch[j.BatchID], j.ID)
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, ErrNotFound
	}
	return j, nil
}

func (s *memoryStore) UpdateJobStatus(_ context.Context, id string, st jobs.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !jobs.Advances(j.Status, st) {
		return false, nil
	}
	j.Status = st
	s.jobs[id] = j
	return true, nil
}

func (s *memoryStore) ListBatchJobs(_ context.Context, batchID string) ([]jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byBatch[batchID]
	out := make([]jobs.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.jobs[id])
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
