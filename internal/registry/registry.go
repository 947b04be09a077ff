// Package registry holds job records and serializes their mutation.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/paidflow/internal/domain"
)

// Store is the single source of truth for job state.
type Store interface {
	Create(job domain.Job) error
	Get(id string) (domain.Job, error)
	// Update applies fn to a copy of the job and commits the copy only if fn
	// returns nil. Readers observe either the old or the new record.
	Update(id string, fn func(job *domain.Job) error) (domain.Job, error)
	List() []domain.Job
	// Find returns up to PageSize+1 matching jobs after the cursor, so the
	// caller can tell whether another page exists.
	Find(filter Filter) []domain.Job
}

type entry struct {
	mu  sync.RWMutex
	job domain.Job
}

// Memory is an in-process Store. The map lock only guards membership; each
// job has its own lock so slow mutations of one job never block another.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

// NewMemory creates an empty in-memory registry
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*entry)}
}

func (m *Memory) Create(job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("failed to create job: empty id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	m.jobs[job.ID] = &entry{job: job}

	return nil
}

func (m *Memory) Get(id string) (domain.Job, error) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.job, nil
}

func (m *Memory) Update(id string, fn func(job *domain.Job) error) (domain.Job, error) {
	e, ok := m.lookup(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.job
	if err := fn(&next); err != nil {
		return e.job, err
	}
	e.job = next

	return next, nil
}

// List returns a snapshot of every job ordered by creation time.
func (m *Memory) List() []domain.Job {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		jobs = append(jobs, e.job)
		e.mu.RUnlock()
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs
}

func (m *Memory) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	return e, ok
}
