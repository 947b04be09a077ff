package registry

import (
	"time"

	"github.com/cuongbtq/paidflow/internal/domain"
)

// Cursor marks the last job of a page in (CreatedAt, ID) order.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Filter selects a page of jobs. Zero fields match everything.
type Filter struct {
	PurchaserID string
	State       domain.State
	PageSize    int
	Cursor      *Cursor
}

func (f Filter) matches(job domain.Job) bool {
	if f.PurchaserID != "" && job.PurchaserID != f.PurchaserID {
		return false
	}
	if f.State != "" && job.State != f.State {
		return false
	}
	if f.Cursor != nil {
		if job.CreatedAt.Before(f.Cursor.CreatedAt) {
			return false
		}
		if job.CreatedAt.Equal(f.Cursor.CreatedAt) && job.ID <= f.Cursor.JobID {
			return false
		}
	}
	return true
}

// Find returns the jobs matching filter in creation order, at most
// PageSize+1 of them so callers can tell whether another page follows.
func (m *Memory) Find(filter Filter) []domain.Job {
	limit := filter.PageSize + 1

	var out []domain.Job
	for _, job := range m.List() {
		if !filter.matches(job) {
			continue
		}
		out = append(out, job)
		if filter.PageSize > 0 && len(out) == limit {
			break
		}
	}
	return out
}
