// Package store records stamping jobs.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrNotFound = errors.New("job not found")

type State string

const (
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Pages     int       `json:"pages"`
	Applied   int       `json:"applied"`
	Degraded  int       `json:"degraded"`
	Bytes     int       `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	// Create assigns an ID when the job has none and stamps both times.
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]*Job, error)
	Close() error
}

// NewID returns a new sortable job ID.
func NewID() string { return ulid.Make().String() }

// Prepare fills in the ID and timestamps of a job about to be created.
func Prepare(job *Job, now time.Time) {
	if job.ID == "" {
		job.ID = NewID()
	}
	if job.State == "" {
		job.State = Running
	}
	job.CreatedAt = now.UTC()
	job.UpdatedAt = job.CreatedAt
}

type memory struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemory() Store {
	return &memory{jobs: make(map[string]Job)}
}

func (m *memory) Create(_ context.Context, job *Job) error {
	Prepare(job, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return errors.New("job " + job.ID + " already exists")
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memory) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	job.CreatedAt = prev.CreatedAt
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memory) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *memory) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		j := j
		out = append(out, &j)
	}
	m.mu.RUnlock()
	// ULIDs sort by creation time
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) Close() error { return nil }
