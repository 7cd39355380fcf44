package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	job := &Job{Name: "contract.pdf"}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" || job.State != Running || job.CreatedAt.IsZero() {
		t.Fatalf("create did not prepare job: %+v", job)
	}

	job.State = Succeeded
	job.Pages = 3
	job.Applied = 5
	if err := s.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != Succeeded || got.Pages != 3 || got.Applied != 5 || got.Name != "contract.pdf" {
		t.Fatalf("unexpected job %+v", got)
	}

	// returned jobs are copies
	got.Name = "changed"
	again, _ := s.Get(ctx, job.ID)
	if again.Name != "contract.pdf" {
		t.Fatalf("store shares job memory with callers")
	}
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, &Job{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Create(ctx, &Job{ID: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, &Job{ID: "a"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, id := range []string{"01A", "01C", "01B"} {
		if err := s.Create(ctx, &Job{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	jobs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "01C" || jobs[1].ID != "01B" {
		t.Fatalf("unexpected order: %v %v", jobs[0].ID, jobs[1].ID)
	}
	all, _ := s.List(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
}

func TestNewIDSortable(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected id lengths %q %q", a, b)
	}
	if a == b {
		t.Fatalf("ids collide")
	}
}
