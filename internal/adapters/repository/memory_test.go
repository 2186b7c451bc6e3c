package repository_test

import (
	"context"
	"testing"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/adapters/repository/storetest"
	"github.com/okian/cadenza/internal/domain/model"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s := repository.NewMemoryStore(context.Background(), repository.WithMetricsUpdateInterval(0))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(0))
	defer s.Close()

	if err := s.CreateCourse(ctx, model.Course{ID: "c", ClassIDs: []string{"a"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err := s.GetCourse(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c.ClassIDs[0] = "mutated"

	again, _ := s.GetCourse(ctx, "c")
	if again.ClassIDs[0] != "a" {
		t.Errorf("store shared its slice with the caller: %v", again.ClassIDs)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := repository.NewMemoryStore(context.Background(), repository.WithMetricsUpdateInterval(0))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetStudent(ctx, "x"); err == nil {
		t.Error("expected error on cancelled context")
	}
}
