package velocity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/repository"
)

func TestVelocityService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo)
	svc.now = func() time.Time { return now }

	ctx := context.Background()

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.Count(ctx, "sub-001", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithEvents", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			service := "Paycell"
			if i%2 == 1 {
				service = "BiP"
			}
			ev := &domain.Event{
				ID:           fmt.Sprintf("ev-%d", i),
				SubscriberID: "sub-001",
				Service:      service,
				EventType:    "TRANSFER",
				Value:        100,
				Timestamp:    now.Add(-time.Duration(i) * time.Minute),
			}
			if err := repo.SaveEvent(ctx, ev); err != nil {
				t.Fatalf("failed to save event: %v", err)
			}
		}

		sum, err := svc.Summarize(ctx, "sub-001", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sum.Total != 5 {
			t.Errorf("expected 5 events, got %d", sum.Total)
		}
		if sum.ByService["Paycell"] != 3 || sum.ByService["BiP"] != 2 {
			t.Errorf("unexpected service breakdown: %v", sum.ByService)
		}
		if sum.ByType["TRANSFER"] != 5 {
			t.Errorf("expected 5 TRANSFER events, got %d", sum.ByType["TRANSFER"])
		}
		if sum.ValueSum != 500 {
			t.Errorf("expected value sum 500, got %v", sum.ValueSum)
		}
		if sum.LastSeen == nil || !sum.LastSeen.Equal(now) {
			t.Errorf("expected last seen %v, got %v", now, sum.LastSeen)
		}
		if sum.Truncated {
			t.Error("summary should not be truncated")
		}
	})

	t.Run("WindowExcludesOlderEvents", func(t *testing.T) {
		count, err := svc.Count(ctx, "sub-001", 150*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 events in window, got %d", count)
		}
	})

	t.Run("DifferentSubscriber", func(t *testing.T) {
		count, err := svc.Count(ctx, "sub-002", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for different subscriber, got %d", count)
		}
	})
}

func TestVelocityServiceValidation(t *testing.T) {
	svc := NewService(repository.NewMemory())
	ctx := context.Background()

	if _, err := svc.Summarize(ctx, "", time.Hour); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty subscriber, got %v", err)
	}
	if _, err := svc.Summarize(ctx, "sub-001", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero window, got %v", err)
	}
}

type failingLister struct{}

func (failingLister) ListEvents(context.Context, string, time.Time, int) ([]*domain.Event, error) {
	return nil, errors.New("db down")
}

func TestVelocityServiceListError(t *testing.T) {
	svc := NewService(failingLister{})
	if _, err := svc.Count(context.Background(), "sub-001", time.Hour); err == nil {
		t.Fatal("expected error from failing lister")
	}
}
