package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
)

var fastPolicy = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDoRetriesConflictsUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("write lost: %w", apperr.ErrOptimisticConflict)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("expected 42 after 3 calls, got %d after %d", got, calls)
	}
}

func TestDoSurfacesTemporarilyUnavailableOnExhaustion(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "test", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, apperr.ErrOptimisticConflict
	})
	if !errors.Is(err, apperr.ErrTemporarilyUnavailable) {
		t.Fatalf("expected ErrTemporarilyUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	boom := errors.New("insufficient points")
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "test", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
