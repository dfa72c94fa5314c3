package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// MustInsert stores ev and fails the test on error.
func MustInsert(t *testing.T, s store.Store, ev *domain.Event) *domain.Event {
	t.Helper()

	if ev.SourceApp == "" {
		ev.SourceApp = "test-app"
	}
	if ev.SessionID == "" {
		ev.SessionID = "s1"
	}
	if ev.EventType == "" {
		ev.EventType = "tool.used"
	}
	stored, err := s.Insert(context.Background(), ev)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return stored
}

// Clock is a manually advanced time source.
type Clock struct {
	T time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
