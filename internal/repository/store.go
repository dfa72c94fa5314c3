// Package store defines the event storage interface and its SQLite
// implementation.
package store

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// MaxQueryLimit caps every history-style read.
const MaxQueryLimit = 500

// Store defines the interface for event persistence.
type Store interface {
	// Write path
	Insert(ctx context.Context, event *domain.Event) (*domain.Event, error)

	// Lookups
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	Query(ctx context.Context, filter domain.EventFilter) ([]domain.Event, int, error)
	DistinctValues(ctx context.Context) (*domain.FilterOptions, error)
	Recent(ctx context.Context, n int) ([]domain.Event, error)
	ListByCategory(ctx context.Context, category string, limit int) ([]domain.Event, error)
	AgentTimeline(ctx context.Context, agentID string, since time.Time, limit int) ([]domain.Event, error)

	// Correlation
	CountRecentFailures(ctx context.Context, toolName, agentID string, since time.Time) (int, error)
	ListChildren(ctx context.Context, q domain.ChildQuery) ([]domain.Event, error)
	ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.Event, error)
	ScanRun(ctx context.Context, runID, agentID string, fn func(*domain.Event) error) error
	DistinctRunAgents(ctx context.Context, runID string) ([]string, error)
	FindRunSummary(ctx context.Context, runID, agentID string) (*domain.Event, error)

	// Lifecycle
	Close() error
}
