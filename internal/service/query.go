package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/repository"
	"github.com/xiaot623/gogo/observability/internal/telemetry"
)

// History returns one page of the event log, newest first.
func (s *Service) History(ctx context.Context, f domain.EventFilter) (*domain.HistoryPage, error) {
	f.Limit = store.ClampLimit(f.Limit, 100)
	if f.Offset < 0 {
		f.Offset = 0
	}
	events, total, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return &domain.HistoryPage{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// FilterOptions lists the distinct values usable as history filters.
func (s *Service) FilterOptions(ctx context.Context) (*domain.FilterOptions, error) {
	return s.store.DistinctValues(ctx)
}

// Recent returns the last n events, oldest first.
func (s *Service) Recent(ctx context.Context, n int) ([]domain.Event, error) {
	return s.store.Recent(ctx, n)
}

// Snapshot returns the backlog sent to new stream subscribers.
func (s *Service) Snapshot(ctx context.Context) ([]domain.Event, error) {
	return s.store.Recent(ctx, s.config.SnapshotSize)
}

// Trace reconstructs the ancestors and descendants of eventID.
func (s *Service) Trace(ctx context.Context, eventID string) (*domain.TraceResult, error) {
	ctx, span := s.telemetry.Start(ctx, telemetry.SpanTrace, attribute.String("event_id", eventID))
	defer span.End()

	res, err := s.tracer.Trace(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("ancestors", len(res.Ancestors)),
		attribute.Int("descendants", len(res.Descendants)),
	)
	return res, nil
}

// ContextWindow returns the events of a run around at.
func (s *Service) ContextWindow(ctx context.Context, runID, agentID string, at time.Time, window time.Duration) ([]domain.Event, error) {
	return s.tracer.ContextWindow(ctx, runID, agentID, at, window)
}

// Category returns events whose type belongs to category, newest first.
func (s *Service) Category(ctx context.Context, category string, limit int) ([]domain.Event, error) {
	return s.store.ListByCategory(ctx, category, limit)
}

// AgentTimeline returns one agent's events in chronological order.
func (s *Service) AgentTimeline(ctx context.Context, agentID string, since time.Time, limit int) ([]domain.Event, error) {
	return s.store.AgentTimeline(ctx, agentID, since, limit)
}

// ActiveSessions returns the live sessions, most recently active first.
func (s *Service) ActiveSessions() []domain.SessionState {
	return s.tracker.Snapshot()
}

// RunSummaryStats computes the statistics of a pair without storing them.
func (s *Service) RunSummaryStats(ctx context.Context, runID, agentID string) (*domain.RunSummaryStats, error) {
	return s.summarizer.Stats(ctx, runID, agentID)
}
