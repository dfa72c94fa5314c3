package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/redact"
	"github.com/xiaot623/gogo/observability/internal/telemetry"
)

// Ingest validates, redacts and stores a caller-supplied event, then derives
// and stores any synthetic events it triggers. Derivation is best effort:
// its failures are logged and never affect the returned record.
func (s *Service) Ingest(ctx context.Context, in *domain.Event) (*domain.Event, error) {
	ctx, span := s.telemetry.Start(ctx, telemetry.SpanIngest,
		attribute.String("event_type", in.EventType),
		attribute.String("source_app", in.SourceApp),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ev := *in
	ev.Synthetic = false
	ev.Payload = redact.Payload(in.Payload)
	ev.Summary = redact.String(in.Summary)

	stored, err := s.insert(ctx, &ev)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			s.telemetry.Duplicate(ctx)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.telemetry.Ingested(ctx, stored.SourceApp)
	span.SetAttributes(attribute.String("event_id", stored.EventID))

	for _, derived := range s.derive(ctx, stored) {
		s.emitDerived(ctx, derived)
	}
	s.maybeSummarize(ctx, stored)
	return stored, nil
}

// derive collects the synthetic events triggered by one stored, caller
// supplied event. Synthetic records never reach this point.
func (s *Service) derive(ctx context.Context, stored *domain.Event) []*domain.Event {
	var out []*domain.Event
	if started := s.tracker.Observe(stored); started != nil {
		out = append(out, started)
	}
	out = append(out, s.detector.Detect(ctx, stored)...)
	return out
}

// emitDerived stores and broadcasts a synthetic event. It is never offered
// to the tracker or detector again.
func (s *Service) emitDerived(ctx context.Context, ev *domain.Event) *domain.Event {
	ev.Synthetic = true
	ev.SourceApp = domain.SyntheticSourceApp

	stored, err := s.insert(ctx, ev)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to store derived event",
			"event_type", ev.EventType, "parent_event_id", ev.ParentEventID, "error", err)
		return nil
	}
	s.telemetry.Derived(ctx, stored.EventType)
	return stored
}

// insert stores ev and hands the record to every broadcaster before the next
// insert can start. Broadcast failures, timeouts included, are logged only.
func (s *Service) insert(ctx context.Context, ev *domain.Event) (*domain.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, err := s.store.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	for _, b := range s.broadcasters {
		if err := s.publish(ctx, b, stored); err != nil {
			s.logger.WarnContext(ctx, "broadcast failed", "event_id", stored.EventID, "error", err)
		}
	}
	return stored, nil
}

// publish gives one broadcaster at most publishTimeout, so a stalled sink
// delays the next insert by a bounded amount.
func (s *Service) publish(ctx context.Context, b Broadcaster, ev *domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	return b.Publish(ctx, ev)
}

// maybeSummarize writes the run summary when ev closes a run for one agent
// and no summary exists yet. It runs after the other derived events so the
// summary counts them.
func (s *Service) maybeSummarize(ctx context.Context, ev *domain.Event) {
	if !s.config.AutoSummarize || !domain.IsRunTerminal(ev.EventType) {
		return
	}
	if ev.RunID == "" || ev.AgentID == "" {
		return
	}
	if _, _, err := s.SummarizeRun(ctx, ev.RunID, ev.AgentID); err != nil {
		s.logger.WarnContext(ctx, "auto summary failed", "run_id", ev.RunID, "agent_id", ev.AgentID, "error", err)
	}
}

// SummarizeRun returns the run summary of the pair, creating and storing it
// when none exists. created reports whether a new summary was written.
func (s *Service) SummarizeRun(ctx context.Context, runID, agentID string) (summary *domain.Event, created bool, err error) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()

	existing, err := s.store.FindRunSummary(ctx, runID, agentID)
	if err != nil {
		return nil, false, fmt.Errorf("find run summary: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	ev, err := s.summarizer.Summarize(ctx, runID, agentID)
	if err != nil {
		return nil, false, err
	}
	stored, err := s.insert(ctx, ev)
	if err != nil {
		return nil, false, fmt.Errorf("store run summary: %w", err)
	}
	s.telemetry.Derived(ctx, stored.EventType)
	return stored, true, nil
}
