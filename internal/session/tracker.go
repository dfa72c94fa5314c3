// Package session tracks live (session_id, agent_id) pairs and derives
// session.started / session.ended events from their activity.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// DefaultTimeout is the inactivity threshold after which a session ends.
const DefaultTimeout = 10 * time.Minute

type key struct {
	sessionID string
	agentID   string
}

type entry struct {
	state        domain.SessionState
	firstEventID string
	lastEventID  string
}

// Tracker owns the live session map. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	live    map[key]*entry
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock used for last-seen bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker. A non-positive timeout selects
// DefaultTimeout.
func NewTracker(timeout time.Duration, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Tracker{
		live:    make(map[key]*entry),
		timeout: timeout,
		now:     time.Now,
		logger:  slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records a stored event. It returns a session.started event when ev
// is the first one seen for its pair, nil otherwise. Synthetic events are
// ignored.
func (t *Tracker) Observe(ev *domain.Event) *domain.Event {
	if ev == nil || ev.Synthetic {
		return nil
	}

	now := t.now()
	k := key{sessionID: ev.SessionID, agentID: ev.AgentID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.live[k]; ok {
		e.state.LastSeen = now
		e.state.EventCount++
		e.lastEventID = ev.EventID
		if ev.RunID != "" {
			e.state.RunID = ev.RunID
		}
		return nil
	}

	t.live[k] = &entry{
		state: domain.SessionState{
			SessionID:  ev.SessionID,
			AgentID:    ev.AgentID,
			SourceApp:  ev.SourceApp,
			RunID:      ev.RunID,
			FirstSeen:  now,
			LastSeen:   now,
			EventCount: 1,
		},
		firstEventID: ev.EventID,
		lastEventID:  ev.EventID,
	}

	return ev.Derive(domain.EventTypeSessionStarted, map[string]any{
		"source_app":     ev.SourceApp,
		"first_event_id": ev.EventID,
	})
}

// Sweep ends every session idle for longer than the timeout at now. The
// returned session.ended events are ordered by first-seen time; the
// corresponding pairs are no longer tracked.
func (t *Tracker) Sweep(now time.Time) []*domain.Event {
	t.mu.Lock()
	var expired []*entry
	for k, e := range t.live {
		if now.Sub(e.state.LastSeen) > t.timeout {
			expired = append(expired, e)
			delete(t.live, k)
		}
	}
	t.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].state.FirstSeen.Before(expired[j].state.FirstSeen)
	})

	out := make([]*domain.Event, 0, len(expired))
	for _, e := range expired {
		out = append(out, ended(e))
	}
	return out
}

func ended(e *entry) *domain.Event {
	st := e.state
	return &domain.Event{
		SourceApp:     domain.SyntheticSourceApp,
		SessionID:     st.SessionID,
		EventType:     domain.EventTypeSessionEnded,
		Synthetic:     true,
		RunID:         st.RunID,
		AgentID:       st.AgentID,
		ParentEventID: e.lastEventID,
		Payload: map[string]any{
			"source_app":     st.SourceApp,
			"event_count":    st.EventCount,
			"first_seen":     domain.FormatTime(st.FirstSeen),
			"last_seen":      domain.FormatTime(st.LastSeen),
			"duration_ms":    st.LastSeen.Sub(st.FirstSeen).Milliseconds(),
			"first_event_id": e.firstEventID,
		},
	}
}

// Snapshot returns the live sessions, most recently active first.
func (t *Tracker) Snapshot() []domain.SessionState {
	t.mu.Lock()
	out := make([]domain.SessionState, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e.state)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Run sweeps on every tick until ctx is done, handing each session.ended
// event to emit.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, emit func(context.Context, *domain.Event)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := t.Sweep(t.now())
			if len(events) > 0 {
				t.logger.Debug("sessions ended", "count", len(events))
			}
			for _, ev := range events {
				emit(ctx, ev)
			}
		}
	}
}
