// Package summary rolls every event of one (run_id, agent_id) pair up into a
// single run.summary event.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// Scanner is the subset of the store the summarizer reads from.
type Scanner interface {
	ScanRun(ctx context.Context, runID, agentID string, fn func(*domain.Event) error) error
	DistinctRunAgents(ctx context.Context, runID string) ([]string, error)
}

// Summarizer produces run summaries. It does not check for an existing
// summary; callers decide whether one is wanted.
type Summarizer struct {
	store Scanner
}

// New creates a summarizer reading from store.
func New(store Scanner) *Summarizer {
	return &Summarizer{store: store}
}

// Summarize scans the pair and returns an unsaved run.summary event. It
// returns domain.ErrNotFound when the pair has no events.
func (s *Summarizer) Summarize(ctx context.Context, runID, agentID string) (*domain.Event, error) {
	stats, last, err := s.collect(ctx, runID, agentID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no events for run %s agent %s", domain.ErrNotFound, runID, agentID)
	}

	payload, err := toPayload(stats)
	if err != nil {
		return nil, err
	}

	ev := last.Derive(domain.EventTypeRunSummary, payload)
	ev.ToolName = ""
	ev.RunID = runID
	ev.AgentID = agentID
	ev.Summary = Sentence(stats)
	return ev, nil
}

// Stats scans the pair and returns the aggregate counters.
func (s *Summarizer) Stats(ctx context.Context, runID, agentID string) (*domain.RunSummaryStats, error) {
	stats, _, err := s.collect(ctx, runID, agentID)
	return stats, err
}

func (s *Summarizer) collect(ctx context.Context, runID, agentID string) (*domain.RunSummaryStats, *domain.Event, error) {
	acc := newAccumulator(runID, agentID)

	var last *domain.Event
	err := s.store.ScanRun(ctx, runID, agentID, func(ev *domain.Event) error {
		acc.add(ev)
		last = ev
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan run: %w", err)
	}

	agents, err := s.store.DistinctRunAgents(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("list run agents: %w", err)
	}
	return acc.stats(agents), last, nil
}

// Sentence renders the human-readable line stored as the event summary.
func Sentence(st *domain.RunSummaryStats) string {
	return fmt.Sprintf("Run %s (%s): %d events, %d tools, %d agents, %d errors, %d handoffs",
		st.RunID, st.AgentID, st.TotalEvents, len(st.ToolsUsed), len(st.AgentsSeen), st.ErrorCount, st.Handoffs)
}

type accumulator struct {
	st    domain.RunSummaryStats
	tools map[string]bool
	files map[string]bool
}

func newAccumulator(runID, agentID string) *accumulator {
	return &accumulator{
		st: domain.RunSummaryStats{
			RunID:           runID,
			AgentID:         agentID,
			RiskCounts:      map[string]int{},
			EventTypeCounts: map[string]int{},
			ErrorTypeCounts: map[string]int{},
		},
		tools: map[string]bool{},
		files: map[string]bool{},
	}
}

func (a *accumulator) add(ev *domain.Event) {
	st := &a.st
	st.TotalEvents++
	st.EventTypeCounts[ev.EventType]++

	if st.FirstEventAt == "" {
		st.FirstEventAt = domain.FormatTime(ev.CreatedAt)
	}
	st.LastEventAt = domain.FormatTime(ev.CreatedAt)

	if ev.ToolName != "" {
		a.tools[ev.ToolName] = true
	}
	for _, f := range filesTouched(ev.Payload) {
		a.files[f] = true
	}
	if ev.Failed() {
		st.ErrorCount++
	}
	if ev.DurationMs != nil {
		st.TotalDurationMs += *ev.DurationMs
	}
	if ev.RiskLevel != "" {
		st.RiskCounts[string(ev.RiskLevel)]++
	}
	if ev.ErrorType != "" {
		st.ErrorTypeCounts[ev.ErrorType]++
	}

	switch ev.EventType {
	case domain.EventTypeTaskCompleted:
		st.TasksCompleted++
	case domain.EventTypeTaskFailed:
		st.TasksFailed++
	case domain.EventTypeHandoffCompleted:
		st.Handoffs++
	}
}

func (a *accumulator) stats(agents []string) *domain.RunSummaryStats {
	st := a.st
	st.ToolsUsed = sortedKeys(a.tools)
	st.FilesTouched = sortedKeys(a.files)
	if agents == nil {
		agents = []string{}
	}
	st.AgentsSeen = agents
	return &st
}

// Payload keys that name a file, at the top level or under tool_input.
var fileKeys = []string{"file_path", "path", "notebook_path"}

func filesTouched(payload map[string]any) []string {
	var out []string
	collect := func(m map[string]any) {
		for _, k := range fileKeys {
			if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, v)
			}
		}
		if list, ok := m["files"].([]any); ok {
			for _, item := range list {
				if v, ok := item.(string); ok && v != "" {
					out = append(out, v)
				}
			}
		}
	}

	collect(payload)
	if input, ok := payload["tool_input"].(map[string]any); ok {
		collect(input)
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toPayload(st *domain.RunSummaryStats) (map[string]any, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return payload, nil
}
