package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/tests/helpers"
)

func TestSummarizeCounters(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*domain.Event{
		{EventType: "PreToolUse", ToolName: "Read", Payload: map[string]any{"tool_input": map[string]any{"file_path": "/src/main.go"}}},
		{EventType: "PostToolUse", ToolName: "Edit", DurationMs: domain.Int64Ptr(1200), Payload: map[string]any{"tool_input": map[string]any{"file_path": "/src/main.go"}}},
		{EventType: "PostToolUse", ToolName: "Bash", ExitCode: domain.IntPtr(1), DurationMs: domain.Int64Ptr(800), RiskLevel: domain.RiskLevelMed},
		{EventType: "PostToolUse", ToolName: "Bash", ExitCode: domain.IntPtr(0), Payload: map[string]any{"files": []any{"a.txt", "b.txt"}}},
		{EventType: domain.EventTypeTaskCompleted, TaskID: "t1"},
		{EventType: domain.EventTypeTaskCompleted, TaskID: "t2"},
		{EventType: domain.EventTypeTaskFailed, TaskID: "t3", ErrorType: "assertion", RiskLevel: domain.RiskLevelHigh},
		{EventType: domain.EventTypeHandoffCompleted, Payload: map[string]any{"path": "docs/plan.md"}},
		{EventType: domain.EventTypeRunCompleted},
	}
	for i, ev := range events {
		ev.RunID = "r1"
		ev.AgentID = "a1"
		ev.CreatedAt = base.Add(time.Duration(i) * time.Second)
		helpers.MustInsert(t, s, ev)
	}
	// other agents in the run count toward agents_seen only
	helpers.MustInsert(t, s, &domain.Event{RunID: "r1", AgentID: "a2", ToolName: "Write", CreatedAt: base})
	helpers.MustInsert(t, s, &domain.Event{RunID: "r2", AgentID: "a1", ToolName: "Grep", CreatedAt: base})

	stats, err := New(s).Stats(ctx, "r1", "a1")
	require.NoError(t, err)

	assert.Equal(t, len(events), stats.TotalEvents)
	assert.Equal(t, 2, stats.TasksCompleted)
	assert.Equal(t, 1, stats.TasksFailed)
	assert.Equal(t, 1, stats.Handoffs)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, int64(2000), stats.TotalDurationMs)
	assert.Equal(t, []string{"Bash", "Edit", "Read"}, stats.ToolsUsed)
	assert.Equal(t, []string{"/src/main.go", "a.txt", "b.txt", "docs/plan.md"}, stats.FilesTouched)
	assert.Equal(t, []string{"a1", "a2"}, stats.AgentsSeen)
	assert.Equal(t, map[string]int{"med": 1, "high": 1}, stats.RiskCounts)
	assert.Equal(t, map[string]int{"assertion": 1}, stats.ErrorTypeCounts)
	assert.Equal(t, "2026-03-01T12:00:00.000Z", stats.FirstEventAt)
	assert.Equal(t, "2026-03-01T12:00:08.000Z", stats.LastEventAt)

	sum := 0
	for _, n := range stats.EventTypeCounts {
		sum += n
	}
	assert.Equal(t, stats.TotalEvents, sum)
}

func TestSummarizeEvent(t *testing.T) {
	ctx := context.Background()
	s := helpers.NewTestSQLiteStore(t)

	helpers.MustInsert(t, s, &domain.Event{RunID: "r1", AgentID: "a1", ToolName: "Bash", EventType: domain.EventTypeHandoffCompleted})
	last := helpers.MustInsert(t, s, &domain.Event{RunID: "r1", AgentID: "a1", SessionID: "s9", EventType: domain.EventTypeRunCompleted})

	ev, err := New(s).Summarize(ctx, "r1", "a1")
	require.NoError(t, err)

	assert.Equal(t, domain.EventTypeRunSummary, ev.EventType)
	assert.True(t, ev.Synthetic)
	assert.Equal(t, domain.SyntheticSourceApp, ev.SourceApp)
	assert.Equal(t, "s9", ev.SessionID)
	assert.Equal(t, last.EventID, ev.ParentEventID)
	assert.Equal(t, "Run r1 (a1): 2 events, 1 tools, 1 agents, 0 errors, 1 handoffs", ev.Summary)
	assert.Equal(t, float64(2), ev.Payload["total_events"])
	assert.Equal(t, float64(1), ev.Payload["handoffs"])
	assert.Equal(t, "r1", ev.Payload["run_id"])

	stored, err := s.Insert(ctx, ev)
	require.NoError(t, err)
	found, err := s.FindRunSummary(ctx, "r1", "a1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, stored.EventID, found.EventID)
}

func TestSummarizeUnknownRun(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)

	_, err := New(s).Summarize(context.Background(), "nope", "a1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFilesTouched(t *testing.T) {
	got := filesTouched(map[string]any{
		"file_path":  "top.go",
		"tool_input": map[string]any{"notebook_path": "nb.ipynb", "path": " "},
		"files":      []any{"x", 3.0, ""},
	})
	assert.Equal(t, []string{"top.go", "x", "nb.ipynb"}, got)
}
