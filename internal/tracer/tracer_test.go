package tracer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/tests/helpers"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ids(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventID)
	}
	return out
}

func TestTraceNotFound(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	_, err := tr.Trace(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTraceWithoutParent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)
	helpers.MustInsert(t, s, &domain.Event{EventID: "solo"})

	res, err := tr.Trace(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, "solo", res.Root.EventID)
	assert.NotNil(t, res.Ancestors)
	assert.Empty(t, res.Ancestors)
	assert.Empty(t, res.Descendants)
}

func TestAncestorsOldestFirst(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	helpers.MustInsert(t, s, &domain.Event{EventID: "a", CreatedAt: base})
	helpers.MustInsert(t, s, &domain.Event{EventID: "b", ParentEventID: "a", CreatedAt: base.Add(time.Second)})
	helpers.MustInsert(t, s, &domain.Event{EventID: "c", ParentEventID: "b", CreatedAt: base.Add(2 * time.Second)})

	res, err := tr.Trace(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Ancestors))
}

func TestAncestorsDanglingParent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	helpers.MustInsert(t, s, &domain.Event{EventID: "b", ParentEventID: "gone"})
	helpers.MustInsert(t, s, &domain.Event{EventID: "c", ParentEventID: "b"})

	res, err := tr.Trace(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Ancestors))
}

func TestAncestorsTwoCycle(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	helpers.MustInsert(t, s, &domain.Event{EventID: "A", ParentEventID: "B"})
	helpers.MustInsert(t, s, &domain.Event{EventID: "B", ParentEventID: "A"})

	res, err := tr.Trace(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids(res.Ancestors))
}

func TestAncestorsSelfParent(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)
	helpers.MustInsert(t, s, &domain.Event{EventID: "self", ParentEventID: "self"})

	res, err := tr.Trace(context.Background(), "self")
	require.NoError(t, err)
	assert.Empty(t, res.Ancestors)
}

func TestAncestorsHopCap(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	parent := ""
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("e%02d", i)
		helpers.MustInsert(t, s, &domain.Event{EventID: id, ParentEventID: parent, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		parent = id
	}

	res, err := tr.Trace(context.Background(), "e39")
	require.NoError(t, err)
	require.Len(t, res.Ancestors, MaxAncestorHops)
	assert.Equal(t, "e14", res.Ancestors[0].EventID)
	assert.Equal(t, "e38", res.Ancestors[MaxAncestorHops-1].EventID)
}

func TestDescendantsTree(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	ev := func(id, parent string, at time.Duration) *domain.Event {
		return &domain.Event{EventID: id, ParentEventID: parent, RunID: "r1", AgentID: "a1", CreatedAt: base.Add(at)}
	}
	helpers.MustInsert(t, s, ev("root", "", 0))
	helpers.MustInsert(t, s, ev("c1", "root", time.Minute))
	helpers.MustInsert(t, s, ev("c2", "root", 2*time.Minute))
	helpers.MustInsert(t, s, ev("g1", "c1", 3*time.Minute))
	// outside the window
	helpers.MustInsert(t, s, ev("late", "root", 31*time.Minute))
	// other agent
	other := ev("other", "root", time.Minute)
	other.AgentID = "a2"
	helpers.MustInsert(t, s, other)

	res, err := tr.Trace(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, res.Descendants, 2)

	c1 := res.Descendants[0]
	assert.Equal(t, "c1", c1.Event.EventID)
	assert.Equal(t, 1, c1.Depth)
	require.Len(t, c1.Children, 1)
	assert.Equal(t, "g1", c1.Children[0].Event.EventID)
	assert.Equal(t, 2, c1.Children[0].Depth)

	assert.Equal(t, "c2", res.Descendants[1].Event.EventID)
	assert.Empty(t, res.Descendants[1].Children)
}

func TestDescendantsDepthCap(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	parent := ""
	for i := 0; i <= 15; i++ {
		id := fmt.Sprintf("d%02d", i)
		helpers.MustInsert(t, s, &domain.Event{EventID: id, ParentEventID: parent, RunID: "r1", AgentID: "a1", CreatedAt: base.Add(time.Duration(i) * time.Second)})
		parent = id
	}

	res, err := tr.Trace(context.Background(), "d00")
	require.NoError(t, err)

	depth := 0
	nodes := res.Descendants
	var last domain.TraceNode
	for len(nodes) > 0 {
		require.Len(t, nodes, 1)
		last = nodes[0]
		depth++
		nodes = last.Children
	}
	assert.Equal(t, MaxDescendantDepth, depth)
	assert.Equal(t, MaxDescendantDepth, last.Depth)
	assert.Equal(t, "d10", last.Event.EventID)
}

func TestDescendantsIgnoreCycles(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	helpers.MustInsert(t, s, &domain.Event{EventID: "A", ParentEventID: "B", RunID: "r1", CreatedAt: base})
	helpers.MustInsert(t, s, &domain.Event{EventID: "B", ParentEventID: "A", RunID: "r1", CreatedAt: base.Add(time.Second)})

	res, err := tr.Trace(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, res.Descendants, 1)
	assert.Equal(t, "B", res.Descendants[0].Event.EventID)
	assert.Empty(t, res.Descendants[0].Children)
}

func TestContextWindow(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, time.Minute, 10*time.Minute)

	for i, at := range []time.Duration{-20 * time.Minute, -5 * time.Minute, 0, 30 * time.Second, 9 * time.Minute, 11 * time.Minute} {
		helpers.MustInsert(t, s, &domain.Event{EventID: fmt.Sprintf("w%d", i), RunID: "r1", AgentID: "a1", CreatedAt: base.Add(at)})
	}
	helpers.MustInsert(t, s, &domain.Event{EventID: "other-agent", RunID: "r1", AgentID: "a2", CreatedAt: base})
	helpers.MustInsert(t, s, &domain.Event{EventID: "other-run", RunID: "r2", AgentID: "a1", CreatedAt: base})

	ctx := context.Background()

	// below the minimum: clamped up to one minute
	got, err := tr.ContextWindow(ctx, "r1", "a1", base, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"w2", "w3"}, ids(got))

	// above the maximum: clamped down to ten minutes
	got, err = tr.ContextWindow(ctx, "r1", "a1", base, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w3", "w4"}, ids(got))

	// agent is optional
	got, err = tr.ContextWindow(ctx, "r1", "", base, time.Minute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w2", "w3", "other-agent"}, ids(got))
}

func TestContextWindowCap(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	tr := New(s, 0, 0)

	for i := 0; i < MaxContextEvents+20; i++ {
		helpers.MustInsert(t, s, &domain.Event{RunID: "r1", CreatedAt: base.Add(time.Duration(i) * time.Millisecond)})
	}

	got, err := tr.ContextWindow(context.Background(), "r1", "", base, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, MaxContextEvents)
	assert.True(t, !got[0].CreatedAt.After(got[len(got)-1].CreatedAt))
}
