// Package tracer reconstructs the causal context of an event: the chain of
// ancestors reached through parent_event_id and a time-windowed tree of
// descendants.
//
// Descendants are a heuristic. A child is any event of the same run and agent
// that names the node as parent and was created within ChildWindow of it;
// correctly linked events outside the window are not found.
package tracer

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// Limits applied to every trace.
const (
	MaxAncestorHops    = 25
	MaxDescendantDepth = 10
	ChildWindow        = 30 * time.Minute
	MaxChildrenPerNode = 100

	MaxContextEvents = 200
)

// Default bounds of the context-window half width.
const (
	DefaultMinWindow = time.Minute
	DefaultMaxWindow = time.Hour
)

// Reader is the subset of the store the tracer needs.
type Reader interface {
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	ListChildren(ctx context.Context, q domain.ChildQuery) ([]domain.Event, error)
	ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.Event, error)
}

// Tracer answers trace and context-window queries. It holds no state.
type Tracer struct {
	store     Reader
	minWindow time.Duration
	maxWindow time.Duration
}

// New creates a tracer. Non-positive window bounds select the defaults.
func New(store Reader, minWindow, maxWindow time.Duration) *Tracer {
	if minWindow <= 0 {
		minWindow = DefaultMinWindow
	}
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	if maxWindow < minWindow {
		maxWindow = minWindow
	}
	return &Tracer{store: store, minWindow: minWindow, maxWindow: maxWindow}
}

// Trace builds the trace of eventID. It returns domain.ErrNotFound when the
// event does not exist.
func (t *Tracer) Trace(ctx context.Context, eventID string) (*domain.TraceResult, error) {
	root, err := t.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, eventID)
	}

	ancestors, err := t.Ancestors(ctx, root)
	if err != nil {
		return nil, err
	}
	descendants, err := t.Descendants(ctx, root)
	if err != nil {
		return nil, err
	}

	return &domain.TraceResult{
		Root:        *root,
		Ancestors:   ancestors,
		Descendants: descendants,
	}, nil
}

// Ancestors walks parent_event_id back from ev and returns the chain oldest
// first. The walk stops quietly at a missing parent, at a cycle, or after
// MaxAncestorHops lookups. ev itself is never part of the result.
func (t *Tracer) Ancestors(ctx context.Context, ev *domain.Event) ([]domain.Event, error) {
	chain := []domain.Event{}
	visited := map[string]bool{ev.EventID: true}

	parentID := ev.ParentEventID
	for hops := 0; parentID != "" && hops < MaxAncestorHops; hops++ {
		if visited[parentID] {
			break
		}
		visited[parentID] = true

		parent, err := t.store.GetEvent(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("get ancestor %s: %w", parentID, err)
		}
		if parent == nil {
			break
		}
		chain = append(chain, *parent)
		parentID = parent.ParentEventID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns the children of ev expanded recursively. Nodes at
// MaxDescendantDepth are returned as leaves. An event is placed in the tree
// at most once.
func (t *Tracer) Descendants(ctx context.Context, ev *domain.Event) ([]domain.TraceNode, error) {
	visited := map[string]bool{ev.EventID: true}
	return t.children(ctx, ev, 1, visited)
}

func (t *Tracer) children(ctx context.Context, parent *domain.Event, depth int, visited map[string]bool) ([]domain.TraceNode, error) {
	kids, err := t.store.ListChildren(ctx, domain.ChildQuery{
		RunID:         parent.RunID,
		AgentID:       parent.AgentID,
		ParentEventID: parent.EventID,
		From:          parent.CreatedAt.Add(-ChildWindow),
		To:            parent.CreatedAt.Add(ChildWindow),
		Limit:         MaxChildrenPerNode,
	})
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parent.EventID, err)
	}

	nodes := make([]domain.TraceNode, 0, len(kids))
	for i := range kids {
		kid := kids[i]
		if visited[kid.EventID] {
			continue
		}
		visited[kid.EventID] = true

		node := domain.TraceNode{Event: kid, Depth: depth, Children: []domain.TraceNode{}}
		if depth < MaxDescendantDepth {
			if node.Children, err = t.children(ctx, &kid, depth+1, visited); err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// ContextWindow returns events of runID (and agentID when set) created
// within window of at, oldest first. window is clamped to the configured
// bounds and the result to MaxContextEvents.
func (t *Tracer) ContextWindow(ctx context.Context, runID, agentID string, at time.Time, window time.Duration) ([]domain.Event, error) {
	window = t.ClampWindow(window)
	return t.store.ListWindow(ctx, domain.WindowQuery{
		RunID:   runID,
		AgentID: agentID,
		From:    at.Add(-window),
		To:      at.Add(window),
		Limit:   MaxContextEvents,
	})
}

// ClampWindow bounds a requested half width.
func (t *Tracer) ClampWindow(window time.Duration) time.Duration {
	if window < t.minWindow {
		return t.minWindow
	}
	if window > t.maxWindow {
		return t.maxWindow
	}
	return window
}
