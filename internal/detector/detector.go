// Package detector derives synthetic events from patterns in newly stored
// events.
package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/policy"
	"github.com/xiaot623/gogo/observability/internal/redact"
)

// Defaults for Config.
const (
	DefaultTimeoutThreshold = 30 * time.Second
	DefaultFailureWindow    = 5 * time.Minute
	DefaultFailureThreshold = 3
)

// FailureCounter is the store lookup used by the repeated-failure rule.
type FailureCounter interface {
	CountRecentFailures(ctx context.Context, toolName, agentID string, since time.Time) (int, error)
}

// Config holds rule thresholds.
type Config struct {
	TimeoutThreshold time.Duration
	FailureWindow    time.Duration
	FailureThreshold int
}

// Detector applies every rule to one event at a time. It keeps no state
// between calls.
type Detector struct {
	counter FailureCounter
	policy  *policy.Engine
	cfg     Config
	logger  *slog.Logger

	// OnLookupError is called when an auxiliary lookup fails.
	OnLookupError func(ctx context.Context, rule string, err error)
}

// New creates a detector. policyEngine may be nil to disable the policy rule.
func New(counter FailureCounter, policyEngine *policy.Engine, cfg Config) *Detector {
	if cfg.TimeoutThreshold <= 0 {
		cfg.TimeoutThreshold = DefaultTimeoutThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Detector{
		counter: counter,
		policy:  policyEngine,
		cfg:     cfg,
		logger:  slog.Default().With("component", "detector"),
	}
}

// Detect returns the synthetic events triggered by ev, which must already be
// stored. Synthetic input never triggers anything. Rules are independent: a
// failing lookup only silences its own rule.
func (d *Detector) Detect(ctx context.Context, ev *domain.Event) []*domain.Event {
	if ev == nil || ev.Synthetic || ev.SourceApp == domain.SyntheticSourceApp {
		return nil
	}

	var out []*domain.Event
	if derived := d.timeout(ev); derived != nil {
		out = append(out, derived)
	}
	if derived := d.repeatedFailure(ctx, ev); derived != nil {
		out = append(out, derived)
	}
	if derived := d.truncated(ev); derived != nil {
		out = append(out, derived)
	}
	out = append(out, d.violations(ctx, ev)...)
	return out
}

func (d *Detector) timeout(ev *domain.Event) *domain.Event {
	threshold := d.cfg.TimeoutThreshold.Milliseconds()
	if ev.DurationMs == nil || *ev.DurationMs <= threshold {
		return nil
	}
	derived := ev.Derive(domain.EventTypeToolTimeout, map[string]any{
		"threshold_ms": threshold,
		"actual_ms":    *ev.DurationMs,
	})
	derived.RiskLevel = domain.RiskLevelHigh
	return derived
}

func (d *Detector) repeatedFailure(ctx context.Context, ev *domain.Event) *domain.Event {
	if !ev.Failed() || ev.ToolName == "" || d.counter == nil {
		return nil
	}

	since := ev.CreatedAt.Add(-d.cfg.FailureWindow)
	count, err := d.counter.CountRecentFailures(ctx, ev.ToolName, ev.AgentID, since)
	if err != nil {
		d.lookupFailed(ctx, "repeated_failure", err)
		return nil
	}
	if count < d.cfg.FailureThreshold {
		return nil
	}

	derived := ev.Derive(domain.EventTypeErrorUnhandled, map[string]any{
		"count":     count,
		"window_ms": d.cfg.FailureWindow.Milliseconds(),
		"tool_name": ev.ToolName,
	})
	derived.RiskLevel = domain.RiskLevelHigh
	derived.ErrorType = domain.ErrorTypeRepeatedFailure
	return derived
}

func (d *Detector) truncated(ev *domain.Event) *domain.Event {
	if len(ev.Payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil || !strings.Contains(string(raw), redact.TruncationMarkerPrefix) {
		return nil
	}
	fields := truncatedFields("", ev.Payload)
	sort.Strings(fields)
	return ev.Derive(domain.EventTypeOutputTruncated, map[string]any{
		"fields": fields,
	})
}

func (d *Detector) violations(ctx context.Context, ev *domain.Event) []*domain.Event {
	if d.policy == nil {
		return nil
	}
	msgs, err := d.policy.Violations(ctx, policy.Input{
		EventType: ev.EventType,
		ToolName:  ev.ToolName,
		SourceApp: ev.SourceApp,
		AgentID:   ev.AgentID,
		ExitCode:  ev.ExitCode,
		Payload:   ev.Payload,
	})
	if err != nil {
		d.lookupFailed(ctx, "policy", err)
		return nil
	}

	out := make([]*domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		derived := ev.Derive(domain.EventTypePolicyViolation, map[string]any{"rule": msg})
		derived.RiskLevel = domain.RiskLevelHigh
		out = append(out, derived)
	}
	return out
}

func (d *Detector) lookupFailed(ctx context.Context, rule string, err error) {
	d.logger.Warn("detector lookup failed", "rule", rule, "error", err)
	if d.OnLookupError != nil {
		d.OnLookupError(ctx, rule, err)
	}
}

// truncatedFields lists the dotted paths of string values that carry a
// truncation notice.
func truncatedFields(path string, v any) []string {
	var out []string
	switch val := v.(type) {
	case string:
		if strings.Contains(val, redact.TruncationMarkerPrefix) {
			out = append(out, path)
		}
	case map[string]any:
		for k, child := range val {
			p := k
			if path != "" {
				p = path + "." + k
			}
			out = append(out, truncatedFields(p, child)...)
		}
	case []any:
		for _, child := range val {
			out = append(out, truncatedFields(path, child)...)
		}
	}
	return out
}
