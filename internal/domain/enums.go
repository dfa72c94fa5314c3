// Package domain defines the core domain models for the observability engine.
package domain

// SyntheticSourceApp is the source_app attributed to every event produced by
// the engine itself.
const SyntheticSourceApp = "_system"

// RiskLevel represents the assessed risk of an event.
type RiskLevel string

const (
	RiskLevelLow  RiskLevel = "low"
	RiskLevelMed  RiskLevel = "med"
	RiskLevelHigh RiskLevel = "high"
)

// Valid reports whether r is empty or one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case "", RiskLevelLow, RiskLevelMed, RiskLevelHigh:
		return true
	}
	return false
}

// AgentState represents the reported state of an agent.
type AgentState string

const (
	AgentStateIdle    AgentState = "idle"
	AgentStateActive  AgentState = "active"
	AgentStateWaiting AgentState = "waiting"
	AgentStateError   AgentState = "error"
)

// Valid reports whether s is empty or one of the known states.
func (s AgentState) Valid() bool {
	switch s {
	case "", AgentStateIdle, AgentStateActive, AgentStateWaiting, AgentStateError:
		return true
	}
	return false
}

// Event types with meaning to the engine. Callers may send any other
// category.verb value.
const (
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeHandoffCompleted = "handoff.completed"

	EventTypeRunCompleted = "run.completed"
	EventTypeRunFailed    = "run.failed"
	EventTypeRunEnded     = "run.ended"

	// Synthetic
	EventTypeSessionStarted  = "session.started"
	EventTypeSessionEnded    = "session.ended"
	EventTypeToolTimeout     = "tool.timeout"
	EventTypeErrorUnhandled  = "error.unhandled"
	EventTypeOutputTruncated = "output.truncated"
	EventTypePolicyViolation = "policy.violation"
	EventTypeRunSummary      = "run.summary"
)

// ErrorTypeRepeatedFailure marks bursts of failing tool calls.
const ErrorTypeRepeatedFailure = "repeated_failure"

// IsRunTerminal reports whether eventType closes a run for one agent.
func IsRunTerminal(eventType string) bool {
	switch eventType {
	case EventTypeRunCompleted, EventTypeRunFailed, EventTypeRunEnded:
		return true
	}
	return false
}
