package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateEvent is returned when an event_id is already stored.
	ErrDuplicateEvent = errors.New("duplicate event_id")
	// ErrNotFound is returned when a referenced event does not exist.
	ErrNotFound = errors.New("event not found")
	// ErrInvalidEvent is returned when required fields are missing.
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is an immutable, timestamped record of something an agent did.
// Empty strings and nil pointers stand for NULL correlation fields.
type Event struct {
	ID        int64          `json:"id"`
	EventID   string         `json:"event_id"`
	SourceApp string         `json:"source_app"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	ToolName  string         `json:"tool_name,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Synthetic bool           `json:"synthetic,omitempty"`

	RunID         string     `json:"run_id,omitempty"`
	AgentID       string     `json:"agent_id,omitempty"`
	ParentEventID string     `json:"parent_event_id,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	RiskLevel     RiskLevel  `json:"risk_level,omitempty"`
	AgentState    AgentState `json:"agent_state,omitempty"`
	ErrorType     string     `json:"error_type,omitempty"`
}

// Validate checks the fields required on ingest.
func (e *Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if e.SourceApp == SyntheticSourceApp {
		return fmt.Errorf("%w: source_app %q is reserved", ErrInvalidEvent, SyntheticSourceApp)
	}
	if !e.RiskLevel.Valid() {
		return fmt.Errorf("%w: unknown risk_level %q", ErrInvalidEvent, e.RiskLevel)
	}
	if !e.AgentState.Valid() {
		return fmt.Errorf("%w: unknown agent_state %q", ErrInvalidEvent, e.AgentState)
	}
	return nil
}

// Failed reports whether the event carries a non-zero exit code.
func (e *Event) Failed() bool {
	return e.ExitCode != nil && *e.ExitCode != 0
}

// Derive returns a new synthetic event that inherits the correlation fields
// of e and points at it as parent.
func (e *Event) Derive(eventType string, payload map[string]any) *Event {
	return &Event{
		SourceApp:     SyntheticSourceApp,
		SessionID:     e.SessionID,
		EventType:     eventType,
		ToolName:      e.ToolName,
		Payload:       payload,
		Synthetic:     true,
		RunID:         e.RunID,
		AgentID:       e.AgentID,
		ParentEventID: e.EventID,
		TaskID:        e.TaskID,
	}
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
