package domain

import "time"

// TraceNode is one node of a reconstructed descendant tree.
type TraceNode struct {
	Event    Event       `json:"event"`
	Children []TraceNode `json:"children"`
	Depth    int         `json:"depth"`
}

// TraceResult is the causal context of one event.
// Ancestors are ordered oldest-first and never include Root.
type TraceResult struct {
	Root        Event       `json:"root"`
	Ancestors   []Event     `json:"ancestors"`
	Descendants []TraceNode `json:"descendants"`
}

// SessionState tracks one live (session_id, agent_id) pair.
type SessionState struct {
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id"`
	SourceApp  string    `json:"source_app"`
	RunID      string    `json:"run_id,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	EventCount int       `json:"event_count"`
}

// RunSummaryStats aggregates every event of one (run_id, agent_id) pair.
type RunSummaryStats struct {
	RunID           string         `json:"run_id"`
	AgentID         string         `json:"agent_id"`
	TotalEvents     int            `json:"total_events"`
	ToolsUsed       []string       `json:"tools_used"`
	FilesTouched    []string       `json:"files_touched"`
	AgentsSeen      []string       `json:"agents_seen"`
	ErrorCount      int            `json:"error_count"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	RiskCounts      map[string]int `json:"risk_counts"`
	TasksCompleted  int            `json:"tasks_completed"`
	TasksFailed     int            `json:"tasks_failed"`
	Handoffs        int            `json:"handoffs"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
	ErrorTypeCounts map[string]int `json:"error_type_counts"`
	FirstEventAt    string         `json:"first_event_at,omitempty"`
	LastEventAt     string         `json:"last_event_at,omitempty"`
}
