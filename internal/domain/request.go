package domain

import "time"

// EventFilter provides filtering options for the history query.
type EventFilter struct {
	SourceApp string
	SessionID string
	EventType string
	Since     time.Time
	Limit     int
	Offset    int
}

// FilterOptions lists the distinct values available for history filters.
type FilterOptions struct {
	SourceApps []string `json:"source_apps"`
	SessionIDs []string `json:"session_ids"`
	EventTypes []string `json:"event_types"`
}

// ChildQuery selects the candidate children of one trace node.
type ChildQuery struct {
	RunID         string
	AgentID       string
	ParentEventID string
	From          time.Time
	To            time.Time
	Limit         int
}

// WindowQuery selects events of a run inside a time window.
// AgentID is optional.
type WindowQuery struct {
	RunID   string
	AgentID string
	From    time.Time
	To      time.Time
	Limit   int
}

// HistoryPage is one page of the history query.
type HistoryPage struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
