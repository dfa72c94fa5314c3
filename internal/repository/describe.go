package store

import (
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

const maxSummaryDetail = 120

// Tool input keys tried in order when describing a tool call.
var toolDetailKeys = []string{"command", "file_path", "path", "pattern", "url", "query", "description", "prompt"}

// Top-level payload keys tried in order when describing other events.
var messageKeys = []string{"message", "summary", "reason", "error", "prompt", "status"}

// Describe builds the human-readable summary stored with an event when the
// caller did not provide one. It never returns an empty string.
func Describe(e *domain.Event) string {
	eventType := e.EventType
	if eventType == "" {
		eventType = "event"
	}

	if e.ToolName != "" {
		if input, ok := e.Payload["tool_input"].(map[string]any); ok {
			if detail := firstString(input, toolDetailKeys); detail != "" {
				return fmt.Sprintf("%s: %s", e.ToolName, clip(detail))
			}
		}
		if detail := firstString(e.Payload, toolDetailKeys); detail != "" {
			return fmt.Sprintf("%s: %s", e.ToolName, clip(detail))
		}
		return fmt.Sprintf("%s via %s", eventType, e.ToolName)
	}

	if msg := firstString(e.Payload, messageKeys); msg != "" {
		return fmt.Sprintf("%s: %s", eventType, clip(msg))
	}
	if n := len(e.Payload); n > 0 {
		return fmt.Sprintf("%s (%d fields)", eventType, n)
	}
	return eventType
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSummaryDetail {
		return s
	}
	return string(r[:maxSummaryDetail]) + "..."
}
