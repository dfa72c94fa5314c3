package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"minimal", Event{SessionID: "s1", EventType: "tool.used"}, false},
		{"missing session", Event{EventType: "tool.used"}, true},
		{"missing type", Event{SessionID: "s1"}, true},
		{"reserved source", Event{SessionID: "s1", EventType: "x", SourceApp: SyntheticSourceApp}, true},
		{"bad risk", Event{SessionID: "s1", EventType: "x", RiskLevel: "critical"}, true},
		{"bad state", Event{SessionID: "s1", EventType: "x", AgentState: "sleeping"}, true},
		{"known enums", Event{SessionID: "s1", EventType: "x", RiskLevel: RiskLevelMed, AgentState: AgentStateWaiting}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidEvent), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFailed(t *testing.T) {
	assert.False(t, (&Event{}).Failed())
	assert.False(t, (&Event{ExitCode: IntPtr(0)}).Failed())
	assert.True(t, (&Event{ExitCode: IntPtr(2)}).Failed())
}

func TestDeriveInheritsCorrelation(t *testing.T) {
	src := &Event{
		EventID:    "e1",
		SourceApp:  "claude",
		SessionID:  "s1",
		EventType:  "PostToolUse",
		ToolName:   "Bash",
		RunID:      "r1",
		AgentID:    "a1",
		TaskID:     "t1",
		DurationMs: Int64Ptr(100),
		ExitCode:   IntPtr(1),
		RiskLevel:  RiskLevelLow,
	}

	d := src.Derive(EventTypeToolTimeout, map[string]any{"k": "v"})
	assert.Equal(t, SyntheticSourceApp, d.SourceApp)
	assert.True(t, d.Synthetic)
	assert.Equal(t, "e1", d.ParentEventID)
	assert.Equal(t, "s1", d.SessionID)
	assert.Equal(t, "Bash", d.ToolName)
	assert.Equal(t, "r1", d.RunID)
	assert.Equal(t, "a1", d.AgentID)
	assert.Equal(t, "t1", d.TaskID)
	assert.Nil(t, d.DurationMs)
	assert.Nil(t, d.ExitCode)
	assert.Empty(t, d.RiskLevel)
	assert.Empty(t, d.EventID)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 7_000_000, time.FixedZone("CET", 3600))
	s := FormatTime(ts)
	assert.Equal(t, "2026-03-01T11:00:00.007Z", s)

	back, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))

	rfc, err := ParseTime("2026-03-01T13:00:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00.000Z", FormatTime(rfc))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
