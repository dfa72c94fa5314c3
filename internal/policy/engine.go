// Package policy evaluates Rego rules that flag risky agent activity.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Query is the rule set every policy module must define.
const Query = "data.event_policy.violations"

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query(Query),
		rego.Module("event_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is
// empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Input is the document a policy sees for one event.
type Input struct {
	EventType string         `json:"event_type"`
	ToolName  string         `json:"tool_name"`
	SourceApp string         `json:"source_app"`
	AgentID   string         `json:"agent_id"`
	ExitCode  *int           `json:"exit_code"`
	Payload   map[string]any `json:"payload"`
}

// Violations returns the sorted messages produced by the violations rule.
// An empty result means the event is clean.
func (e *Engine) Violations(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(toDocument(input)))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// Partial set rules come back as []interface{}.
	set, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected violations type %T", results[0].Expressions[0].Value)
	}

	out := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func toDocument(in Input) map[string]interface{} {
	doc := map[string]interface{}{
		"event_type": in.EventType,
		"tool_name":  in.ToolName,
		"source_app": in.SourceApp,
		"agent_id":   in.AgentID,
		"payload":    in.Payload,
	}
	if doc["payload"] == nil {
		doc["payload"] = map[string]interface{}{}
	}
	if in.ExitCode != nil {
		doc["exit_code"] = *in.ExitCode
	}
	return doc
}

// DefaultPolicy flags destructive shell commands.
const DefaultPolicy = `
package event_policy

command = cmd {
	cmd := input.payload.tool_input.command
}

command = cmd {
	not input.payload.tool_input.command
	cmd := input.payload.command
}

violations[msg] {
	re_match("rm\\s+-[a-zA-Z]*[rR][a-zA-Z]*[fF]?[a-zA-Z]*\\s+(/|~)(\\s|$|\\*)", command)
	msg := "recursive delete of root or home directory"
}

violations[msg] {
	re_match("git\\s+push\\s+.*(--force|-f)(\\s|$)", command)
	msg := "force push"
}

violations[msg] {
	re_match("(curl|wget)\\s+[^|]*\\|\\s*(sudo\\s+)?(ba|z)?sh(\\s|$)", command)
	msg := "pipe remote script to shell"
}

violations[msg] {
	input.tool_name == "Bash"
	re_match("chmod\\s+(-R\\s+)?777\\s+/", command)
	msg := "world-writable permissions on system path"
}
`
