// Package redact strips secrets from event payloads and truncates oversized
// process output before anything is persisted.
package redact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// Marker replaces every secret-shaped match.
	Marker = "[REDACTED]"

	// StdoutBudget and StderrBudget bound output fields in bytes.
	StdoutBudget = 4096
	StderrBudget = 2048

	// TruncationMarkerPrefix starts every truncation notice.
	TruncationMarkerPrefix = "...[truncated "
)

var truncationMarkerRe = regexp.MustCompile(`\.\.\.\[truncated (\d+) bytes\]$`)

type pattern struct {
	re *regexp.Regexp
	// keep writes the first submatch back before the marker.
	keep bool
	// accept filters raw matches that are too weak to be secrets.
	accept func(string) bool
}

// Checked in order against every string value.
var secretPatterns = []pattern{
	// Authorization headers.
	{re: regexp.MustCompile(`(?i)\b(?:bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`)},
	// Provider key prefixes.
	{re: regexp.MustCompile(`\bsk-(?:ant-|proj-)?[A-Za-z0-9_-]{16,}`)},
	{re: regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{20,}`)},
	{re: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`)},
	{re: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{re: regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`)},
	{re: regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}`)},
	// Long opaque runs: base64, hex tokens.
	{re: regexp.MustCompile(`[A-Za-z0-9+_-]{40,}={0,2}`), accept: looksOpaque},
	// Shell-style assignments of credential-ish names.
	{
		re:   regexp.MustCompile(`\b([A-Za-z0-9_]*(?i:key|token|secret|password|passwd|pwd|credentials?|auth))=("[^"]*"|'[^']*'|[^\s"']+)`),
		keep: true,
	},
}

// Payload returns a redacted deep copy of payload. The input is not modified.
func Payload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out, _ := sanitizeValue("", payload).(map[string]any)
	return out
}

// String scans a single value for secrets.
func String(input string) string {
	if input == "" {
		return input
	}

	redacted := input
	for _, p := range secretPatterns {
		switch {
		case p.keep:
			redacted = p.re.ReplaceAllString(redacted, "${1}="+Marker)
		case p.accept != nil:
			redacted = p.re.ReplaceAllStringFunc(redacted, func(m string) string {
				if p.accept(m) {
					return Marker
				}
				return m
			})
		default:
			redacted = p.re.ReplaceAllString(redacted, Marker)
		}
	}
	return redacted
}

// Truncate cuts s to at most budget bytes on a rune boundary and appends a
// notice naming the number of dropped bytes. A notice is only trusted when
// the value around it already fits the budget, so a forged suffix never
// lets an oversized value through.
func Truncate(s string, budget int) string {
	body, dropped := splitNotice(s, budget)
	return bound(body, dropped, budget)
}

// Output redacts and bounds a stdout or stderr value. The budget is applied
// after redaction since a replacement can be longer than the secret, and the
// kept prefix is scanned again since a cut can complete a match.
func Output(s string, budget int) string {
	body, dropped := splitNotice(s, budget)
	body = String(body)
	for {
		kept, d := cut(body, budget)
		dropped += d
		if d == 0 {
			break
		}
		body = String(kept)
		if body == kept {
			break
		}
	}
	return withNotice(body, dropped)
}

// splitNotice separates a notice written by this package from the kept
// bytes.
func splitNotice(s string, budget int) (string, int) {
	loc := truncationMarkerRe.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] > budget {
		return s, 0
	}
	dropped, err := strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil {
		return s, 0
	}
	return s[:loc[0]], dropped
}

func bound(body string, dropped, budget int) string {
	kept, d := cut(body, budget)
	return withNotice(kept, dropped+d)
}

// cut returns the longest prefix of body within budget that ends on a rune
// boundary and outside any marker, and the number of bytes dropped.
func cut(body string, budget int) (string, int) {
	if len(body) <= budget {
		return body, 0
	}
	n := budget
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	window := body[:min(len(body), n+len(Marker)-1)]
	if i := strings.LastIndex(window, Marker); i >= 0 && i < n && i+len(Marker) > n {
		n = i
	}
	return body[:n], len(body) - n
}

func withNotice(body string, dropped int) string {
	if dropped == 0 {
		return body
	}
	return body + fmt.Sprintf("%s%d bytes]", TruncationMarkerPrefix, dropped)
}

func sanitizeValue(path string, value any) any {
	switch v := value.(type) {
	case string:
		if budget, ok := outputBudget(path); ok {
			return Output(v, budget)
		}
		return String(v)
	case map[string]any:
		sanitized := make(map[string]any, len(v))
		for key, val := range v {
			sanitized[key] = sanitizeValue(joinPath(path, key), val)
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(v))
		for i, item := range v {
			sanitized[i] = sanitizeValue(path, item)
		}
		return sanitized
	default:
		return value
	}
}

func outputBudget(path string) (int, bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "stdout"):
		return StdoutBudget, true
	case strings.Contains(lower, "stderr"):
		return StderrBudget, true
	}
	return 0, false
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func looksOpaque(s string) bool {
	var digits, letters int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letters++
		}
	}
	return digits > 0 && letters > 0
}
