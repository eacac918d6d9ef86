// Package mention extracts @handle mentions from message content and resolves
// them to dispatchable agent targets. Extraction is a stateless match over the
// input, safe for concurrent use.
package mention

import (
	"regexp"
	"strings"
)

// Target is the external identity behind a handle.
type Target struct {
	Handle   string // canonical form, including the leading @
	AgentID  string // external agent identifier for dispatch
	Category string
}

// registry is the fixed vocabulary of known handles, keyed by lowercase
// handle without the @.
var registry = map[string]Target{
	"devagent":    {Handle: "@DevAgent", AgentID: "dev-agent", Category: "development"},
	"qaagent":     {Handle: "@QAAgent", AgentID: "qa-agent", Category: "testing"},
	"pmagent":     {Handle: "@PMAgent", AgentID: "pm-agent", Category: "planning"},
	"reviewagent": {Handle: "@ReviewAgent", AgentID: "review-agent", Category: "review"},
	"opsagent":    {Handle: "@OpsAgent", AgentID: "ops-agent", Category: "operations"},
}

var handlePattern = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_]*)`)

// Extract scans content for known handles, case-insensitively, and returns
// the deduplicated set in canonical casing. Unknown handles are ignored.
func Extract(content string) []string {
	seen := make(map[string]bool)
	var handles []string
	for _, m := range handlePattern.FindAllStringSubmatch(content, -1) {
		target, ok := registry[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		if seen[target.Handle] {
			continue
		}
		seen[target.Handle] = true
		handles = append(handles, target.Handle)
	}
	return handles
}

// Merge unions extracted handles with an explicitly supplied mention list,
// deduplicating and normalizing to canonical casing. Unknown explicit handles
// are dropped silently.
func Merge(extracted, explicit []string) []string {
	seen := make(map[string]bool)
	var handles []string
	for _, h := range append(append([]string{}, extracted...), explicit...) {
		target, ok := Resolve(h)
		if !ok {
			continue
		}
		if seen[target.Handle] {
			continue
		}
		seen[target.Handle] = true
		handles = append(handles, target.Handle)
	}
	return handles
}

// Resolve looks up a handle (with or without the leading @) in the registry.
func Resolve(handle string) (Target, bool) {
	key := strings.ToLower(strings.TrimPrefix(handle, "@"))
	target, ok := registry[key]
	return target, ok
}

// Known returns the canonical handles in the vocabulary.
func Known() []string {
	handles := make([]string, 0, len(registry))
	for _, t := range registry {
		handles = append(handles, t.Handle)
	}
	return handles
}
