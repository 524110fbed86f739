// Package envelope bounds every observation surfaced to the planner (§4.7):
// strings are truncated, arrays clipped, deep objects folded to a type
// marker, sensitive keys redacted, and anything still too large after
// trimming is spilled to AgentState.raw_outputs under a generated key.
//
// Grounded on internal/agent/tool_result_guard.go's redact-then-truncate
// shape, generalized from flat string content to arbitrary JSON trees since
// a tool's ActionResponse.Data is a full JSON value, not a single string.
package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	maxStringLen    = 500
	maxArrayItems   = 20
	maxDepth        = 3
	maxPreviewBytes = 2048
)

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"password":      {},
	"api_key":       {},
	"secret":        {},
	"refresh_token": {},
	"access_token":  {},
}

// Envelope is the result of applying the bounding rules to a value. Preview
// is always present and safe to show the planner. RawOutputKey is non-empty
// only when the value was spilled, in which case RawValue holds the full
// (redacted, but untrimmed) JSON to store under that key.
type Envelope struct {
	Preview      json.RawMessage
	RawOutputKey string
	RawValue     json.RawMessage
}

// Apply redacts, trims, and (if still oversized) spills raw. keyFunc is
// called at most once and only if spilling is needed, so callers can defer
// generating a label (e.g. "tool:<id>:<step>") until it's actually used.
func Apply(raw json.RawMessage, keyFunc func() string) (Envelope, error) {
	var v interface{}
	if len(raw) == 0 {
		v = map[string]interface{}{}
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return Envelope{}, fmt.Errorf("envelope: invalid JSON: %w", err)
	}

	redacted := redact(v)
	trimmed := trim(redacted, 0)

	previewBytes, err := json.Marshal(trimmed)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal preview: %w", err)
	}
	if len(previewBytes) <= maxPreviewBytes {
		return Envelope{Preview: previewBytes}, nil
	}

	key := keyFunc()
	fullBytes, err := json.Marshal(redacted)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal raw: %w", err)
	}
	stored := map[string]interface{}{
		"_stored": key,
		"summary": summarize(redacted),
	}
	storedBytes, err := json.Marshal(stored)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal stored preview: %w", err)
	}
	return Envelope{Preview: storedBytes, RawOutputKey: key, RawValue: fullBytes}, nil
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
				out[k] = "<redacted>"
				continue
			}
			out[k] = redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = redact(val)
		}
		return out
	default:
		return t
	}
}

func trim(v interface{}, depth int) interface{} {
	if depth > maxDepth {
		return typeMarker(v)
	}
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = trim(val, depth+1)
		}
		return out
	case []interface{}:
		n := len(t)
		limit := n
		clipped := false
		if n > maxArrayItems {
			limit = maxArrayItems
			clipped = true
		}
		out := make([]interface{}, 0, limit+1)
		for i := 0; i < limit; i++ {
			out = append(out, trim(t[i], depth+1))
		}
		if clipped {
			out = append(out, fmt.Sprintf("…+%d more", n-limit))
		}
		return out
	case string:
		if len(t) > maxStringLen {
			return fmt.Sprintf("%s…[%d chars]", t[:maxStringLen], len(t))
		}
		return t
	default:
		return t
	}
}

func typeMarker(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "<object>"
	case []interface{}:
		return "<array>"
	case string:
		return "<string>"
	case bool:
		return "<bool>"
	case float64:
		return "<number>"
	case nil:
		return "<null>"
	default:
		return "<value>"
	}
}

// summarize builds the "<summary>" companion value for a spilled preview:
// the first few items for an array, the sorted key list for an object,
// otherwise the trimmed value itself.
func summarize(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		head := t
		if len(t) > 5 {
			head = t[:5]
		}
		return map[string]interface{}{
			"count":       len(t),
			"first_items": trim(head, 0),
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return map[string]interface{}{"keys": keys}
	default:
		return trim(t, 0)
	}
}
