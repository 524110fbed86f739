package models

import "encoding/json"

// ToolParam describes one exposed parameter of a tool, derived from the
// wrapper function's signature and docstring. The tenant-context first
// parameter, and any parameter literally named "context", are never turned
// into a ToolParam; they are implementation plumbing, not planner-visible.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description"`
}

// ToolSpec is the full internal record for one registered tool, built by the
// Tool Index each time an index is built (once per run). ToolID is always
// "<Provider>.<Name>" and unique within a tenant's index.
type ToolSpec struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	ToolID   string `json:"tool_id"`

	Description string      `json:"description"`
	Params      []ToolParam `json:"params"`

	// OutputSchema is the raw JSON-Schema-like descriptor attached to the
	// wrapper, if any. OutputFields is the result of folding it per the
	// hierarchical summarizer; HasHiddenFields is true iff folding emitted
	// at least one fold marker.
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	OutputFields    []string        `json:"output_fields"`
	HasHiddenFields bool            `json:"has_hidden_fields"`
}

// Signature renders the exposed parameters as a Python-style call signature,
// e.g. "to: str, subject: str, body: str = \"\"", matching the form the
// planner's compact descriptor carries.
func (s ToolSpec) Signature() string {
	out := ""
	for i, p := range s.Params {
		if i > 0 {
			out += ", "
		}
		out += p.Name + ": " + p.Type
		if !p.Required && p.Default != "" {
			out += " = " + p.Default
		}
	}
	return out
}

// CompactDescriptor projects a ToolSpec into the reduced form shown to the
// planner, both in search.completed results and in the prompt's
// search_results window.
func (s ToolSpec) CompactDescriptor() CompactToolDescriptor {
	params := make(map[string]string, len(s.Params))
	for _, p := range s.Params {
		qualifier := "optional"
		if p.Required {
			qualifier = "required"
		} else if p.Default != "" {
			qualifier = "optional, default=" + p.Default
		}
		params[p.Name] = p.Type + " (" + qualifier + ") - " + p.Description
	}
	return CompactToolDescriptor{
		ToolID:          s.ToolID,
		Server:          s.Provider,
		Signature:       s.Signature(),
		Description:     s.Description,
		InputParams:     params,
		OutputFields:    s.OutputFields,
		HasHiddenFields: s.HasHiddenFields,
	}
}

// CompactToolDescriptor is what the planner actually sees: search results
// and the search_results window of the prompt projection never carry a full
// ToolSpec, only this reduced, prompt-sized form.
type CompactToolDescriptor struct {
	ToolID          string            `json:"tool_id"`
	Server          string            `json:"server"`
	Signature       string            `json:"signature"`
	Description     string            `json:"description"`
	InputParams     map[string]string `json:"input_params"`
	OutputFields    []string          `json:"output_fields"`
	HasHiddenFields bool              `json:"has_hidden_fields"`
}

// ToolIndex is an immutable per-tenant snapshot of every tool currently
// advertised by every authorized Provider, plus the always-present built-in
// toolbox provider. The orchestrator never mutates an index in place; each
// run builds its own ToolIndex at start, so an in-flight run keeps using the
// snapshot it started with even if providers are added or removed mid-run.
type ToolIndex struct {
	Tenant        string              `json:"tenant_id"`
	ToolsByID     map[string]ToolSpec `json:"-"`
	ProvidersByID map[string][]string `json:"-"`
	Fingerprint   string              `json:"fingerprint"`
}

// Get looks up a single tool by id, honoring nothing beyond the map lookup;
// authorization filtering already happened when the index was built.
func (idx *ToolIndex) Get(toolID string) (ToolSpec, bool) {
	if idx == nil {
		return ToolSpec{}, false
	}
	t, ok := idx.ToolsByID[toolID]
	return t, ok
}

// Search scores every tool in the index against query and returns them in
// descending score order, ties broken by tool_id ascending: exact tool_id
// match scores highest, then provider-name match, then one point each for a
// name and a description containing the query. providerFilter, when non-empty, restricts
// the candidate set before scoring.
func (idx *ToolIndex) Search(query, providerFilter string, limit int) []ToolSpec {
	if idx == nil {
		return nil
	}
	q := toLowerASCII(query)
	var candidates []scoredTool
	for id, spec := range idx.ToolsByID {
		if providerFilter != "" && spec.Provider != providerFilter {
			continue
		}
		score := scoreTool(spec, id, q)
		if q != "" && score == 0 {
			continue
		}
		candidates = append(candidates, scoredTool{spec: spec, score: score})
	}
	sortScored(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]ToolSpec, len(candidates))
	for i, c := range candidates {
		out[i] = c.spec
	}
	return out
}

func scoreTool(spec ToolSpec, toolID, query string) int {
	if query == "" {
		return 1
	}
	id := toLowerASCII(toolID)
	if id == query {
		return 1000
	}
	if toLowerASCII(spec.Provider) == query {
		return 500
	}
	tokens := 0
	for _, field := range []string{spec.Name, spec.Description} {
		if containsFold(field, query) {
			tokens++
		}
	}
	return tokens
}

// scoredTool pairs a candidate ToolSpec with its lexical match score during
// Search, before the top-N limit is applied and the score is discarded.
type scoredTool struct {
	spec  ToolSpec
	score int
}

func sortScored(items []scoredTool) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 {
			a, b := items[j-1], items[j]
			less := a.score < b.score || (a.score == b.score && a.spec.ToolID > b.spec.ToolID)
			if !less {
				break
			}
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

func toLowerASCII(s string) string {
	r := []rune(s)
	for i, c := range r {
		if c >= 'A' && c <= 'Z' {
			r[i] = c + ('a' - 'A')
		}
	}
	return string(r)
}

func containsFold(haystack, needle string) bool {
	h, n := toLowerASCII(haystack), toLowerASCII(needle)
	if n == "" {
		return true
	}
	if len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if h[i:i+len(n)] == n {
			return true
		}
	}
	return false
}
