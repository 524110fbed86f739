package toolindex

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxSummaryFields bounds the number of output_fields lines a single tool
// spec may carry, regardless of how large its output_schema is (§4.5.3).
const MaxSummaryFields = 30

// tier1Pattern matches the last path segment of a field that must always be
// kept, verbatim from §4.5.3 with the path-prefix alternation collapsed: the
// spec's `^(?:|.*\.|\[\]\.)(...)$ ` only ever constrains what precedes the
// final segment, so matching against the segment alone is equivalent.
var tier1Pattern = regexp.MustCompile(`^(id|.*_id|name|title|status|type|url|email|price|amount|created|updated|timestamp)$`)

// schemaNode is a minimal JSON-Schema-like shape: an object with named
// properties, or an array with an item schema, or a primitive leaf.
type schemaNode struct {
	Type       string                `json:"type"`
	Properties map[string]schemaNode `json:"properties"`
	Items      *schemaNode           `json:"items"`
}

func (n schemaNode) isObject() bool {
	return n.Type == "object" || len(n.Properties) > 0
}

func (n schemaNode) isArrayOfObjects() bool {
	return n.Type == "array" && n.Items != nil && n.Items.isObject()
}

func (n schemaNode) isContainer() bool {
	return n.isObject() || n.isArrayOfObjects()
}

// field is one flattened node of the schema tree, produced by walk.
type field struct {
	path          string
	typ           string
	container     bool
	subFieldCount int
	depth         int // 1 == immediate child of the schema root ("data")
	children      []string
}

// walk flattens a schemaNode into path-addressed fields in a stable
// (sorted-key) traversal order, so two calls over the same schema always
// produce the same field list — the "building the index twice yields
// byte-identical descriptors" property in §8.
func walk(node schemaNode, path string, depth int, out map[string]field, order *[]string) {
	if node.isArrayOfObjects() {
		itemPath := path + "[]"
		f := field{path: path, typ: "array", container: true, depth: depth, subFieldCount: len(node.Items.Properties)}
		keys := sortedKeys(node.Items.Properties)
		for _, k := range keys {
			f.children = append(f.children, itemPath+"."+k)
		}
		if path != "" {
			out[path] = f
			*order = append(*order, path)
		}
		for _, k := range keys {
			walk(node.Items.Properties[k], itemPath+"."+k, depth+1, out, order)
		}
		return
	}

	if node.isObject() {
		keys := sortedKeys(node.Properties)
		f := field{path: path, typ: "object", container: true, depth: depth, subFieldCount: len(node.Properties)}
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			f.children = append(f.children, child)
		}
		if path != "" {
			out[path] = f
			*order = append(*order, path)
		}
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			walk(node.Properties[k], child, depth+1, out, order)
		}
		return
	}

	typ := node.Type
	if typ == "" {
		typ = "string"
	}
	out[path] = field{path: path, typ: typ, depth: depth}
	*order = append(*order, path)
}

func sortedKeys(m map[string]schemaNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lastSegment(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}

func foldLine(path string, subFieldCount int) string {
	return fmt.Sprintf("%s: object (contains %d sub-fields; inspect_tool_output(..., field_path=%q))", path, subFieldCount, path)
}

// schemaCompileURL is an arbitrary, never-dereferenced resource name the
// compiler needs to key its in-memory schema by; no tool registration ever
// fetches anything over the network.
const schemaCompileURL = "plannerd://tool-output-schema"

// validOutputSchema reports whether raw compiles as a JSON Schema document.
// A wrapper that advertises a malformed output_schema is treated exactly
// like one with no schema at all (§4.5.1's "if absent" case), rather than
// rejecting tool registration outright: discovery must keep working even if
// one provider's schema is broken.
func validOutputSchema(raw json.RawMessage) bool {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaCompileURL, strings.NewReader(string(raw))); err != nil {
		return false
	}
	_, err := c.Compile(schemaCompileURL)
	return err == nil
}

// Summarize computes output_fields and has_hidden_fields for a tool's
// output_schema, applying the three-tier budget from §4.5.3. A nil or empty
// schema, or one that doesn't compile as JSON Schema, yields an empty field
// list with has_hidden_fields=false, per §4.5.1's "If absent, output_fields=[]
// and has_hidden_fields=false."
func Summarize(outputSchema json.RawMessage) ([]string, bool) {
	if len(outputSchema) == 0 || !validOutputSchema(outputSchema) {
		return nil, false
	}
	var root schemaNode
	if err := json.Unmarshal(outputSchema, &root); err != nil {
		return nil, false
	}
	return summarizeNode(root)
}

// Inspect implements toolbox.inspect_tool_output: it locates fieldPath
// within outputSchema (a dotted path, with "[]" suffixed to a segment to
// descend into an array's item schema, exactly the path shape foldLine
// emits) and re-applies the same tiered summarization anchored at that
// subtree, so drilling into a fold marker shows the next level of detail
// using the identical budget and folding rules as the top-level summary.
func Inspect(outputSchema json.RawMessage, fieldPath string) ([]string, bool) {
	if len(outputSchema) == 0 || fieldPath == "" {
		return nil, false
	}
	var root schemaNode
	if err := json.Unmarshal(outputSchema, &root); err != nil {
		return nil, false
	}
	node, ok := locate(root, fieldPath)
	if !ok {
		return nil, false
	}
	return summarizeNode(node)
}

// locate walks path segment by segment from root, descending into an array
// item schema whenever a segment ends in "[]".
func locate(root schemaNode, path string) (schemaNode, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		key := seg
		arr := strings.HasSuffix(seg, "[]")
		if arr {
			key = strings.TrimSuffix(seg, "[]")
		}
		if key != "" {
			if !cur.isObject() {
				return schemaNode{}, false
			}
			child, ok := cur.Properties[key]
			if !ok {
				return schemaNode{}, false
			}
			cur = child
		}
		if arr {
			if cur.Items == nil {
				return schemaNode{}, false
			}
			cur = *cur.Items
		}
	}
	return cur, true
}

func summarizeNode(root schemaNode) ([]string, bool) {
	if !root.isContainer() {
		return nil, false
	}

	fields := map[string]field{}
	var order []string
	walk(root, "", 0, fields, &order)

	var lines []string
	included := map[string]bool{}
	var foldedRoots []string
	hidden := false

	emit := func(f field) {
		if f.container {
			lines = append(lines, foldLine(f.path, f.subFieldCount))
			foldedRoots = append(foldedRoots, f.path)
			hidden = true
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", f.path, f.typ))
		}
		included[f.path] = true
	}

	underFoldedRoot := func(path string) bool {
		for _, root := range foldedRoots {
			if strings.HasPrefix(path, root) {
				rest := path[len(root):]
				if strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, "[") {
					return true
				}
			}
		}
		return false
	}

	// Tier 1: always-kept leaves, in stable path order.
	tier1 := make([]string, 0)
	for _, p := range order {
		f := fields[p]
		if !f.container && tier1Pattern.MatchString(lastSegment(p)) {
			tier1 = append(tier1, p)
		}
	}
	sort.Strings(tier1)
	for _, p := range tier1 {
		if len(lines) >= MaxSummaryFields {
			break
		}
		emit(fields[p])
	}

	// Tier 2: immediate children of the root, leaf or single fold line.
	for _, p := range order {
		if len(lines) >= MaxSummaryFields {
			break
		}
		f := fields[p]
		if f.depth != 1 || included[p] {
			continue
		}
		emit(f)
	}

	// Tier 3: BFS over everything still unseen, folding any container that
	// can't fit its children within the remaining budget. Depth-1 fields
	// were already resolved by tier 2 (leaf shown, or container folded with
	// its children only reachable via inspect_tool_output), so the queue
	// only ever seeds from depth > 1.
	queue := make([]string, 0)
	for _, p := range order {
		f := fields[p]
		if f.depth > 1 && !included[p] && !underFoldedRoot(p) {
			queue = append(queue, p)
		}
	}

	for i := 0; i < len(queue) && len(lines) < MaxSummaryFields; i++ {
		p := queue[i]
		f := fields[p]
		if included[p] || underFoldedRoot(p) {
			continue
		}
		if !f.container {
			emit(f)
			continue
		}
		remaining := MaxSummaryFields - len(lines)
		if len(f.children) > 0 && len(f.children) <= remaining {
			// Fits: skip the fold line and let BFS visit children directly.
			included[p] = true
			queue = append(queue, f.children...)
			continue
		}
		emit(f)
	}

	return lines, hidden
}
