// Package toolindex builds the per-tenant Tool Index (§4.5): introspection
// over registered tool wrappers to yield ToolSpecs, plus the hierarchical
// output-schema folding in fold.go. Go has no runtime docstring/signature
// introspection, so where the original relies on inspecting live wrapper
// functions, wrappers here are registered explicitly as WrapperSpec values —
// the idiomatic Go substitute for "parse this function's docstring".
package toolindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/pkg/models"
)

// WrapperSpec is the explicit, Go-native stand-in for a registered wrapper
// function: the original introspects a live function's signature and
// docstring, Go code states the same facts directly.
type WrapperSpec struct {
	Name         string
	Description  string
	Params       []models.ToolParam
	OutputSchema json.RawMessage
}

// Describer is implemented by a registry.Provider that also advertises the
// wrappers it exposes for tool discovery. A Provider that only implements
// registry.Provider (no Describer) is invocable but contributes no tools to
// the index — useful for a stub/test provider that never needs discovery.
type Describer interface {
	Tools() []WrapperSpec
}

const toolboxProviderID = "toolbox"
const inspectToolName = "inspect_tool_output"

// InspectToolID is the always-allowed, always-discovered drill-down tool
// (§4.3: "toolbox.inspect_tool_output(tool_id, field_path) is always allowed
// without discovery").
const InspectToolID = toolboxProviderID + "." + inspectToolName

// Build introspects every authorized provider in snap that implements
// Describer and assembles a ToolIndex, always including the built-in
// toolbox.inspect_tool_output tool regardless of snap's contents (§4.5.1:
// "Includes a built-in toolbox.inspect_tool_output whose provider is always
// considered authorized").
func Build(snap *registry.Snapshot) *models.ToolIndex {
	tools := map[string]models.ToolSpec{}
	providers := map[string][]string{}

	addSpec := func(provider string, w WrapperSpec) {
		fields, hidden := Summarize(w.OutputSchema)
		spec := models.ToolSpec{
			Provider:        provider,
			Name:            w.Name,
			ToolID:          provider + "." + w.Name,
			Description:     w.Description,
			Params:          w.Params,
			OutputSchema:    w.OutputSchema,
			OutputFields:    fields,
			HasHiddenFields: hidden,
		}
		tools[spec.ToolID] = spec
		providers[provider] = append(providers[provider], w.Name)
	}

	addSpec(toolboxProviderID, inspectWrapperSpec)

	if snap != nil {
		for _, id := range sortedIDs(snap) {
			entry, ok := snap.Get(id)
			if !ok {
				continue
			}
			desc, ok := entry.Provider.(Describer)
			if !ok {
				continue
			}
			for _, w := range desc.Tools() {
				addSpec(id, w)
			}
		}
	}

	for id := range providers {
		sort.Strings(providers[id])
	}

	tenant := ""
	if snap != nil {
		tenant = snap.Tenant
	}

	return &models.ToolIndex{
		Tenant:        tenant,
		ToolsByID:     tools,
		ProvidersByID: providers,
		Fingerprint:   fingerprint(tools),
	}
}

var inspectWrapperSpec = WrapperSpec{
	Name:        inspectToolName,
	Description: "Reveal the fields folded behind a fold marker in a prior tool's output_fields, one level at a time.",
	Params: []models.ToolParam{
		{Name: "tool_id", Type: "str", Required: true, Description: "The tool_id whose output schema to drill into."},
		{Name: "field_path", Type: "str", Required: true, Description: "The dotted path named on the fold marker line, e.g. \"messages[].headers\"."},
	},
}

// sortedIDs returns snap's authorized provider ids in a stable order so
// Build produces byte-identical ToolIndex content across repeated calls
// over the same registered wrappers (§8).
func sortedIDs(snap *registry.Snapshot) []string {
	ids := snap.AuthorizedIDs()
	sort.Strings(ids)
	return ids
}

// fingerprint hashes every ToolSpec's stable identity (provider, name,
// description, params, raw output schema) in tool_id order, so two Build
// calls over the same registered wrappers yield the same fingerprint and
// two calls over a changed wrapper set never collide.
func fingerprint(tools map[string]models.ToolSpec) string {
	ids := make([]string, 0, len(tools))
	for id := range tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		spec := tools[id]
		enc, _ := json.Marshal(struct {
			ToolID       string             `json:"tool_id"`
			Description  string             `json:"description"`
			Params       []models.ToolParam `json:"params"`
			OutputSchema json.RawMessage    `json:"output_schema,omitempty"`
		}{spec.ToolID, spec.Description, spec.Params, spec.OutputSchema})
		h.Write(enc)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
