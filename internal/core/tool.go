package core

import (
	"context"
	"encoding/json"
)

// Tool is a callable external tool, spec.md §3 "Tool descriptor" / §4.2.
// Mirrors the teacher's internal/llm Tool interface shape (Spec/Execute/
// Preview), with IsReadOnly folded into ToolSpec rather than a separate
// method, since the read-only gate is a registry-wide policy decision (C3
// step 4) keyed off the spec, not a per-call concern.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error)
	// Preview returns a short human-readable description of what the call
	// will do, shown on EventToolStart before execution completes. Returns
	// "" if no preview is available.
	Preview(input json.RawMessage) string
}

// ToolOutput is what a Tool.Execute returns before the executor wraps it
// into a ContentBlock; kept distinct from ContentBlock so tool
// implementations don't need to import block-construction helpers.
type ToolOutput struct {
	Content   string
	IsError   bool
	ImageData []byte
	MimeType  string
}

// Registry stores tools by name for lookup and execution (C2).
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its spec's name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Spec().Name] = t
}

// Unregister removes a tool, used for skill-scoped dynamic registration
// (a tool activated mid-loop by a skill and retired once it exits).
func (r *Registry) Unregister(name string) {
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// AllSpecs returns every registered tool's spec, in the shape sent to
// provider adapters for transmission (spec.md §4.2).
func (r *Registry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Subset returns a new Registry containing only the named tools, used for
// skill-scoped tool allowlisting — separate from the session-wide
// read-only gate, which Executor enforces independently.
func (r *Registry) Subset(names []string) *Registry {
	sub := NewRegistry()
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			sub.tools[n] = t
		}
	}
	return sub
}
