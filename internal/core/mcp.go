package core

import (
	"context"
	"encoding/json"
)

// MCPDispatcher is the narrow surface this package needs from the MCP
// integration: the already server-prefixed tool roster and a single
// dispatch point keyed by that prefixed name. internal/mcp.Manager (built
// on github.com/modelcontextprotocol/go-sdk) satisfies this directly,
// keeping the go-sdk import itself out of internal/core.
type MCPDispatcher interface {
	AllTools() []MCPToolSpec
	CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error)
}

// MCPToolSpec mirrors internal/mcp.ToolSpec's shape (Name already prefixed
// "servername__toolname") without importing that package's go-sdk
// dependency into core's type graph.
type MCPToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// mcpTool adapts one discovered, already-namespaced MCP tool to the Tool
// interface, per spec.md §4.2: "discovered MCP server tools are added to
// the roster alongside built-ins."
type mcpTool struct {
	dispatcher MCPDispatcher
	spec       MCPToolSpec
}

func (t *mcpTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.spec.Name,
		Description: t.spec.Description,
		Schema:      t.spec.Schema,
		IsReadOnly:  false, // MCP tools carry no read-only annotation the registry can trust
	}
}

func (t *mcpTool) Preview(input json.RawMessage) string {
	return t.spec.Name
}

func (t *mcpTool) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
	out, err := t.dispatcher.CallTool(ctx, t.spec.Name, input)
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}, nil
	}
	return ToolOutput{Content: out}, nil
}

// DiscoverMCPTools registers every tool currently exposed by dispatcher's
// running servers into reg, per spec.md §4.2's tool roster. dispatcher is
// expected to already have its servers started (internal/mcp.Manager.
// Enable); this function only walks the already-fetched tool list and
// wires the Registry side, so it can be called again on demand to refresh
// the roster after a server reconnects.
func DiscoverMCPTools(reg *Registry, dispatcher MCPDispatcher) {
	for _, spec := range dispatcher.AllTools() {
		reg.Register(&mcpTool{dispatcher: dispatcher, spec: spec})
	}
}
