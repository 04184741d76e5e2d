package cmd

import (
	"github.com/henriterm/henri/internal/llm"
	"github.com/henriterm/henri/internal/search"
)

func defaultToolRegistry() *llm.ToolRegistry {
	registry := llm.NewToolRegistry()
	registry.Register(llm.NewWebSearchTool(search.NewDuckDuckGoLite(nil)))
	registry.Register(llm.NewReadURLTool())
	return registry
}
