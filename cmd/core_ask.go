package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/henriterm/henri/internal/config"
	"github.com/henriterm/henri/internal/core"
	"github.com/henriterm/henri/internal/mcp"
	"github.com/henriterm/henri/internal/signal"
	"github.com/spf13/cobra"
)

// coreAskCmd drives the spec.md C9 Turn Driver (internal/core.Engine)
// end to end: one headless, non-interactive turn against a real provider,
// streaming C10 bus events to stdout. It is the one wired entry point into
// internal/core named in this package's DESIGN.md — every other cmd/
// subcommand still runs against internal/llm's engine.
var coreAskCmd = &cobra.Command{
	Use:    "core-ask <prompt>",
	Short:  "Run a single headless turn through the internal/core engine",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE:   runCoreAsk,
}

var coreAskProvider string

func init() {
	coreAskCmd.Flags().StringVar(&coreAskProvider, "provider", "anthropic", "provider id: anthropic, openai, gemini")
	rootCmd.AddCommand(coreAskCmd)
}

func runCoreAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	prompt := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	adapter, usage, err := buildCoreAdapter(cfg, coreAskProvider)
	if err != nil {
		return err
	}

	reg := core.NewRegistry()
	core.RegisterBuiltins(reg, ".")
	if mgr := startMCPServers(ctx); mgr != nil {
		defer mgr.StopAll()
		core.DiscoverMCPTools(reg, mcpDispatcherShim{mgr})
	}
	executor := core.NewExecutor(reg, false)
	bus := core.NewBus(64)

	engine := core.NewEngine(adapter, executor, usage, bus)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range bus.Events() {
			printCoreEvent(ev)
		}
	}()

	_, err = engine.Run(ctx, []core.Message{core.NewUserText(prompt)}, reg.AllSpecs(), core.ThinkingOff)
	bus.Close()
	<-done
	if err != nil {
		return fmt.Errorf("core engine run: %w", err)
	}
	return nil
}

// buildCoreAdapter resolves the named provider's API key from config/env
// the same way cmd/providers.go does for the legacy engine, and constructs
// the matching internal/core Adapter with a fresh ByteCounter/ProviderUsage
// pair and, when the transaction log is enabled (spec.md §4.10), the
// process-wide TxLog.
func buildCoreAdapter(cfg *config.Config, providerID string) (core.Adapter, *core.ProviderUsage, error) {
	usage := &core.ProviderUsage{}
	net := &core.ByteCounter{}
	txlog := coreTxLog()

	switch providerID {
	case "anthropic":
		key := resolveAPIKey(cfg, "anthropic", "ANTHROPIC_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("no Anthropic API key found (set ANTHROPIC_API_KEY or configure providers.anthropic.api_key)")
		}
		if err := core.ValidateAnthropicAccessToken(context.Background(), key); err != nil {
			return nil, nil, fmt.Errorf("anthropic key validation failed: %w", err)
		}
		a := core.NewAnthropicAdapter(coreModelOrDefault(cfg, "anthropic", "claude-opus-4-6"), core.StaticTokenSource{Token: key}, false, usage, net)
		a.TxLog = txlog
		a.SessionID = "core-ask"
		return a, usage, nil
	case "openai":
		key := resolveAPIKey(cfg, "openai", "OPENAI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("no OpenAI API key found (set OPENAI_API_KEY or configure providers.openai.api_key)")
		}
		return &core.ResponsesAdapter{
			ProviderID: "openai-responses",
			ModelID:    coreModelOrDefault(cfg, "openai", "gpt-5"),
			BaseURL:    "https://api.openai.com/v1",
			Tokens:     core.StaticTokenSource{Token: key},
			Usage:      usage,
			Net:        net,
			TxLog:      txlog,
			SessionID:  "core-ask",
		}, usage, nil
	case "gemini":
		key := resolveAPIKey(cfg, "gemini", "GEMINI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("no Gemini API key found (set GEMINI_API_KEY or configure providers.gemini.api_key)")
		}
		return &core.GeminiAdapter{
			ProviderID: "gemini",
			ModelID:    coreModelOrDefault(cfg, "gemini", "gemini-3-pro"),
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			APIKey:     key,
			Usage:      usage,
			Net:        net,
			TxLog:      txlog,
			SessionID:  "core-ask",
		}, usage, nil
	default:
		return nil, nil, fmt.Errorf("unknown --provider %q for core-ask (anthropic, openai, gemini)", providerID)
	}
}

func resolveAPIKey(cfg *config.Config, name, envVar string) string {
	if cfg != nil {
		if pc, ok := cfg.Providers[name]; ok {
			if pc.ResolvedAPIKey != "" {
				return pc.ResolvedAPIKey
			}
			if pc.APIKey != "" {
				return pc.APIKey
			}
		}
	}
	return os.Getenv(envVar)
}

func coreModelOrDefault(cfg *config.Config, name, fallback string) string {
	if cfg != nil {
		if pc, ok := cfg.Providers[name]; ok && pc.Model != "" {
			return pc.Model
		}
	}
	return fallback
}

// coreTxLog opens the C11 transaction log under the default debug-log
// directory when TERM_LLM_TXLOG=1 is set, matching the opt-in slash-command
// toggle spec.md §4.10 describes for interactive sessions.
func coreTxLog() *core.TxLog {
	if os.Getenv("TERM_LLM_TXLOG") == "" {
		return nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil
	}
	log, err := core.NewTxLog(dir + "/henri")
	if err != nil {
		return nil
	}
	log.Enable()
	return log
}

// mcpDispatcherShim adapts *mcp.Manager to core.MCPDispatcher, converting
// internal/mcp.ToolSpec to core.MCPToolSpec field-by-field since the two
// packages deliberately don't share a type (internal/core stays free of
// the go-sdk import; internal/mcp owns it).
type mcpDispatcherShim struct{ mgr *mcp.Manager }

func (s mcpDispatcherShim) AllTools() []core.MCPToolSpec {
	tools := s.mgr.AllTools()
	out := make([]core.MCPToolSpec, len(tools))
	for i, t := range tools {
		out[i] = core.MCPToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	return out
}

func (s mcpDispatcherShim) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	return s.mgr.CallTool(ctx, fullName, args)
}

// startMCPServers loads mcp.json and enables every configured server,
// mirroring cmd/chat.go's MCP bring-up but headless: no status channel, no
// sampling provider wiring, since core-ask is a single non-interactive
// turn. Returns nil if no MCP config is present or nothing is enabled, so
// callers can skip discovery entirely rather than carry an empty manager.
func startMCPServers(ctx context.Context) *mcp.Manager {
	mgr := mcp.NewManager()
	if err := mgr.LoadConfig(); err != nil {
		return nil
	}
	enabled := mgr.EnabledServers()
	if len(enabled) == 0 {
		return nil
	}
	for _, name := range enabled {
		_ = mgr.Enable(ctx, name)
	}
	return mgr
}

func printCoreEvent(ev core.Event) {
	switch ev.Kind {
	case core.EventTextDelta, core.EventThinking:
		fmt.Print(ev.Text)
	case core.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[tool] %s\n", ev.ToolName)
	case core.EventWarning:
		fmt.Fprintf(os.Stderr, "\n[warning] %s\n", ev.Text)
	case core.EventError:
		fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Text)
	case core.EventDone:
		fmt.Println()
	}
}
