// Command mcp serves the Tool Registry over the Model Context Protocol on
// stdio, so an MCP-speaking host (Claude Desktop, an IDE assistant, another
// agent runtime) can call the same search/collect_url/collect_urls/
// hf_trending tools the in-process planner uses, with no second
// implementation of any of them. stdout belongs to the MCP transport;
// every diagnostic goes to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/core/config"
	"scholarpilot.dev/core/internal/tools"
	"scholarpilot.dev/core/internal/tools/mcpbridge"
)

const serverVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()

	// The LLM client only backs the search tool's query refinement here;
	// without one the refiner degrades to its deterministic heuristic, so
	// a missing API key narrows behavior rather than blocking the server.
	llmClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "LLM: disabled (%v), query refinement uses heuristics only\n", err)
		llmClient = nil
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, llmClient)

	server := mcpbridge.NewServer(registry, "scholarpilot", serverVersion)

	fmt.Fprintf(os.Stderr, "scholarpilot mcp server ready (%d tools, stdio)\n", len(registry.ListTools("")))
	if err := mcpbridge.Serve(ctx, server); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "mcp server exited: %v\n", err)
		os.Exit(1)
	}
}

func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: cfg.AnthropicKey, Model: cfg.AnthropicModel})
	case config.LLMProviderOpenAI, "":
		return llm.New(llm.Config{Provider: llm.ProviderOpenAI, APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
