// Command explore is a terminal reference client for the Dialogue
// Orchestrator: a REPL that reads a line, feeds it to HandleTurn, and
// prints the reply, with a console progress listener attached so EXECUTING
// phases print the same phase/message updates an SSE or WebSocket transport
// would receive (spec.md §6's ProgressCallback contract). Infrastructure
// that the pipeline only uses opportunistically (Redis, ArangoDB) degrades
// to an in-process fallback or is disabled outright when unreachable, the
// same way relay's own explore CLI treats its optional codegraph
// connection; Postgres stays required since the persistence phase is one
// of only two fatal failure modes (spec.md §7).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/typesense/typesense-go/v4/typesense"

	"scholarpilot.dev/core/common/id"
	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/core/config"
	"scholarpilot.dev/core/core/db"
	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/dedup"
	"scholarpilot.dev/core/internal/dedup/fuzzyindex"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/executor"
	"scholarpilot.dev/core/internal/graphstore"
	"scholarpilot.dev/core/internal/hitl"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/memory"
	"scholarpilot.dev/core/internal/orchestrator"
	"scholarpilot.dev/core/internal/pipeline"
	"scholarpilot.dev/core/internal/planner"
	"scholarpilot.dev/core/internal/query"
	"scholarpilot.dev/core/internal/store"
	"scholarpilot.dev/core/internal/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()

	if err := id.Init(1); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize id generator: %v\n", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	persistStore := store.New(database)

	kvStore := kvStoreOrFallback(ctx, cfg)
	graphStore := graphStoreOrNil(ctx, cfg)
	if graphStore != nil {
		defer graphStore.Close() //nolint:errcheck
	}

	llmClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create llm client: %v\n", err)
		os.Exit(1)
	}

	cacheLayer := cache.New(kvStore, cfg.Cache.TTLOverrides)
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, llmClient)

	exec := executor.New(registry, cacheLayer)
	if cfg.Typesense.APIKey != "" {
		tsClient := typesense.NewClient(
			typesense.WithServer(cfg.Typesense.Endpoint),
			typesense.WithAPIKey(cfg.Typesense.APIKey),
		)
		exec = exec.WithFuzzyIndex(func(fctx context.Context, planID string) (dedup.TitleIndex, error) {
			return fuzzyindex.New(fctx, tsClient, planID)
		})
		fmt.Fprintf(os.Stderr, "Fuzzy title index: enabled (%s)\n", cfg.Typesense.Endpoint)
	}
	planr := planner.New(llmClient, registry)
	parser := query.NewParser()
	clarifier := query.NewClarifier(llmClient)
	adaptivePlanner := planner.NewAdaptivePlanner(planr, parser)

	fabric := memory.NewFabric(kvStore)
	gates := hitl.NewManager(kvStore, nil) // nil callback: auto-approve, there is no UI surface to pause on

	pl := &pipeline.Pipeline{
		KV:                  kvStore,
		AdaptivePlanner:     adaptivePlanner,
		Executor:            exec,
		Gates:               gates,
		Store:               persistStore,
		Graph:               graphStore,
		LLM:                 llmClient,
		Cache:               cacheLayer,
		PDFLoader:           tools.NewPDFLoader(),
		MaxParallelEvidence: cfg.Phases.MaxParallelEvidence,
		MaxParallelAudit:    cfg.Phases.MaxParallelAudit,
		MaxParallelPDFLoad:       cfg.Phases.MaxParallelPDFLoad,
		HighTokenBudgetThreshold: cfg.Phases.HighTokenBudgetGate,
		PDFDownloadGateThreshold: cfg.Phases.PDFDownloadGateCount,
	}

	orch := orchestrator.New(fabric, parser, clarifier, adaptivePlanner, pl, llmClient)
	pl.Progress = orch.ProgressCallback()

	userID := getEnv("EXPLORE_USER_ID", "explore-user")
	conversationID := getEnv("EXPLORE_CONVERSATION_ID", uuid.NewString())
	orch.Attach(conversationID, consolePrinter())

	fmt.Fprintf(os.Stderr, "\nscholarpilot explore ready (conversation=%s)\n", conversationID)
	fmt.Fprintln(os.Stderr, "Enter a topic, or 'quit' to exit:")

	repl(ctx, orch, userID, conversationID)
	fmt.Fprintln(os.Stderr, "Goodbye!")
}

// repl reads one line at a time from stdin and drives the conversation
// through the Orchestrator until EOF, a quit command, or a shutdown signal.
func repl(ctx context.Context, orch *orchestrator.Orchestrator, userID, conversationID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" || text == "q" {
			return
		}
		if ctx.Err() != nil {
			return
		}

		reply, err := orch.HandleTurn(ctx, userID, conversationID, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}

// consolePrinter renders progress events the same way any other attached
// transport would receive them, just to stderr instead of over SSE/WS.
func consolePrinter() domain.ProgressCallback {
	return func(_ context.Context, phase, message string, _ map[string]any) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", phase, message)
	}
}

// kvStoreOrFallback tries Redis and falls back to the in-process
// MemoryStore if it's unreachable, so a local run never needs Redis just
// to hold working-memory conversations and caches.
func kvStoreOrFallback(ctx context.Context, cfg config.Config) kv.Store {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Redis: disabled (%v), using in-memory store\n", err)
		return kv.NewMemoryStore()
	}
	fmt.Fprintf(os.Stderr, "Redis: connected (%s)\n", cfg.Redis.Addr)
	return kv.NewRedisStore(redisClient)
}

// graphStoreOrNil tries ArangoDB and disables the graph entirely if it's
// unreachable; Pipeline already treats a nil Graph as "skip graph writes"
// for every clustering/claim/evidence phase.
func graphStoreOrNil(ctx context.Context, cfg config.Config) graphstore.Store {
	graphStore, err := graphstore.New(ctx, graphstore.Config{
		URL:      cfg.Arango.Endpoint,
		Username: cfg.Arango.Username,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Graph store: disabled (%v)\n", err)
		return nil
	}
	if err := graphStore.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Graph store: disabled (%v)\n", err)
		return nil
	}
	fmt.Fprintf(os.Stderr, "Graph store: connected (%s)\n", cfg.Arango.Endpoint)
	return graphStore
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

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
