// Command worker runs the research pipeline's queue consumer: it pops
// research_run/gate_resume tasks off a Redis stream and drives each
// session through internal/pipeline.Pipeline until it completes, pauses on
// a HITL gate, or exhausts its retry budget.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/typesense/typesense-go/v4/typesense"

	"scholarpilot.dev/core/common/id"
	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/common/logger"
	"scholarpilot.dev/core/common/otel"
	"scholarpilot.dev/core/core/config"
	"scholarpilot.dev/core/core/db"
	"scholarpilot.dev/core/internal/cache"
	"scholarpilot.dev/core/internal/dedup"
	"scholarpilot.dev/core/internal/dedup/fuzzyindex"
	"scholarpilot.dev/core/internal/executor"
	"scholarpilot.dev/core/internal/graphstore"
	"scholarpilot.dev/core/internal/hitl"
	"scholarpilot.dev/core/internal/kv"
	"scholarpilot.dev/core/internal/memory"
	"scholarpilot.dev/core/internal/pipeline"
	"scholarpilot.dev/core/internal/planner"
	"scholarpilot.dev/core/internal/query"
	"scholarpilot.dev/core/internal/queue"
	"scholarpilot.dev/core/internal/store"
	"scholarpilot.dev/core/internal/tools"
	"scholarpilot.dev/core/internal/worker"
)

const (
	defaultStream   = "research-pipeline:default"
	defaultGroup    = "research-pipeline-workers"
	defaultDLQ      = "research-pipeline:dlq"
	workerIDDefault = "worker-1"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	if telemetry != nil {
		defer telemetry.Shutdown(ctx) //nolint:errcheck
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "scholarpilot worker starting", "env", cfg.Env)

	if err := id.Init(nodeIDFromEnv()); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	graphStore, err := graphstore.New(ctx, graphstore.Config{
		URL:      cfg.Arango.Endpoint,
		Username: cfg.Arango.Username,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to arangodb", "error", err)
		os.Exit(1)
	}
	defer graphStore.Close() //nolint:errcheck
	if err := graphStore.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure graph schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "graph store connected")

	llmClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "llm client initialized", "provider", cfg.LLM.Provider, "model", llmClient.Model())

	kvStore := kv.NewRedisStore(redisClient)
	cacheLayer := cache.New(kvStore, cfg.Cache.TTLOverrides)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, llmClient)

	exec := executor.New(registry, cacheLayer)
	if cfg.Typesense.APIKey != "" {
		tsClient := typesense.NewClient(
			typesense.WithServer(cfg.Typesense.Endpoint),
			typesense.WithAPIKey(cfg.Typesense.APIKey),
		)
		exec = exec.WithFuzzyIndex(func(ctx context.Context, planID string) (dedup.TitleIndex, error) {
			return fuzzyindex.New(ctx, tsClient, planID)
		})
		slog.InfoContext(ctx, "fuzzy title index enabled", "endpoint", cfg.Typesense.Endpoint)
	}
	planr := planner.New(llmClient, registry)
	parser := query.NewParser()
	adaptivePlanner := planner.NewAdaptivePlanner(planr, parser)

	fabric := memory.NewFabric(kvStore)
	gates := hitl.NewManager(kvStore, nil) // nil callback: auto-approve, matching today's no-UI deployment
	persistStore := store.New(database)

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

	streamName := getEnv("PIPELINE_STREAM", defaultStream)
	consumerName := getEnv("PIPELINE_CONSUMER", workerIDDefault)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       streamName,
		Group:        getEnv("PIPELINE_GROUP", defaultGroup),
		Consumer:     consumerName,
		DLQStream:    getEnv("PIPELINE_DLQ_STREAM", defaultDLQ),
		BatchSize:    1,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, pl, fabric, worker.Config{MaxAttempts: 3})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    streamName,
		Group:     getEnv("PIPELINE_GROUP", defaultGroup),
		Consumer:  consumerName + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go reclaimer.Run(ctx)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "worker loop exited with error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "worker running", "stream", streamName, "group", getEnv("PIPELINE_GROUP", defaultGroup))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutdown signal received, initiating graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		reclaimer.Stop()
		w.Stop()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "worker shut down cleanly")
	case <-time.After(30 * time.Second):
		slog.WarnContext(ctx, "worker shutdown timed out, exiting anyway")
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

func nodeIDFromEnv() int64 {
	if v := os.Getenv("WORKER_NODE_ID"); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 1
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
