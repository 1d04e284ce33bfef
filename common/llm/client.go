// Package llm is the abstract LLM adapter capability described in spec.md
// §6: generate(prompt, system_instruction?, json_mode?) -> structured
// result. Every synthesis phase, the Planner, and the Query Clarifier speak
// only to the Client interface; NewAgentClient-style tool-calling loops are
// intentionally not part of this surface — callers that need structured
// output ask for a JSON schema instead.
package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

// Client is the provider-agnostic chat capability every core component is
// built against.
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

// Embedder is the optional embedding capability a Client may additionally
// provide. It is a separate interface rather than a Client method because
// not every provider offers embeddings (the Anthropic Messages API has no
// embedding endpoint); callers that want vectors type-assert and fall back
// when the assertion fails.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Request is a single structured-output turn: a system/user prompt pair
// plus the JSON schema the reply must validate against.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

// Response carries token accounting for logging/cost estimation.
type Response struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider selects which backend New dispatches to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config configures a single provider's Client.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// New builds the Client for cfg.Provider, defaulting to OpenAI when unset
// so existing single-provider callers need no changes.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI, "":
		return newOpenAIClient(cfg)
	default:
		return nil, errors.New("llm: unknown provider " + string(cfg.Provider))
	}
}

// GenerateSchema reflects a Go type into the JSON schema shape every
// structured Request.Schema expects.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Temp returns a pointer to a Temperature value, since the zero value of
// float64 is indistinguishable from "explicitly deterministic" otherwise.
func Temp(t float64) *float64 {
	return &t
}

// IsRetryable classifies an LLM call failure per spec.md §7's Transient
// I/O / Quota taxonomy: 5xx and network errors are retried once by the
// caller; 4xx (other than rate limiting) and context cancellation are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode,
				"error_type", apiErr.Type,
				"error_code", apiErr.Code)
			return false
		}
	}

	// Network errors (no API response) are generally retryable.
	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}
