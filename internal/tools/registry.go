// Package tools implements the Tool Registry and its built-in tools:
// search, collect_url, collect_urls, hf_trending — the only way the core
// talks to the outside world for ingestion.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"scholarpilot.dev/core/internal/domain"
)

// ToolFunc is the callable behind a registered tool. args is the raw
// JSON-decoded argument map; the tool is responsible for validating it
// against its own schema.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDefinition is a named, typed, cacheable operation.
type ToolDefinition struct {
	Name        string
	Description string
	Call        ToolFunc
	Parameters  any // JSON Schema, generated via jsonschema.Reflector
	IsAsync     bool
	Tags        []string
}

// ErrToolNotFound is returned by Registry.ExecuteTool when no tool is
// registered under the requested name (GetTool returns nil instead).
type ErrToolNotFound struct {
	Name string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ErrToolExecution wraps a failure from within a tool's own implementation.
type ErrToolExecution struct {
	ToolName string
	Cause    error
}

func (e *ErrToolExecution) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.ToolName, e.Cause)
}

func (e *ErrToolExecution) Unwrap() error {
	return e.Cause
}

// Registry is a process-wide, concurrency-safe mapping from tool name to
// ToolDefinition, initialized once at startup (init → serve → shutdown).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// ListTools returns every registered tool, optionally filtered by tag.
// Listing is O(n) over the registered tool count.
func (r *Registry) ListTools(tag string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		if tag == "" || hasTag(def.Tags, tag) {
			result = append(result, def)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetTool returns the definition for name, or nil if unregistered.
func (r *Registry) GetTool(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.tools[name]; ok {
		return &def
	}
	return nil
}

// ExecuteTool routes to the named tool's implementation.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	def := r.GetTool(name)
	if def == nil {
		return nil, &ErrToolNotFound{Name: name}
	}

	result, err := def.Call(ctx, args)
	if err != nil {
		return nil, &ErrToolExecution{ToolName: name, Cause: err}
	}
	return result, nil
}

// FunctionSpec is the OpenAI-function-calling shape ToolsForLLM
// produces.
type FunctionSpec struct {
	Type     string           `json:"type"`
	Function FunctionSpecBody `json:"function"`
}

type FunctionSpecBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ToolsForLLM returns every registered tool in OpenAI-function-calling
// shape, suitable for an agent loop's tool list.
func (r *Registry) ToolsForLLM() []FunctionSpec {
	defs := r.ListTools("")
	specs := make([]FunctionSpec, len(defs))
	for i, def := range defs {
		specs[i] = FunctionSpec{
			Type: "function",
			Function: FunctionSpecBody{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return specs
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SchemaFor generates a JSON schema for a tool's argument struct, the same
// reflector shape common/llm uses for structured-output schemas.
func SchemaFor[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// PaperResult is the paper record shape at the tool boundary (§6). Unknown
// fields from a source are ignored when decoding into it; optional fields
// left unset are their zero value.
type PaperResult struct {
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	Authors    []string `json:"authors"`
	ArxivID    string   `json:"arxiv_id,omitempty"`
	DOI        string   `json:"doi,omitempty"`
	URL        string   `json:"url,omitempty"`
	PDFURL     string   `json:"pdf_url,omitempty"`
	Published  string   `json:"published,omitempty"`
	Categories []string `json:"categories,omitempty"`
	SourceType string   `json:"source_type"`
}

// ToPaper converts a tool-boundary PaperResult into the internal domain
// Paper, leaving status at its zero value (raw).
func (p PaperResult) ToPaper() domain.Paper {
	return domain.Paper{
		ArxivID:  p.ArxivID,
		DOI:      p.DOI,
		Title:    p.Title,
		Abstract: p.Abstract,
		Authors:  p.Authors,
		Source:   p.SourceType,
		AbsURL:   p.URL,
		PDFURL:   p.PDFURL,
		Status:   domain.PaperStatusRaw,
	}
}
