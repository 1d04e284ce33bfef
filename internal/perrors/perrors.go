// Package perrors centralizes the pipeline's error taxonomy: every
// anticipated failure is a typed outcome rather than an ad-hoc error
// string, so phase-local recovery can switch on kind instead of matching
// messages.
package perrors

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/tools"
)

// Kind is one of the taxonomy's closed set of failure classes.
type Kind string

const (
	// KindTransientIO covers tool HTTP 5xx, PDF timeouts, KV connection
	// drops — retried at most once within the phase.
	KindTransientIO Kind = "transient_io"
	// KindQuota covers rate-limit/quota responses — surfaced as a
	// phase-local failure with no automatic retry.
	KindQuota Kind = "quota"
	// KindBadInput covers malformed domain values (empty plan, paper with
	// no title, empty span snippet) — dropped with a warning.
	KindBadInput Kind = "bad_input"
	// KindToolNotFound is fatal for the step that requested it; other
	// steps proceed.
	KindToolNotFound Kind = "tool_not_found"
	// KindParseFailure covers unparseable LLM JSON — the caller fills a
	// safe default and continues.
	KindParseFailure Kind = "parse_failure"
	// KindCancellation is cooperative, not an error condition; callers
	// should prefer context.Canceled checks over matching this kind, but
	// it exists so a PipelineError can still type-assert cleanly.
	KindCancellation Kind = "cancellation"
	// KindFatal is reserved for planning failure and failure to persist
	// the initial paper registry — the only two fatal conditions.
	KindFatal Kind = "fatal"
)

// PipelineError wraps an underlying error with its taxonomy Kind plus the
// phase and optional entity id it occurred against, so callers can log and
// route without re-deriving classification from the message text.
type PipelineError struct {
	Kind  Kind
	Phase string
	Entity string // paper id, claim id, step id string, etc. — optional
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s (phase=%s, entity=%s): %v", e.Kind, e.Phase, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s (phase=%s): %v", e.Kind, e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the phase should retry the operation once
// before treating it as phase-local failure.
func (e *PipelineError) Retryable() bool {
	return e.Kind == KindTransientIO
}

// Fatal reports whether the error should halt the whole pipeline rather
// than just the current phase.
func (e *PipelineError) Fatal() bool {
	return e.Kind == KindFatal
}

func New(kind Kind, phase string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Phase: phase, Err: err}
}

func NewWithEntity(kind Kind, phase, entity string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Phase: phase, Entity: entity, Err: err}
}

func TransientIO(phase string, err error) *PipelineError { return New(KindTransientIO, phase, err) }
func Quota(phase string, err error) *PipelineError        { return New(KindQuota, phase, err) }
func BadInput(phase string, err error) *PipelineError      { return New(KindBadInput, phase, err) }
func ToolNotFound(phase, tool string) *PipelineError {
	return NewWithEntity(KindToolNotFound, phase, tool, fmt.Errorf("tool not found: %s", tool))
}
func ParseFailure(phase string, err error) *PipelineError { return New(KindParseFailure, phase, err) }
func Fatal(phase string, err error) *PipelineError        { return New(KindFatal, phase, err) }

// Classify maps a raw error from a tool call or LLM request onto the
// taxonomy, so callers that only have an error to log can still route by
// Kind instead of matching strings. Returns nil for a nil err.
func Classify(ctx context.Context, phase string, err error) *PipelineError {
	if err == nil {
		return nil
	}

	var alreadyClassified *PipelineError
	if errors.As(err, &alreadyClassified) {
		return alreadyClassified
	}

	var notFound *tools.ErrToolNotFound
	if errors.As(err, &notFound) {
		return NewWithEntity(KindToolNotFound, phase, notFound.Name, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return Quota(phase, err)
	}

	if llm.IsRetryable(ctx, err) {
		return TransientIO(phase, err)
	}

	return New(KindBadInput, phase, err)
}
