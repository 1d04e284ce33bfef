// Package worker drives the Redis Streams consumer group that fans queued
// research_run / gate_resume tasks into Pipeline.Run calls (spec.md §4.6,
// §7). Unlike a per-issue claim/release model, a research session has no
// concurrent-writer problem to arbitrate: Pipeline.Run's own checkpointing
// makes re-delivery of the same message idempotent, so the worker loop
// here is a single straight-line read → process → ack/retry, with no
// transaction coordinator.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"scholarpilot.dev/core/common/logger"
	"scholarpilot.dev/core/internal/domain"
	"scholarpilot.dev/core/internal/memory"
	"scholarpilot.dev/core/internal/pipeline"
	"scholarpilot.dev/core/internal/queue"
)

// Consumer is the subset of queue.RedisConsumer the worker drives; tests
// substitute a fake.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Config bounds retry behavior.
type Config struct {
	MaxAttempts int
}

// Worker pops research-pipeline tasks off a Redis stream and runs them
// through the adaptive pipeline, requeuing on transient failure and
// dead-lettering once a message exceeds MaxAttempts. For queue-driven
// (headless) runs there is no Dialogue Orchestrator to close out the
// session, so the worker records the episode itself once Run returns;
// memory may be nil in tests.
type Worker struct {
	consumer Consumer
	pipeline *pipeline.Pipeline
	memory   *memory.Fabric
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, p *pipeline.Pipeline, fabric *memory.Fabric, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		pipeline:  p,
		memory:    fabric,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks, processing batches until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "pipeline worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "pipeline worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"session_id", msg.SessionID)
			w.handleFailedMessage(ctx, msg, err)
			continue
		}
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ack message", "error", err, "message_id", msg.ID)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"stack", string(debug.Stack()),
				"message_id", msg.ID,
				"session_id", msg.SessionID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage resumes (or starts) a session's pipeline run. Both
// research_run and gate_resume messages map to the same call: Run skips
// every phase whose checkpoint is already complete, so a gate_resume that
// arrives after a gate decision was recorded simply continues past the
// phase that requested it.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(msg.SessionID),
		Component: "pipeline.worker",
	})

	slog.InfoContext(ctx, "processing queued task",
		"message_id", msg.ID,
		"task_type", msg.TaskType,
		"attempt", msg.Attempt)

	sess, found, err := pipeline.LoadSession(ctx, w.pipeline.KV, msg.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", msg.SessionID, err)
	}
	if !found {
		return fmt.Errorf("session %s has no saved request (expired or never saved)", msg.SessionID)
	}

	if msg.TaskType == queue.TaskTypeGateResume && msg.GateID != "" {
		if _, ok := w.pipeline.Gates.Get(msg.GateID); !ok {
			slog.WarnContext(ctx, "gate_resume for unknown gate id, proceeding anyway", "gate_id", msg.GateID)
		}
	}

	start := time.Now()
	_, runErr := w.pipeline.Run(ctx, sess)
	w.recordEpisode(ctx, sess, runErr, time.Since(start))
	if runErr != nil {
		return fmt.Errorf("running pipeline: %w", runErr)
	}

	slog.InfoContext(ctx, "session run completed", "session_id", msg.SessionID)
	return nil
}

// recordEpisode writes the session's terminal outcome into episodic memory
// (spec.md §4.2's write-once-at-session-end rule), mirroring what the
// Orchestrator does for interactive runs.
func (w *Worker) recordEpisode(ctx context.Context, sess pipeline.Session, runErr error, elapsed time.Duration) {
	if w.memory == nil {
		return
	}

	outcome := domain.OutcomeSuccess
	switch {
	case ctx.Err() != nil:
		outcome = domain.OutcomeAbandoned
	case runErr != nil:
		outcome = domain.OutcomeFailed
	}

	episode := domain.ResearchEpisode{
		EpisodeID:     sess.SessionID,
		UserID:        sess.UserID,
		Topic:         sess.Request.Topic,
		OriginalQuery: sess.Request.Topic,
		Outcome:       outcome,
		Duration:      elapsed,
		CreatedAt:     time.Now(),
	}
	if err := w.memory.Episodic.Record(ctx, episode); err != nil {
		slog.WarnContext(ctx, "failed to record episode", "error", err, "session_id", sess.SessionID)
	}
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
