package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"scholarpilot.dev/core/common/logger"
)

type EventMessage struct {
	TaskType  TaskType
	SessionID string
	PlanID    string
	UserID    string
	Phase     string
	GateID    string
	TraceID   *string
	Attempt   int
}

type Producer interface {
	Enqueue(ctx context.Context, msg EventMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg EventMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: &msg.SessionID,
		PlanID:    &msg.PlanID,
		Component: "pipeline.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":  string(msg.TaskType),
		"session_id": msg.SessionID,
		"plan_id":    msg.PlanID,
		"user_id":    msg.UserID,
		"phase":      msg.Phase,
		"attempt":    attempt,
	}
	if msg.GateID != "" {
		fields["gate_id"] = msg.GateID
	}

	traceIDStr := ""
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
		traceIDStr = *msg.TraceID
	}

	// TODO: add MAXLEN to XAdd so a stuck consumer group doesn't let the stream
	// grow unbounded. Not load-bearing until there's a second user of this stream.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue task (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued pipeline task",
		"task_type", msg.TaskType,
		"phase", msg.Phase,
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
