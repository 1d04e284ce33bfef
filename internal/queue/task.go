package queue

import "fmt"

type TaskType string

const (
	// TaskTypeResearchRun starts or resumes a research plan from its last
	// checkpointed phase.
	TaskTypeResearchRun TaskType = "research_run"
	// TaskTypeGateResume resumes a paused pipeline after a HITL gate decision
	// has been recorded.
	TaskTypeGateResume TaskType = "gate_resume"
)

// Task is the durable unit of work handed to the pipeline worker pool. It
// carries enough identity to resume from the Memory Fabric's checkpoint
// state (session_id + plan_id + phase) rather than any payload itself.
type Task struct {
	TaskType  TaskType
	SessionID string
	PlanID    string
	UserID    string
	Phase     string
	GateID    string
	TraceID   *string
	Attempt   int
}

// SessionStreamName returns the Redis stream a given user's research runs
// are enqueued on, keeping one user's backlog ordered without contending
// with every other user's stream.
func SessionStreamName(userID string) string {
	return fmt.Sprintf("research-pipeline:user-%s", userID)
}
