// Package domain holds the data model shared by the Dialogue Orchestrator
// and the Adaptive Research Pipeline: conversations, plans, papers, and the
// synthesis artifacts derived from them.
package domain

import "time"

// ConversationState is a state in the Dialogue Orchestrator's state machine.
type ConversationState string

const (
	StateIdle       ConversationState = "IDLE"
	StateClarifying ConversationState = "CLARIFYING"
	StatePlanning   ConversationState = "PLANNING"
	StateReviewing  ConversationState = "REVIEWING"
	StateEditing    ConversationState = "EDITING"
	StateExecuting  ConversationState = "EXECUTING"
	StateComplete   ConversationState = "COMPLETE"
	StateError      ConversationState = "ERROR"
)

// MessageRole tags who produced a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is an immutable, timestamped turn in a conversation.
type Message struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// PendingClarification is the clarification payload attached to a
// conversation while it sits in CLARIFYING.
type PendingClarification struct {
	OriginalQuery string
	Understanding string
	Questions     []string
	Language      string
}

// Conversation is the Dialogue Orchestrator's working-memory aggregate. It is
// mutated only by the Orchestrator and is the sole writer of its own state;
// readers never observe a torn value because writes are serialized per
// conversation id.
type Conversation struct {
	ID                  string
	UserID              string
	Messages            []Message // bounded ring, last N
	State               ConversationState
	CurrentTopic        string
	PendingClarification *PendingClarification
	PendingPlan         *ResearchPlan
	PendingQueryInfo    *QueryInfo
	PendingPhaseConfig  *PhaseConfig
	ResearchSessionID   string
	PendingURLs         []string
	ResultSummary       string
	Language            string
	LastActivity        time.Time
}

// MaxMessages bounds the Conversation.Messages ring.
const MaxMessages = 100

// AppendMessage appends a message and trims the ring to MaxMessages, keeping
// only the most recent entries.
func (c *Conversation) AppendMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) > MaxMessages {
		c.Messages = c.Messages[len(c.Messages)-MaxMessages:]
	}
	c.LastActivity = msg.Timestamp
}

// ConversationTTL is the sliding inactivity TTL applied to the KV-backed
// working-memory snapshot (internal/kv key conversation:{id}).
const ConversationTTL = 2 * time.Hour
