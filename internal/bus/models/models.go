// Package models defines the core data types for the bus: threads, messages,
// agents and fan-out events. These are plain structs shared across the
// repository, service, and transport layers.
package models

import "time"

// ThreadStatus represents a thread's lifecycle state.
type ThreadStatus string

const (
	ThreadStatusDiscuss   ThreadStatus = "discuss"
	ThreadStatusImplement ThreadStatus = "implement"
	ThreadStatusReview    ThreadStatus = "review"
	ThreadStatusDone      ThreadStatus = "done"
	ThreadStatusClosed    ThreadStatus = "closed"
	ThreadStatusArchived  ThreadStatus = "archived"
)

// ValidThreadStatus reports whether s is a recognized thread status.
func ValidThreadStatus(s string) bool {
	switch ThreadStatus(s) {
	case ThreadStatusDiscuss, ThreadStatusImplement, ThreadStatusReview,
		ThreadStatusDone, ThreadStatusClosed, ThreadStatusArchived:
		return true
	}
	return false
}

// Thread is a topic-scoped conversation. Topics are unique across the bus.
type Thread struct {
	ID           string                 `json:"id"`
	Topic        string                 `json:"topic"`
	Status       ThreadStatus           `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	ClosedAt     *time.Time             `json:"closed_at,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
}

// MessageRole is the conversational role of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ValidMessageRole reports whether r is a recognized role.
func ValidMessageRole(r string) bool {
	switch MessageRole(r) {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single turn within a thread. Seq is the bus-wide monotonic
// sequence number; seq 0 is reserved for the synthetic system-prompt row
// composed at read time and never stored.
type Message struct {
	ID         string                 `json:"id"`
	ThreadID   string                 `json:"thread_id"`
	Author     string                 `json:"author"`
	AuthorID   string                 `json:"author_id,omitempty"`
	AuthorName string                 `json:"author_name"`
	Role       MessageRole            `json:"role"`
	Content    string                 `json:"content"`
	Seq        int64                  `json:"seq"`
	CreatedAt  time.Time              `json:"created_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Agent activity kinds recorded in last_activity.
const (
	ActivityRegistered = "registered"
	ActivityHeartbeat  = "heartbeat"
	ActivityResume     = "resume"
	ActivityMsgWait    = "msg_wait"
	ActivityMsgPost    = "msg_post"
)

// Alias sources for an agent display name.
const (
	AliasSourceAuto = "auto"
	AliasSourceUser = "user"
)

// Agent is a registered client identity on the bus. Name is the machine name
// ("IDE (Model)" with suffix disambiguation); DisplayName is a human alias.
// Token is the capability secret required for mutations on this agent.
type Agent struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	DisplayName      string     `json:"display_name"`
	AliasSource      string     `json:"alias_source"`
	IDE              string     `json:"ide"`
	Model            string     `json:"model"`
	Description      string     `json:"description"`
	Capabilities     []string   `json:"capabilities,omitempty"`
	RegisteredAt     time.Time  `json:"registered_at"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
	LastActivity     string     `json:"last_activity"`
	LastActivityTime *time.Time `json:"last_activity_time,omitempty"`
	IsOnline         bool       `json:"is_online"`
	Token            string     `json:"token,omitempty"`
}

// EffectiveName returns the display name if set, otherwise the machine name.
func (a *Agent) EffectiveName() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// Event types emitted to the fan-out log.
const (
	EventThreadNew        = "thread.new"
	EventThreadState      = "thread.state"
	EventThreadArchived   = "thread.archived"
	EventThreadUnarchived = "thread.unarchived"
	EventThreadClosed     = "thread.closed"
	EventThreadDeleted    = "thread.deleted"
	EventThreadTimeout    = "thread.timeout"
	EventMsgNew           = "msg.new"
	EventAgentOnline      = "agent.online"
	EventAgentOffline     = "agent.offline"
	EventAgentResume      = "agent.resume"
	EventAgentTyping      = "agent.typing"
)

// Event is a durable change notification. IDs are strictly increasing;
// rows are pruned after a configurable retention window, so stream
// consumers must tolerate gaps by resynchronizing through list calls.
type Event struct {
	ID        int64                  `json:"id"`
	EventType string                 `json:"event_type"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// DeleteReceipt summarizes a hard thread deletion.
type DeleteReceipt struct {
	ThreadID     string `json:"thread_id"`
	Topic        string `json:"topic"`
	MessageCount int64  `json:"message_count"`
}
