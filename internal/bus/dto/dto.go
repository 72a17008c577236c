// Package dto holds the wire shapes shared by the HTTP and websocket
// surfaces, converted from the internal models.
package dto

import (
	"time"

	"github.com/agentchatbus/agentchatbus/internal/bus/models"
)

type ThreadDTO struct {
	ID           string                 `json:"thread_id"`
	Topic        string                 `json:"topic"`
	Status       string                 `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	ClosedAt     *time.Time             `json:"closed_at,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
}

type MessageDTO struct {
	ID         string                 `json:"msg_id"`
	ThreadID   string                 `json:"thread_id"`
	Author     string                 `json:"author"`
	AuthorID   string                 `json:"author_id,omitempty"`
	AuthorName string                 `json:"author_name"`
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	Seq        int64                  `json:"seq"`
	CreatedAt  time.Time              `json:"created_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type AgentDTO struct {
	ID               string     `json:"agent_id"`
	Name             string     `json:"name"`
	DisplayName      string     `json:"display_name,omitempty"`
	AliasSource      string     `json:"alias_source,omitempty"`
	IDE              string     `json:"ide"`
	Model            string     `json:"model"`
	Description      string     `json:"description,omitempty"`
	Capabilities     []string   `json:"capabilities,omitempty"`
	RegisteredAt     time.Time  `json:"registered_at"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
	LastActivity     string     `json:"last_activity,omitempty"`
	LastActivityTime *time.Time `json:"last_activity_time,omitempty"`
	IsOnline         bool       `json:"is_online"`
	Token            string     `json:"token,omitempty"`
}

type DeleteReceiptDTO struct {
	ThreadID     string `json:"thread_id"`
	Topic        string `json:"topic"`
	MessageCount int64  `json:"message_count"`
}

type EventDTO struct {
	ID        int64                  `json:"event_id"`
	EventType string                 `json:"event_type"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func ThreadToDTO(t *models.Thread) ThreadDTO {
	return ThreadDTO{
		ID:           t.ID,
		Topic:        t.Topic,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		ClosedAt:     t.ClosedAt,
		Summary:      t.Summary,
		Metadata:     t.Metadata,
		SystemPrompt: t.SystemPrompt,
	}
}

func ThreadsToDTO(threads []*models.Thread) []ThreadDTO {
	out := make([]ThreadDTO, 0, len(threads))
	for _, t := range threads {
		out = append(out, ThreadToDTO(t))
	}
	return out
}

func MessageToDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Author:     m.Author,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Role:       string(m.Role),
		Content:    m.Content,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
		Metadata:   m.Metadata,
	}
}

func MessagesToDTO(msgs []*models.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageToDTO(m))
	}
	return out
}

func AgentToDTO(a *models.Agent) AgentDTO {
	return AgentDTO{
		ID:               a.ID,
		Name:             a.Name,
		DisplayName:      a.DisplayName,
		AliasSource:      a.AliasSource,
		IDE:              a.IDE,
		Model:            a.Model,
		Description:      a.Description,
		Capabilities:     a.Capabilities,
		RegisteredAt:     a.RegisteredAt,
		LastHeartbeat:    a.LastHeartbeat,
		LastActivity:     a.LastActivity,
		LastActivityTime: a.LastActivityTime,
		IsOnline:         a.IsOnline,
		Token:            a.Token,
	}
}

func AgentsToDTO(agents []*models.Agent) []AgentDTO {
	out := make([]AgentDTO, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentToDTO(a))
	}
	return out
}

func ReceiptToDTO(r *models.DeleteReceipt) DeleteReceiptDTO {
	return DeleteReceiptDTO{ThreadID: r.ThreadID, Topic: r.Topic, MessageCount: r.MessageCount}
}

func EventToDTO(e *models.Event) EventDTO {
	return EventDTO{
		ID:        e.ID,
		EventType: e.EventType,
		ThreadID:  e.ThreadID,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

func EventsToDTO(events []*models.Event) []EventDTO {
	out := make([]EventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, EventToDTO(e))
	}
	return out
}
