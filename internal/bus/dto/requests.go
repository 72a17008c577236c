package dto

type CreateThreadRequest struct {
	Topic        string                 `json:"topic" binding:"required"`
	Metadata     map[string]interface{} `json:"metadata"`
	SystemPrompt string                 `json:"system_prompt"`
}

type SetThreadStateRequest struct {
	State string `json:"state" binding:"required"`
}

type CloseThreadRequest struct {
	Summary string `json:"summary"`
}

type PostMessageRequest struct {
	Author   string                 `json:"author" binding:"required"`
	Content  string                 `json:"content"`
	Role     string                 `json:"role"`
	Metadata map[string]interface{} `json:"metadata"`
	Mentions []string               `json:"mentions"`
	Images   []map[string]string    `json:"images"`
}

// FoldMetadata merges the mentions and images conveniences into the
// metadata map, so downstream storage only sees one field.
func (r *PostMessageRequest) FoldMetadata() map[string]interface{} {
	meta := r.Metadata
	if len(r.Mentions) == 0 && len(r.Images) == 0 {
		return meta
	}
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if len(r.Mentions) > 0 {
		meta["mentions"] = r.Mentions
	}
	if len(r.Images) > 0 {
		meta["images"] = r.Images
	}
	return meta
}

type WaitMessagesRequest struct {
	AfterSeq  int64  `json:"after_seq"`
	TimeoutMs int64  `json:"timeout_ms"`
	AgentID   string `json:"agent_id"`
	Token     string `json:"token"`
}

type RegisterAgentRequest struct {
	IDE          string   `json:"ide"`
	Model        string   `json:"model"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	DisplayName  string   `json:"display_name"`
}

type AgentCredentialsRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Token   string `json:"token" binding:"required"`
}

type SetAliasRequest struct {
	AgentID     string `json:"agent_id" binding:"required"`
	Token       string `json:"token" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

type SetTypingRequest struct {
	AgentID  string `json:"agent_id" binding:"required"`
	ThreadID string `json:"thread_id" binding:"required"`
	Typing   bool   `json:"typing"`
}
