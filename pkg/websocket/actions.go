package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Thread actions
	ActionThreadCreate    = "thread.create"
	ActionThreadList      = "thread.list"
	ActionThreadGet       = "thread.get"
	ActionThreadState     = "thread.set_state"
	ActionThreadClose     = "thread.close"
	ActionThreadArchive   = "thread.archive"
	ActionThreadUnarchive = "thread.unarchive"
	ActionThreadDelete    = "thread.delete"

	// Message actions
	ActionMsgPost = "msg.post"
	ActionMsgList = "msg.list"
	ActionMsgWait = "msg.wait"

	// Agent actions
	ActionAgentRegister   = "agent.register"
	ActionAgentHeartbeat  = "agent.heartbeat"
	ActionAgentResume     = "agent.resume"
	ActionAgentUnregister = "agent.unregister"
	ActionAgentList       = "agent.list"
	ActionAgentSetAlias   = "agent.set_alias"
	ActionAgentSetTyping  = "agent.set_typing"

	// Bus actions
	ActionBusConfig    = "bus.config"
	ActionEventsReplay = "events.replay"

	// Subscription actions: narrow the event firehose to one thread
	ActionBusSubscribe   = "bus.subscribe"
	ActionBusUnsubscribe = "bus.unsubscribe"
)

// Error codes
const (
	ErrorCodeBadRequest     = "BAD_REQUEST"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeInternalError  = "INTERNAL_ERROR"
	ErrorCodeUnauthorized   = "UNAUTHORIZED"
	ErrorCodeValidation     = "VALIDATION_ERROR"
	ErrorCodeUnknownAction  = "UNKNOWN_ACTION"
	ErrorCodeRateLimited    = "RATE_LIMITED"
	ErrorCodeContentBlocked = "CONTENT_BLOCKED"
	ErrorCodeTimeout        = "TIMEOUT"
)
