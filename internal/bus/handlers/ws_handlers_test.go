package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/bus/session"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	"github.com/agentchatbus/agentchatbus/internal/db"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
	ws "github.com/agentchatbus/agentchatbus/pkg/websocket"
)

func newTestDispatcher(t *testing.T, cfg *config.Config) (*ws.Dispatcher, *session.Registry) {
	t.Helper()

	pool, err := db.Open(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := sqliterepo.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	svc := service.NewService(repo, eventbus.NewMemoryEventBus(log), log, cfg)
	sessions := session.NewRegistry()

	dispatcher := ws.NewDispatcher()
	NewWSHandlers(svc, sessions, log).Register(dispatcher)
	return dispatcher, sessions
}

func dispatch(t *testing.T, d *ws.Dispatcher, ctx context.Context, action string, payload interface{}) *ws.Message {
	t.Helper()
	req, err := ws.NewRequest("req-1", action, payload)
	require.NoError(t, err)
	resp, err := d.Dispatch(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func parseMap(t *testing.T, msg *ws.Message) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, msg.ParsePayload(&out))
	return out
}

func TestWSThreadRoundTrip(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, defaultTestConfig())
	ctx := context.Background()

	resp := dispatch(t, dispatcher, ctx, ws.ActionThreadCreate, map[string]interface{}{"topic": "planning"})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	body := parseMap(t, resp)
	assert.Equal(t, true, body["created"])
	threadID := body["thread"].(map[string]interface{})["thread_id"].(string)

	resp = dispatch(t, dispatcher, ctx, ws.ActionThreadGet, map[string]interface{}{"thread_id": threadID})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "planning", parseMap(t, resp)["topic"])

	resp = dispatch(t, dispatcher, ctx, ws.ActionThreadGet, map[string]interface{}{"thread_id": "nope"})
	require.Equal(t, ws.MessageTypeError, resp.Type)
	assert.Equal(t, ws.ErrorCodeNotFound, parseMap(t, resp)["code"])
}

func TestWSUnknownAction(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, defaultTestConfig())

	resp := dispatch(t, dispatcher, context.Background(), "bogus.action", nil)
	require.Equal(t, ws.MessageTypeError, resp.Type)
	assert.Equal(t, ws.ErrorCodeUnknownAction, parseMap(t, resp)["code"])
}

func TestWSSessionBinding(t *testing.T) {
	dispatcher, sessions := newTestDispatcher(t, defaultTestConfig())
	ctx := ws.WithConnectionID(context.Background(), "conn-1")

	resp := dispatch(t, dispatcher, ctx, ws.ActionAgentRegister, map[string]interface{}{
		"ide": "Cursor", "model": "GPT-4",
	})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	agent := parseMap(t, resp)
	agentID := agent["agent_id"].(string)

	identity, ok := sessions.Lookup("conn-1")
	require.True(t, ok)
	assert.Equal(t, agentID, identity.AgentID)
	assert.Equal(t, agent["token"], identity.Token)

	// A bound connection can post without naming itself.
	resp = dispatch(t, dispatcher, ctx, ws.ActionThreadCreate, map[string]interface{}{"topic": "bound"})
	threadID := parseMap(t, resp)["thread"].(map[string]interface{})["thread_id"].(string)

	resp = dispatch(t, dispatcher, ctx, ws.ActionMsgPost, map[string]interface{}{
		"thread_id": threadID, "content": "hello from the session",
	})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	posted := parseMap(t, resp)
	assert.Equal(t, agentID, posted["author_id"])
	assert.Equal(t, "Cursor (GPT-4)", posted["author"])

	resp = dispatch(t, dispatcher, ctx, ws.ActionAgentUnregister, map[string]interface{}{
		"agent_id": agentID, "token": identity.Token,
	})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	_, ok = sessions.Lookup("conn-1")
	assert.False(t, ok)
}

func TestWSRateLimitError(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Policy.RateLimit = 1
	dispatcher, _ := newTestDispatcher(t, cfg)
	ctx := context.Background()

	resp := dispatch(t, dispatcher, ctx, ws.ActionThreadCreate, map[string]interface{}{"topic": "limited"})
	threadID := parseMap(t, resp)["thread"].(map[string]interface{})["thread_id"].(string)

	resp = dispatch(t, dispatcher, ctx, ws.ActionMsgPost, map[string]interface{}{
		"thread_id": threadID, "author": "alice", "content": "one",
	})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	resp = dispatch(t, dispatcher, ctx, ws.ActionMsgPost, map[string]interface{}{
		"thread_id": threadID, "author": "alice", "content": "two",
	})
	require.Equal(t, ws.MessageTypeError, resp.Type)
	errBody := parseMap(t, resp)
	assert.Equal(t, ws.ErrorCodeRateLimited, errBody["code"])
	details := errBody["details"].(map[string]interface{})
	assert.Equal(t, float64(1), details["limit"])
	assert.Equal(t, "author", details["scope"])
}

func TestWSBusConfigAndEvents(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, defaultTestConfig())
	ctx := context.Background()

	resp := dispatch(t, dispatcher, ctx, ws.ActionBusConfig, nil)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "AgentChatBus", parseMap(t, resp)["bus_name"])

	dispatch(t, dispatcher, ctx, ws.ActionThreadCreate, map[string]interface{}{"topic": "audited"})

	resp = dispatch(t, dispatcher, ctx, ws.ActionEventsReplay, map[string]interface{}{"after_id": 0})
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	events := parseMap(t, resp)["events"].([]interface{})
	require.NotEmpty(t, events)
	assert.Equal(t, "thread.new", events[0].(map[string]interface{})["event_type"])
}
