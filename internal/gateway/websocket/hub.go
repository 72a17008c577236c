// Package websocket is the streaming gateway: one hub fans committed bus
// events out to connected clients, and the same connection carries the RPC
// surface via the dispatcher.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
	ws "github.com/agentchatbus/agentchatbus/pkg/websocket"
)

// Hub manages all WebSocket client connections
type Hub struct {
	clients map[*Client]bool

	// Clients narrowed to specific threads. Clients with no subscriptions
	// receive the firehose.
	threadSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:           make(map[*Client]bool),
		threadSubscribers: make(map[string]map[*Client]bool),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		dispatcher:        dispatcher,
		logger:            log.WithFields(zap.String("component", "ws_hub")),
	}
}

// AttachEventBus subscribes the hub to every bus event so committed mutations
// reach streaming clients. Returns the subscription for shutdown.
func (h *Hub) AttachEventBus(bus eventbus.EventBus) (eventbus.Subscription, error) {
	return bus.Subscribe(eventbus.SubjectAll, func(_ context.Context, event *eventbus.Event) error {
		msg, err := ws.NewNotification(event.Type, event.Data)
		if err != nil {
			h.logger.Error("failed to build notification", zap.Error(err))
			return nil
		}
		threadID, _ := event.Data["thread_id"].(string)
		h.BroadcastEvent(threadID, msg)
		return nil
	})
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.threadSubscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for threadID := range client.subscriptions {
			if clients, ok := h.threadSubscribers[threadID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.threadSubscribers, threadID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// BroadcastEvent delivers an event notification. Clients narrowed to threads
// only see events for their threads plus thread-less events (agent presence);
// everyone else gets the firehose.
func (h *Hub) BroadcastEvent(threadID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if len(client.subscriptions) > 0 && threadID != "" && !client.subscriptions[threadID] {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SubscribeToThread narrows a client's event delivery to a thread.
func (h *Hub) SubscribeToThread(client *Client, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.threadSubscribers[threadID]; !ok {
		h.threadSubscribers[threadID] = make(map[*Client]bool)
	}
	h.threadSubscribers[threadID][client] = true
	client.subscriptions[threadID] = true

	h.logger.Debug("Client subscribed to thread",
		zap.String("client_id", client.ID),
		zap.String("thread_id", threadID))
}

// UnsubscribeFromThread removes a client's thread narrowing.
func (h *Hub) UnsubscribeFromThread(client *Client, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, threadID)
	if clients, ok := h.threadSubscribers[threadID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.threadSubscribers, threadID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
