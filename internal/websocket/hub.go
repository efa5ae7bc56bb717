// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"
	"time"

	wstypes "timeclock-service/internal/domain/websocket"

	"go.uber.org/zap"
)

// Hub tracks live connections per principal and fans out session and clock
// events to them.
type Hub struct {
	// Registered clients by principal ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *zap.Logger
}

type BroadcastMessage struct {
	PrincipalIDs []int64
	Channel      wstypes.ChannelType
	Message      *wstypes.WSMessage
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register hands a connected client to the hub. It closes the client if the
// hub has stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.principalID] == nil {
		h.clients[client.principalID] = make(map[*Client]bool)
	}
	h.clients[client.principalID][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		zap.Int64("principal_id", client.principalID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"principal_id": client.principalID,
		"session_id":   client.sessionID,
		"roles":        client.roles,
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.principalID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()

			if len(clients) == 0 {
				delete(h.clients, client.principalID)
			}

			h.logger.Info("websocket client disconnected",
				zap.Int64("principal_id", client.principalID),
				zap.String("session_id", client.sessionID),
				zap.Int("total", h.totalClients()),
			)
		}
	}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}

	if msg.PrincipalIDs == nil {
		for _, clients := range h.clients {
			send(clients)
		}
		return
	}
	for _, id := range msg.PrincipalIDs {
		send(h.clients[id])
	}
}

// enqueue never blocks request handling on the hub.
func (h *Hub) enqueue(msg *BroadcastMessage) error {
	select {
	case h.broadcast <- msg:
		return nil
	default:
		return ErrHubBusy
	}
}

func (h *Hub) ConnectedClients(principalID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[principalID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// NotifySecurityAlert tells every live connection of the principal that a
// session family was revoked after credential reuse.
func (h *Hub) NotifySecurityAlert(principalID int64, rootFamilyID string) {
	msg := wstypes.NewMessage(wstypes.EventTypeSecurityAlert, wstypes.SecurityAlertData{
		Severity:     "critical",
		RootFamilyID: rootFamilyID,
		Message:      "A reused sign-in was detected. Please sign in again.",
	})
	h.send(principalID, wstypes.ChannelSession, msg)
}

func (h *Hub) NotifyForceLogout(principalID int64, reason string) {
	msg := wstypes.NewMessage(wstypes.EventTypeForceLogout, wstypes.SessionEventData{
		Reason:  reason,
		Message: "You have been logged out",
	})
	h.send(principalID, wstypes.ChannelSession, msg)
}

// NotifyClockRecorded confirms a scanned clock token to its owner.
func (h *Hub) NotifyClockRecorded(principalID int64, purpose, stationID string, at time.Time) {
	msg := wstypes.NewMessage(wstypes.EventTypeClockRecorded, wstypes.ClockEventData{
		Purpose:   purpose,
		StationID: stationID,
		At:        at,
	})
	h.send(principalID, wstypes.ChannelClock, msg)
}

func (h *Hub) send(principalID int64, channel wstypes.ChannelType, msg *wstypes.WSMessage) {
	err := h.enqueue(&BroadcastMessage{
		PrincipalIDs: []int64{principalID},
		Channel:      channel,
		Message:      msg,
	})
	if err != nil {
		h.logger.Warn("websocket event dropped",
			zap.Int64("principal_id", principalID),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}
