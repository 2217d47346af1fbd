package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/copilot"
)

// EventHub fans engine push events out to WebSocket clients. It implements
// copilot.Subscriber; OnEvent never blocks the engine's processing
// goroutine.
type EventHub struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	clients      map[*eventClient]bool
	clientsMu    sync.RWMutex
	register     chan *eventClient
	unregister   chan *eventClient
	broadcast    chan *wireMessage
	pingInterval time.Duration
}

// eventClient is one connected WebSocket consumer.
type eventClient struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *EventHub
	clientID string

	mu        sync.RWMutex
	sessionID string // optional session filter
}

// wireMessage is the JSON envelope sent to clients.
type wireMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEventHub creates a hub; call Start before serving connections.
func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*eventClient]bool),
		register:     make(chan *eventClient),
		unregister:   make(chan *eventClient),
		broadcast:    make(chan *wireMessage, 256),
		pingInterval: 54 * time.Second,
	}
}

// Start begins the hub's event loop.
func (h *EventHub) Start() {
	go h.run()
}

// OnEvent implements copilot.Subscriber. Events are dropped rather than
// blocking when the broadcast buffer is full.
func (h *EventHub) OnEvent(event copilot.Event) {
	message := &wireMessage{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("type", event.Type).Warn("Event broadcast channel full, dropping event")
	}
}

func (h *EventHub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.WithField("client_id", client.clientID).Debug("Event client registered")

		case client := <-h.unregister:
			h.cleanupClients([]*eventClient{client})

		case message := <-h.broadcast:
			stale := h.broadcastMessage(message)
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}

		case <-ticker.C:
			stale := h.sendPingToAll()
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}
		}
	}
}

// broadcastMessage sends a message to every client whose filter accepts it
// and returns clients whose send buffers were full.
func (h *EventHub) broadcastMessage(message *wireMessage) []*eventClient {
	if message == nil {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal event message")
		return nil
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	var stale []*eventClient
	for client := range h.clients {
		client.mu.RLock()
		filter := client.sessionID
		client.mu.RUnlock()

		if filter != "" && message.SessionID != "" && filter != message.SessionID {
			continue
		}

		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}

	return stale
}

func (h *EventHub) sendPingToAll() []*eventClient {
	ping := &wireMessage{Type: "ping", Timestamp: time.Now()}
	data, _ := json.Marshal(ping)

	h.clientsMu.RLock()
	clients := make([]*eventClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	var stale []*eventClient
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}

	return stale
}

func (h *EventHub) cleanupClients(clients []*eventClient) {
	if len(clients) == 0 {
		return
	}

	h.clientsMu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.WithField("client_id", client.clientID).Debug("Event client unregistered")
		}
	}
	h.clientsMu.Unlock()
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &eventClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		clientID:  uuid.New().String(),
		sessionID: r.URL.Query().Get("session_id"),
	}

	h.register <- client

	welcome := &wireMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"client_id": client.clientID,
			"events": []string{
				string(copilot.EventTranscriptCommitted),
				string(copilot.EventTranscriptInterim),
				string(copilot.EventMetricsUpdated),
				string(copilot.EventSentimentUpdated),
				string(copilot.EventNudgeRaised),
				string(copilot.EventCueCardRaised),
				string(copilot.EventPlaybookUpdated),
				string(copilot.EventCallEnded),
				string(copilot.EventError),
			},
		},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump()
}

// ConnectedClients returns the number of connected clients.
func (h *EventHub) ConnectedClients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes client control messages: session filtering and
// application-level pings.
func (c *eventClient) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.logger.WithError(err).Debug("Failed to parse client message")
		return
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case "subscribe":
		if sessionID, ok := msg["session_id"].(string); ok {
			c.mu.Lock()
			c.sessionID = sessionID
			c.mu.Unlock()
			c.hub.logger.WithFields(logrus.Fields{
				"client_id":  c.clientID,
				"session_id": sessionID,
			}).Debug("Client subscribed to session")
		}

	case "unsubscribe":
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()

	case "ping":
		pong := map[string]interface{}{"type": "pong", "timestamp": time.Now()}
		if data, err := json.Marshal(pong); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}

	default:
		c.hub.logger.WithField("type", msgType).Debug("Unknown message type from client")
	}
}
