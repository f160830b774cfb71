package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/anthem-core/internal/infrastructure/config"
	"github.com/nerrad567/anthem-core/internal/infrastructure/logging"
	"github.com/nerrad567/anthem-core/internal/state"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelStateChanged carries merged device state changes.
	ChannelStateChanged = "device.state_changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	timeFormat = time.RFC3339
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, the devices whose
// state the client follows. No device ids means every device.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// StatePayload is the body of a state read, a state_changed event and each
// entry of a subscribe snapshot.
type StatePayload struct {
	DeviceID   string            `json:"device_id"`
	Connection state.Connection  `json:"connection"`
	Showering  bool              `json:"showering"`
	OpenValves []int             `json:"open_valves"`
	Source     state.Source      `json:"source,omitempty"`
	State      state.DeviceState `json:"state"`
}

// newStatePayload summarises st for clients.
func newStatePayload(deviceID string, st state.DeviceState) StatePayload {
	open := []int{}
	for idx, v := range st.Valves {
		if v.Active() {
			open = append(open, idx)
		}
	}
	slices.Sort(open)

	return StatePayload{
		DeviceID:   deviceID,
		Connection: st.Connection,
		Showering:  st.Showering(),
		OpenValves: open,
		Source:     st.LastUpdateSource,
		State:      st,
	}
}

// stateReader is the part of the state store the hub reads snapshots from.
type stateReader interface {
	Devices() []string
	Get(deviceID string) (state.DeviceState, error)
}

// Hub fans device state changes out to WebSocket clients.
type Hub struct {
	logger  *logging.Logger
	states  stateReader
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client and what it follows.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]struct{}

	// devices is nil when the client follows every device.
	devices map[string]struct{}
	mu      sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub that serves snapshots from states.
func NewHub(logger *logging.Logger, states stateReader) *Hub {
	return &Hub{
		logger:  logger,
		states:  states,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastState sends a state_changed event to every client following
// the device. It is registered as a store change listener.
func (h *Hub) BroadcastState(deviceID string, st state.DeviceState) {
	data, err := encodeMessage(WSTypeEvent, "", ChannelStateChanged, newStatePayload(deviceID, st))
	if err != nil {
		h.logger.Error("failed to marshal state event", "device_id", deviceID, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.follows(ChannelStateChanged, deviceID) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("state event sent", "device_id", deviceID, "recipients", sent)
	}
}

// snapshot returns the current state of every known device the client
// follows.
func (h *Hub) snapshot(c *WSClient) []StatePayload {
	out := []StatePayload{}
	for _, id := range h.states.Devices() {
		if !c.follows(ChannelStateChanged, id) {
			continue
		}
		st, err := h.states.Get(id)
		if err != nil {
			continue
		}
		out = append(out, newStatePayload(id, st))
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection. The API key middleware has
// already authenticated the request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads client frames until the connection fails.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	wait := config.Seconds(cfg.PingInterval) + config.Seconds(cfg.PongTimeout)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleMessage(message)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(config.Seconds(cfg.PingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := config.Seconds(cfg.PongTimeout)

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(msg.ID, sub)
		} else {
			c.unsubscribe(msg.ID, sub)
		}
	case WSTypePing:
		c.reply(WSTypePong, msg.ID, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe adds channels and devices, then sends the current state of
// the followed devices when state_changed is among the channels.
func (c *WSClient) subscribe(id string, sub WSSubscribePayload) {
	for _, ch := range sub.Channels {
		if ch != ChannelStateChanged {
			c.sendError(id, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	if len(sub.DeviceIDs) > 0 {
		if c.devices == nil {
			c.devices = make(map[string]struct{}, len(sub.DeviceIDs))
		}
		for _, dev := range sub.DeviceIDs {
			c.devices[dev] = struct{}{}
		}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels, "device_ids", sub.DeviceIDs)
	c.reply(WSTypeResponse, id, sub)

	if slices.Contains(sub.Channels, ChannelStateChanged) {
		c.reply(WSTypeSnapshot, id, c.hub.snapshot(c))
	}
}

// unsubscribe drops the named devices, or the named channels when no
// devices are given. Dropping devices has no effect on a client that
// follows every device.
func (c *WSClient) unsubscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	if len(sub.DeviceIDs) > 0 {
		for _, dev := range sub.DeviceIDs {
			delete(c.devices, dev)
		}
	} else {
		for _, ch := range sub.Channels {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	c.reply(WSTypeResponse, id, sub)
}

// follows reports whether the client receives channel events for deviceID.
// A client that dropped every device it named follows none.
func (c *WSClient) follows(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if c.devices == nil {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// trySend queues data for the client. Closed channels (client gone during
// a broadcast) and full buffers (slow client) drop the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// reply sends a message correlated with the client's request id.
func (c *WSClient) reply(msgType, id string, payload any) {
	data, err := encodeMessage(msgType, id, "", payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket reply", "type", msgType, "error", err)
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.reply(WSTypeError, id, map[string]string{"message": message})
}

// encodeMessage builds a WSMessage frame.
func encodeMessage(msgType, id, eventType string, payload any) ([]byte, error) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(timeFormat),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}
