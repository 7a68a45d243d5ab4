package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeSweepPoint    MessageType = "sweep_point"
	MsgTypeSweepComplete MessageType = "sweep_complete"
	MsgTypeRunComplete   MessageType = "run_complete"
	MsgTypePong          MessageType = "pong"
	MsgTypeError         MessageType = "error"
	MsgTypeHeartbeat     MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSweep       MessageType = "sweep"
	MsgTypePing        MessageType = "ping"
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// ChannelRuns carries a run_complete event for every stored run.
const ChannelRuns = "runs"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 65536
)

// WSMessage is a WebSocket message. ID echoes the id of the request it answers.
type WSMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RunEvent announces a stored run.
type RunEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Seed       uint64    `json:"seed"`
	Strategies []string  `json:"strategies"`
	Created    time.Time `json:"created"`
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	sweeping atomic.Bool
}

// Hub manages WebSocket connections.
type Hub struct {
	logger   *zap.Logger
	clients  map[*Client]bool
	channels map[string]map[*Client]bool
	mu       sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		clients:  make(map[*Client]bool),
		channels: make(map[string]map[*Client]bool),
	}
}

// Run sends heartbeats until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug("Client registered", zap.String("id", client.id))
}

// unregister removes client from the hub and every channel. The send channel
// is never closed; the client context tells writers to stop.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.mu.RLock()
		for channel := range client.subscriptions {
			if clients, ok := h.channels[channel]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.channels, channel)
				}
			}
		}
		client.mu.RUnlock()
	}
	h.mu.Unlock()

	client.cancel()
	h.logger.Debug("Client unregistered", zap.String("id", client.id))
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.cancel()
		client.conn.Close()
	}
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	data, err := encode(WSMessage{Type: MsgTypeHeartbeat}, nil)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.offer(data)
	}
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel publishes a message to a channel. Slow subscribers miss
// the message rather than stall the publisher.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	msgBytes, err := encode(WSMessage{Type: msgType, Channel: channel}, data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		if !client.offer(msgBytes) {
			h.logger.Warn("Client send buffer full, dropping message",
				zap.String("client", client.id),
				zap.String("channel", channel))
		}
	}
}

// PublishRun announces a stored run on the runs channel.
func (h *Hub) PublishRun(rec *RunRecord) {
	names := make([]string, len(rec.Outcomes))
	for i, o := range rec.Outcomes {
		names[i] = o.Name
	}
	h.PublishToChannel(ChannelRuns, MsgTypeRunComplete, RunEvent{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Seed:       rec.Seed,
		Strategies: names,
		Created:    rec.Created,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// encode builds the wire form of msg with data as its payload.
func encode(msg WSMessage, data interface{}) ([]byte, error) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register(client)

	go client.WritePump()
	go client.ReadPump(s)
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// offer queues data without blocking. It reports whether data was queued.
func (c *Client) offer(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// deliver queues data, waiting for buffer space until the client goes away.
func (c *Client) deliver(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// reply sends a response to the request with the given id.
func (c *Client) reply(id string, msgType MessageType, data interface{}) error {
	out, err := encode(WSMessage{Type: msgType}, data)
	if err != nil {
		return err
	}
	if id != "" {
		if out, err = sjson.SetBytes(out, "id", id); err != nil {
			return err
		}
	}
	return c.deliver(out)
}

func (c *Client) replyError(id string, err error) {
	out, encErr := encode(WSMessage{ID: id, Type: MsgTypeError, Error: err.Error()}, nil)
	if encErr != nil {
		return
	}
	c.deliver(out)
}

// ReadPump reads client requests until the connection closes.
func (c *Client) ReadPump(s *Server) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !gjson.ValidBytes(message) {
			c.replyError("", errInvalidMessage)
			continue
		}

		id := gjson.GetBytes(message, "id").String()
		switch MessageType(gjson.GetBytes(message, "type").String()) {
		case MsgTypePing:
			c.reply(id, MsgTypePong, nil)
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, gjson.GetBytes(message, "channel").String())
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, gjson.GetBytes(message, "channel").String())
		case MsgTypeSweep:
			c.startSweep(s, id, gjson.GetBytes(message, "data"))
		default:
			c.replyError(id, errUnknownMessage)
		}
	}
}

// startSweep runs a correlation sweep in the background and streams one
// sweep_point per correlation level followed by sweep_complete. A client
// runs one sweep at a time.
func (c *Client) startSweep(s *Server, id string, data gjson.Result) {
	var req SweepRequest
	if data.Exists() {
		if err := json.Unmarshal([]byte(data.Raw), &req); err != nil {
			c.replyError(id, err)
			return
		}
	}
	if !c.sweeping.CompareAndSwap(false, true) {
		c.replyError(id, errSweepRunning)
		return
	}

	go func() {
		defer c.sweeping.Store(false)

		resp, err := s.sweep(c.ctx, req, func(point types.SweepPoint) error {
			return c.reply(id, MsgTypeSweepPoint, point)
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.replyError(id, err)
			}
			return
		}
		c.reply(id, MsgTypeSweepComplete, resp)
	}()
}

// WritePump writes queued messages and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
