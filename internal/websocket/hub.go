package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Hub keeps the connected clients and fans valuation results out to the
// clients subscribed to a bond name
type Hub struct {
	clients       map[*Client]bool // owned by Run
	publish       chan envelope
	register      chan *Client
	unregister    chan *Client
	stopped       chan struct{}
	subscriptions map[string]map[*Client]bool // bond name -> clients
	log           *logger.Logger
	mu            sync.RWMutex
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	quit          chan struct{}
	id            string
	subscriptions map[string]bool
	mu            sync.Mutex
}

// Message is the frame sent to clients
type Message struct {
	Type  string `json:"type"`
	Bond  string `json:"bond,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
}

// SubscriptionMessage is the frame clients send to (un)subscribe
type SubscriptionMessage struct {
	Type  string   `json:"type"`
	Bonds []string `json:"bonds"`
	ID    string   `json:"id,omitempty"`
}

type envelope struct {
	bond string
	data []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		publish:       make(chan envelope, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		stopped:       make(chan struct{}),
		subscriptions: make(map[string]map[*Client]bool),
		log:           logger.GetLogger("websocket.hub"),
	}
}

// Run serves the hub until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.log.Info("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debugw("Client registered", "client", client.id)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Debugw("Client unregistered", "client", client.id)
			}

		case env := <-h.publish:
			h.deliver(env)
		}
	}
}

// Publish queues a valuation result for the subscribers of bond. Results
// are dropped when the queue is full.
func (h *Hub) Publish(bond string, payload any) error {
	data, err := json.Marshal(Message{Type: "valuation", Bond: bond, Data: payload})
	if err != nil {
		return errors.Wrap(err, "marshal websocket message")
	}
	select {
	case h.publish <- envelope{bond: bond, data: data}:
	default:
		h.log.Warnw("Publish queue full, dropping result", "bond", bond)
	}
	return nil
}

// Subscribers returns the number of clients subscribed to bond
func (h *Hub) Subscribers(bond string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[bond])
}

// HandleWebSocket upgrades the connection and registers the client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		quit:          make(chan struct{}),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// deliver sends env to its subscribers, dropping clients that cannot keep up
func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subscriptions[env.bond]))
	for client := range h.subscriptions[env.bond] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- env.data:
		default:
			h.log.Warnw("Client too slow, dropping", "client", client.id)
			h.drop(client)
		}
	}
}

// drop forgets client and stops its pumps. Only Run calls it.
func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.quit)
	h.removeClientSubscriptions(client)
}

func (h *Hub) removeClientSubscriptions(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	for bond := range client.subscriptions {
		if clients, exists := h.subscriptions[bond]; exists {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, bond)
			}
		}
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("WebSocket read failed", "client", c.id, "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg SubscriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format", "")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg)
	case "unsubscribe":
		c.unsubscribe(msg)
	case "ping":
		c.sendMessage(Message{Type: "pong", ID: msg.ID})
	default:
		c.sendError("unknown message type", msg.ID)
	}
}

func (c *Client) subscribe(msg SubscriptionMessage) {
	c.hub.mu.Lock()
	c.mu.Lock()
	for _, bond := range msg.Bonds {
		c.subscriptions[bond] = true
		if c.hub.subscriptions[bond] == nil {
			c.hub.subscriptions[bond] = make(map[*Client]bool)
		}
		c.hub.subscriptions[bond][c] = true
	}
	c.mu.Unlock()
	c.hub.mu.Unlock()

	c.sendMessage(Message{Type: "subscription_confirmed", Data: msg.Bonds, ID: msg.ID})
}

func (c *Client) unsubscribe(msg SubscriptionMessage) {
	c.hub.mu.Lock()
	c.mu.Lock()
	for _, bond := range msg.Bonds {
		delete(c.subscriptions, bond)
		if clients, exists := c.hub.subscriptions[bond]; exists {
			delete(clients, c)
			if len(clients) == 0 {
				delete(c.hub.subscriptions, bond)
			}
		}
	}
	c.mu.Unlock()
	c.hub.mu.Unlock()

	c.sendMessage(Message{Type: "unsubscription_confirmed", Data: msg.Bonds, ID: msg.ID})
}

// sendMessage queues msg without blocking the read pump
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.quit:
	default:
		c.hub.log.Warnw("Client send buffer full", "client", c.id)
	}
}

func (c *Client) sendError(text, id string) {
	c.sendMessage(Message{Type: "error", Error: text, ID: id})
}
