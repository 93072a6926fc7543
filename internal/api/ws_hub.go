// Package api — WebSocket feed for real-time bid and close events.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artify/auction-engine/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is a JSON event sent to WebSocket clients.
type WSMessage struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	BidID     string `json:"bid_id,omitempty"`
	BidderID  string `json:"bidder_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// wsCommand is what clients send: subscribe/unsubscribe to an auction's
// events.
type wsCommand struct {
	Action    string `json:"action"`
	AuctionID string `json:"auction_id"`
}

type wsEvent struct {
	auctionID string
	payload   []byte
}

// wsClient is one connection plus its auction subscriptions. An empty
// subscription set means the client receives every event.
type wsClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	auctions map[string]bool
}

func (c *wsClient) wants(auctionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.auctions) == 0 || c.auctions[auctionID]
}

func (c *wsClient) subscribe(auctionID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.auctions[auctionID] = true
	} else {
		delete(c.auctions, auctionID)
	}
}

// WSHub fans bid and close events out to subscribed clients.
type WSHub struct {
	clients    map[*wsClient]bool
	events     chan wsEvent
	register   chan *wsClient
	unregister chan *wsClient
}

// NewWSHub creates the hub. Call Run in a goroutine before serving.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		events:     make(chan wsEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run owns the client set; all membership changes and fan-out happen on
// this goroutine, so no lock guards the map.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketClients.Dec()
			}

		case ev := <-h.events:
			for client := range h.clients {
				if !client.wants(ev.auctionID) {
					continue
				}
				select {
				case client.send <- ev.payload:
				default:
					// Slow consumer; drop it rather than stall the feed.
					delete(h.clients, client)
					close(client.send)
					metrics.WebSocketClients.Dec()
				}
			}
		}
	}
}

// Broadcast queues an event for fan-out. Never blocks the caller: bid
// placement must not wait on the feed.
func (h *WSHub) Broadcast(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- wsEvent{auctionID: msg.AuctionID, payload: payload}:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades GET /api/v1/ws. Initial subscriptions come from
// repeated auction_id query params; clients adjust them afterwards with
// {"action":"subscribe","auction_id":"..."} messages.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	client := &wsClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		auctions: make(map[string]bool),
	}
	for _, id := range r.URL.Query()["auction_id"] {
		client.auctions[id] = true
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}

// readPump consumes subscription commands and detects disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.AuctionID == "" {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.subscribe(cmd.AuctionID, true)
		case "unsubscribe":
			c.subscribe(cmd.AuctionID, false)
		}
	}
}

// writePump is the only goroutine writing to the connection; it drains
// the send channel and keeps the connection alive through proxies.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
