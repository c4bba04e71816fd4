package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errSeatNotConnected = errors.New("seat has no connected client")

// WSMessage is the envelope for both directions. The server sends
// {"action":"prompt"} and {"action":"error"}; the client answers with
// {"action":"decision"}.
type WSMessage struct {
	Action   string   `json:"action"`
	Seat     int      `json:"seat"`
	Prompt   *Prompt  `json:"prompt,omitempty"`
	Decision Decision `json:"decision,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Client represents a websocket connection bound to a seat
type Client struct {
	conn    *websocket.Conn
	seat    int
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

func (c *Client) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	LogWSMessage("OUT", c.seat, string(data))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks the websocket clients of human seats and routes prompts to them
// and decisions back.
type Hub struct {
	clients    map[int]*Client
	pending    map[int]chan Decision
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[int]*Client),
		pending:    make(map[int]chan Decision),
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// start runs the hub loop in its own goroutine. The loop is counted before
// it starts so a later stop always waits for it.
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, c := range h.clients {
				c.conn.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.seat]; ok {
				old.conn.Close()
			}
			h.clients[client.seat] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (seat %d). Total: %d", client.seat, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.seat]; ok && cur == client {
				delete(h.clients, client.seat)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.conn.Close()
			log.Printf("WebSocket client disconnected (seat %d). Total: %d", client.seat, total)
		}
	}
}

// Connected reports whether seat has a client.
func (h *Hub) Connected(seat int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[seat]
	return ok
}

// Ask sends p to the seat's client and waits for its decision.
func (h *Hub) Ask(ctx context.Context, p Prompt) (Decision, error) {
	reply := make(chan Decision, 1)
	h.mu.Lock()
	client, ok := h.clients[p.Seat]
	if ok {
		h.pending[p.Seat] = reply
	}
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", errSeatNotConnected, p.Seat)
	}
	defer func() {
		h.mu.Lock()
		if h.pending[p.Seat] == reply {
			delete(h.pending, p.Seat)
		}
		h.mu.Unlock()
	}()

	if err := client.send(WSMessage{Action: "prompt", Seat: p.Seat, Prompt: &p}); err != nil {
		return nil, fmt.Errorf("send prompt to seat %d: %w", p.Seat, err)
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, fmt.Errorf("hub stopped")
	}
}

// deliver hands a client's decision to the waiting Ask.
func (h *Hub) deliver(client *Client, msg WSMessage) {
	h.mu.Lock()
	reply, ok := h.pending[client.seat]
	if ok {
		delete(h.pending, client.seat)
	}
	h.mu.Unlock()
	if !ok {
		client.send(WSMessage{Action: "error", Seat: client.seat, Error: "no decision pending"})
		return
	}
	reply <- msg.Decision
}

func (h *Hub) handleWSMessage(client *Client, data []byte) {
	LogWSMessage("IN", client.seat, string(data))
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		client.send(WSMessage{Action: "error", Seat: client.seat, Error: "invalid message"})
		return
	}
	switch msg.Action {
	case "decision":
		h.deliver(client, msg)
	default:
		DebugLog("handleWSMessage", "seat %d sent unknown action %q", client.seat, msg.Action)
	}
}

// handleWebSocket upgrades /ws?seat=N and binds the connection to seat N.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	seat, err := strconv.Atoi(r.URL.Query().Get("seat"))
	if err != nil || !validSeatIndex(seat) {
		DebugLog("handleWebSocket", "Rejected WebSocket connection - bad seat %q", r.URL.Query().Get("seat"))
		http.Error(w, "seat must be 1..9", http.StatusBadRequest)
		return
	}

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for seat %d: %v", seat, err)
		return
	}

	DebugLog("handleWebSocket", "WebSocket upgraded successfully for seat %d", seat)
	client := &Client{conn: conn, seat: seat}
	h.register <- client

	go func() {
		defer func() {
			h.unregister <- client
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleWSMessage(client, message)
		}
	}()
}

// humanDecider waits for a human seat to answer over the websocket.
type humanDecider struct {
	hub     *Hub
	timeout time.Duration
}

func (d *humanDecider) Decide(ctx context.Context, p Prompt) (Decision, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.hub.Ask(ctx, p)
}
