package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/avatar"
	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/logging"
	"github.com/normanking/avatarchat/internal/metrics"
	"github.com/normanking/avatarchat/internal/speech"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Message types on the websocket.
const (
	TypeState      = "state"      // server: conversation snapshot
	TypePlay       = "play"       // server: play this reply, answer with played
	TypeAvatar     = "avatar"     // server: avatar controller state
	TypeLog        = "log"        // server: log entry
	TypeError      = "error"      // server: request rejected
	TypeMessage    = "message"    // client: submit text
	TypePlayed     = "played"     // client: reply finished
	TypeTranscript = "transcript" // both: speech recognition results
	TypeCamera     = "camera"     // client: toggle camera zoom
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type     string                `json:"type"`
	Content  string                `json:"content,omitempty"`
	Sequence int64                 `json:"sequence,omitempty"`
	State    *conversation.State   `json:"state,omitempty"`
	Message  *conversation.Message `json:"message,omitempty"`
	Avatar   *avatar.State         `json:"avatar,omitempty"`
	Log      *logging.Entry        `json:"log,omitempty"`
	Error    string                `json:"error,omitempty"`

	// Transcript fields. Start opens a listening session, Done closes it
	// and submits the accumulated text.
	Results []speech.Result `json:"results,omitempty"`
	Start   bool            `json:"start,omitempty"`
	Done    bool            `json:"done,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	acc  *speech.Accumulator
}

// Hub tracks websocket clients and fans messages out to them.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	empty   chan struct{} // closed while no client is connected
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	empty := make(chan struct{})
	close(empty)
	return &Hub{
		logger:  logger.With().Str("component", "ws-hub").Logger(),
		clients: make(map[*client]struct{}),
		empty:   empty,
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Empty returns a channel that is closed whenever no client is connected.
func (h *Hub) Empty() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.empty
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.empty = make(chan struct{})
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	if n == 0 {
		close(h.empty)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
}

// Broadcast sends msg to every client. Clients whose buffer is full are
// dropped.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Msg("Dropping slow websocket client")
		h.remove(c)
	}
}

func (h *Hub) sendTo(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}
