package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/soundrecorder/internal/clients"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var (
	errConnClosed = errors.New("connection closed")
	errOutboxFull = errors.New("client outbox full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ControlMessage is sent by clients over the WebSocket
type ControlMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// ControlReply answers a ControlMessage
type ControlReply struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsClient is one WebSocket connection acting as a registry client.
// Writes go through a single writer goroutine.
type wsClient struct {
	conn   *websocket.Conn
	outbox chan interface{}
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	dead   bool
	nextID int
	hooks  map[int]func()
	token  uuid.UUID
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:   conn,
		outbox: make(chan interface{}, outboxSize),
		closed: make(chan struct{}),
		hooks:  make(map[int]func()),
		token:  uuid.New(),
	}
}

// Send queues an event without blocking the caller
func (c *wsClient) Send(ev clients.Event) error {
	return c.enqueue(ev)
}

func (c *wsClient) enqueue(v interface{}) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.outbox <- v:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		return errOutboxFull
	}
}

// LinkToDeath registers fn to run once when the connection goes away
func (c *wsClient) LinkToDeath(fn func()) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return nil, errConnClosed
	}
	id := c.nextID
	c.nextID++
	c.hooks[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}, nil
}

// shutdown marks the connection dead and fires the death hooks
func (c *wsClient) shutdown() {
	c.once.Do(func() {
		close(c.closed)

		c.mu.Lock()
		c.dead = true
		hooks := make([]func(), 0, len(c.hooks))
		for _, fn := range c.hooks {
			hooks = append(hooks, fn)
		}
		c.hooks = nil
		c.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}
		c.conn.Close()
	})
}

func (c *wsClient) currentToken() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *wsClient) setToken(t uuid.UUID) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case v := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(v); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and serves register/unregister
// requests until the peer disconnects
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(conn)
	defer c.shutdown()
	go c.writeLoop()

	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)
	ctx := r.Context()
	registered := false

	for {
		var msg ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case "register":
			token := c.currentToken()
			if msg.Token != "" {
				parsed, err := uuid.Parse(msg.Token)
				if err != nil {
					c.enqueue(ControlReply{Type: "error", Error: "invalid token"})
					continue
				}
				if registered && parsed != token {
					// one registration per connection
					if _, err := s.service.Unregister(ctx, token); err != nil {
						c.enqueue(ControlReply{Type: "error", Error: err.Error()})
						continue
					}
					registered = false
				}
				token = parsed
				c.setToken(token)
			}
			err := s.service.Register(ctx, clients.Client{Token: token, Reply: c, Liveness: c})
			if err != nil {
				c.enqueue(ControlReply{Type: "error", Error: err.Error()})
				continue
			}
			registered = true
			c.enqueue(ControlReply{Type: "registered", Token: token.String()})

		case "unregister":
			token := c.currentToken()
			removed, err := s.service.Unregister(ctx, token)
			if err != nil {
				c.enqueue(ControlReply{Type: "error", Error: err.Error()})
				continue
			}
			registered = false
			if !removed {
				slog.Debug("Unregister for unknown client", "token", token)
			}
			c.enqueue(ControlReply{Type: "unregistered", Token: token.String()})

		default:
			c.enqueue(ControlReply{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}
