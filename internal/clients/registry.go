package clients

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sender delivers events to one client
type Sender interface {
	Send(Event) error
}

// Linker notifies when the remote end of a client goes away. The returned
// unlink detaches the callback; after unlink returns, onDeath never fires.
type Linker interface {
	LinkToDeath(onDeath func()) (unlink func(), err error)
}

// Client is a registration request. Liveness is optional.
type Client struct {
	Token    uuid.UUID
	Reply    Sender
	Liveness Linker
}

type entry struct {
	client Client
	unlink func()
}

// Registry tracks connected clients by token and fans out events. The
// lock guards the map only; it is never held while sending or linking.
type Registry struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*entry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[uuid.UUID]*entry)}
}

// Register adds c, replacing any client with the same token. Once the
// liveness hook is attached, the current events are sent to c alone.
func (r *Registry) Register(c Client, current ...Event) error {
	if c.Reply == nil {
		return fmt.Errorf("client %s has no reply channel", c.Token)
	}

	e := &entry{client: c}

	var oldUnlink func()
	r.mu.Lock()
	old, replaced := r.clients[c.Token]
	if replaced {
		oldUnlink = old.unlink
	}
	r.clients[c.Token] = e
	r.mu.Unlock()

	if replaced {
		slog.Info("Replacing existing client registration", "token", c.Token)
		if oldUnlink != nil {
			oldUnlink()
		}
	}

	if c.Liveness != nil {
		unlink, err := c.Liveness.LinkToDeath(func() { r.died(c.Token, e) })
		if err != nil {
			r.removeIf(c.Token, e)
			return fmt.Errorf("failed to link client %s: %w", c.Token, err)
		}

		r.mu.Lock()
		if r.clients[c.Token] == e {
			e.unlink = unlink
			unlink = nil
		}
		r.mu.Unlock()

		// Replaced or removed while linking
		if unlink != nil {
			unlink()
			return nil
		}
	}

	for _, ev := range current {
		if err := c.Reply.Send(ev); err != nil {
			slog.Warn("Failed to send current status to client", "token", c.Token, "event", ev.String(), "error", err)
			break
		}
	}

	slog.Debug("Client registered", "token", c.Token)
	return nil
}

// Unregister removes the client and reports whether it was present
func (r *Registry) Unregister(token uuid.UUID) bool {
	var unlink func()
	r.mu.Lock()
	e, ok := r.clients[token]
	if ok {
		unlink = e.unlink
		delete(r.clients, token)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if unlink != nil {
		unlink()
	}
	slog.Debug("Client unregistered", "token", token)
	return true
}

// died is the liveness callback for e. It only removes e itself, so a late
// callback cannot drop a newer registration under the same token.
func (r *Registry) died(token uuid.UUID, e *entry) {
	if r.removeIf(token, e) {
		slog.Info("Client connection lost, unregistered", "token", token)
	}
}

func (r *Registry) removeIf(token uuid.UUID, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[token] != e {
		return false
	}
	delete(r.clients, token)
	return true
}

// Broadcast delivers ev to every client registered when it is called.
// A failing client is logged and skipped.
func (r *Registry) Broadcast(ev Event) {
	r.mu.Lock()
	targets := make([]Client, 0, len(r.clients))
	for _, e := range r.clients {
		targets = append(targets, e.client)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.Reply.Send(ev); err != nil {
			slog.Warn("Failed to deliver event", "token", c.Token, "event", ev.String(), "error", err)
		}
	}
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Has reports whether token is registered
func (r *Registry) Has(token uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[token]
	return ok
}

// Close detaches every liveness hook and forgets all clients
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.clients
	r.clients = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if e.unlink != nil {
			e.unlink()
		}
	}
	slog.Debug("Client registry closed", "released", len(entries))
}
