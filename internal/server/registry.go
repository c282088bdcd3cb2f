package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/teris-io/shortid"
)

type leaver interface {
	Leave(c *Client)
}

// Registry tracks live connections by id together with their room binding.
type Registry struct {
	mu              sync.RWMutex
	clients         map[string]*Client
	leaver          leaver
	log             *log.Logger
	stats           stats.StatsProvider
	generateShortId func() (string, error)
}

func NewRegistry(l leaver, logger *log.Logger, su stats.StatsProvider) *Registry {
	return &Registry{
		clients:         make(map[string]*Client),
		leaver:          l,
		log:             logger,
		stats:           su,
		generateShortId: shortid.Generate,
	}
}

// Register assigns c a fresh connection id and starts tracking it.
func (r *Registry) Register(c *Client) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id, err := r.generateShortId()
		if err != nil {
			return "", fmt.Errorf("generate connection id: %w", err)
		}

		if _, taken := r.clients[id]; taken {
			continue
		}

		c.id = id
		r.clients[id] = c
		r.stats.Incr(stats.NumActiveClients)
		r.log.Printf("registered connection %s, active connections: %d", id, len(r.clients))
		return id, nil
	}
}

// Bind records the username and room of a connection. A connection can be
// bound only once in its lifetime.
func (r *Registry) Bind(id, username, roomName string) error {
	c, ok := r.Lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	if err := c.bind(username, roomName); err != nil {
		return err
	}

	r.log.Printf("bound connection %s to %q in room %q", id, username, roomName)
	return nil
}

func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// Unregister forgets the connection and, if it was bound, removes it from
// its room. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.stats.Decr(stats.NumActiveClients)
	r.log.Printf("unregistered connection %s", id)

	if c.markClosed() && r.leaver != nil {
		r.leaver.Leave(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Each calls fn for a snapshot of the registered connections.
func (r *Registry) Each(fn func(c *Client)) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		fn(c)
	}
}
