package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

type ChatServer struct {
	log       *log.Logger
	cfg       *config.Config
	stats     stats.StatsProvider
	registry  *Registry
	directory *Directory
	handlers  map[string]handlerFunc
	// mu orders connection admission against shutdown
	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup
}

func NewChatServer(logger *log.Logger, cfg *config.Config, su stats.StatsProvider) (*ChatServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	for _, name := range []string{
		stats.NumActiveClients,
		stats.NumActiveRooms,
		stats.MessagesRelayed,
		stats.DroppedEvents,
		stats.RejectedEvents,
	} {
		su.RegisterMetric(name)
	}

	cs := &ChatServer{
		log:       logger,
		cfg:       cfg,
		stats:     su,
		directory: NewDirectory(cfg.TypingTimeout, logger, su),
	}
	cs.registry = NewRegistry(cs.directory, logger, su)
	cs.handlers = cs.newDispatchTable()

	return cs, nil
}

// Connect registers a websocket connection and starts its pumps.
func (cs *ChatServer) Connect(conn *websocket.Conn) (*Client, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.shuttingDown {
		return nil, ErrShuttingDown
	}

	c := NewClient(conn, cs, cs.log)
	if _, err := cs.registry.Register(c); err != nil {
		return nil, err
	}

	cs.wg.Add(2)
	go c.Write()
	go c.Read()

	return c, nil
}

func (cs *ChatServer) ShuttingDown() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.shuttingDown
}

func (cs *ChatServer) NumConnections() int {
	return cs.registry.Len()
}

func (cs *ChatServer) NumRooms() int {
	return cs.directory.Len()
}

func (cs *ChatServer) Members(roomName string) []string {
	return cs.directory.Members(roomName)
}

// Shutdown refuses new connections, closes every live one and waits for
// their pumps to finish cleanup or for ctx to end.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.mu.Lock()
	cs.shuttingDown = true
	cs.mu.Unlock()

	cs.log.Printf("closing %d connections", cs.registry.Len())
	cs.registry.Each(func(c *Client) {
		c.Close()
	})

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
