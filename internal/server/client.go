package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type connState int

const (
	stateConnected connState = iota
	stateSubscribed
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateSubscribed:
		return "subscribed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one relay connection. The read pump is the only goroutine that
// dispatches its inbound events, so they are handled in receipt order.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once

	mu       sync.RWMutex
	state    connState
	username string
	roomName string
	room     *Room
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, cs.cfg.SendBufferSize),
		limiter:    rate.NewLimiter(rate.Limit(cs.cfg.RateLimit), cs.cfg.RateBurst),
		stop:       make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) RoomName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomName
}

func (c *Client) getState() connState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// bind moves the client from connected to subscribed. It succeeds once.
func (c *Client) bind(username, roomName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateSubscribed:
		return ErrAlreadyBound
	case stateClosed:
		return ErrUnknownConnection
	}

	c.username = username
	c.roomName = roomName
	c.state = stateSubscribed
	return nil
}

// markClosed moves the client to closed and reports whether it had been
// subscribed.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasBound := c.state == stateSubscribed
	c.state = stateClosed
	return wasBound
}

func (c *Client) getRoom() *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.chatServer.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.chatServer.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("client %s: %v", c.id, &TransportError{Op: "read", Err: err})
			}
			return
		}

		if event, err := c.handle(raw); err != nil {
			c.reject(event, err)
		}
	}
}

// handle decodes and dispatches one inbound frame. It returns the event name
// alongside any rejection so the error event can reference it.
func (c *Client) handle(raw []byte) (string, error) {
	var msg ClientMessage
	decodeErr := json.Unmarshal(raw, &msg)

	// every frame counts against the limit, undecodable ones included
	if !c.limiter.Allow() {
		return msg.Event, ErrRateLimited
	}
	if decodeErr != nil {
		return "", malformed("", decodeErr)
	}

	return msg.Event, c.chatServer.dispatch(c, &msg)
}

func (c *Client) reject(event string, err error) {
	c.log.Printf("client %s: rejected %q: %v", c.id, event, err)
	c.chatServer.stats.Incr(stats.RejectedEvents)
	c.queueMessage(ErrorMessage(event, err))
}

// queueMessage enqueues msg without blocking. A full queue drops msg for this
// client only.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("client %s: send queue full, dropping %q", c.id, msg.Event)
		c.chatServer.stats.Incr(stats.DroppedEvents)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("client %s: %v", c.id, &TransportError{Op: "write", Err: err})
		}
		return false
	}

	return true
}

// Close stops the write pump, which closes the socket and in turn ends the
// read pump and its cleanup.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.registry.Unregister(c.id)
	c.Close()
}
