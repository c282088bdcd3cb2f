// Package client is a Go client for the relay's websocket protocol. It keeps
// a local chat history tagged from this user's perspective and applies the
// same typing debounce as the mobile clients.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	DefaultTypingDebounce = 2000 * time.Millisecond

	writeWait    = 10 * time.Second
	eventBacklog = 64
)

var (
	ErrNotSubscribed     = errors.New("client is not subscribed")
	ErrAlreadySubscribed = errors.New("client is already subscribed")
	ErrEmptyMessage      = errors.New("message content cannot be empty")
	ErrClosed            = errors.New("client is closed")
)

type Options struct {
	Logger *log.Logger
	// TypingDebounce is the window after a typing notice during which further
	// keystrokes send nothing, and the delay before an idle stop is sent.
	TypingDebounce time.Duration
}

type TypingUpdate struct {
	Username string
	Typing   bool
}

type Client struct {
	conn     *websocket.Conn
	log      *log.Logger
	debounce time.Duration

	// wmu serializes writes; gorilla connections allow one concurrent writer
	wmu sync.Mutex

	mu        sync.Mutex
	username  string
	roomName  string
	history   []types.ChatMessage
	typingJob *time.Timer
	closed    bool

	events  chan types.ChatMessage
	typing  chan TypingUpdate
	errs    chan server.ErrorPayload
	closing chan struct{}
	done    chan struct{}
}

// Dial connects to the relay websocket endpoint at url, for example
// ws://localhost:8000/ws.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}

	c := &Client{
		conn:     conn,
		log:      opts.Logger,
		debounce: opts.TypingDebounce,
		events:   make(chan types.ChatMessage, eventBacklog),
		typing:   make(chan TypingUpdate, eventBacklog),
		errs:     make(chan server.ErrorPayload, eventBacklog),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.read()

	return c, nil
}

// Events delivers chat entries received from the room, tagged CHAT_PARTNER,
// USER_JOIN or USER_LEAVE. It is closed when the connection ends. Entries
// arriving while the channel is full are dropped from the channel but kept
// in History.
func (c *Client) Events() <-chan types.ChatMessage {
	return c.events
}

// Typing delivers typing notices from other members. Notices arriving while
// the channel is full are dropped.
func (c *Client) Typing() <-chan TypingUpdate {
	return c.typing
}

// Errors delivers the relay's rejections of events sent by this client.
// Rejections arriving while the channel is full are dropped.
func (c *Client) Errors() <-chan server.ErrorPayload {
	return c.errs
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// History returns every chat entry seen so far, including this user's own
// messages, in order.
func (c *Client) History() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]types.ChatMessage, len(c.history))
	copy(history, c.history)
	return history
}

func (c *Client) Subscribe(username, roomName string) error {
	c.mu.Lock()
	if c.username != "" {
		c.mu.Unlock()
		return ErrAlreadySubscribed
	}
	c.username = username
	c.roomName = roomName
	c.mu.Unlock()

	return c.emit(server.EventSubscribe, types.User{Username: username, RoomName: roomName})
}

// Send records content locally as this user's message, ends any typing
// notice and relays the message to the room.
func (c *Client) Send(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	user, err := c.user()
	if err != nil {
		return err
	}

	msg := types.ChatMessage{
		Username:       user.Username,
		MessageContent: content,
		RoomName:       user.RoomName,
		MessageType:    types.ChatMine,
	}
	c.record(msg)

	if err := c.emit(server.EventStopTyping, user); err != nil {
		return err
	}

	return c.emit(server.EventNewMessage, msg)
}

// StartTyping announces that the user is typing. Calls within the debounce
// window of the last notice send nothing.
func (c *Client) StartTyping() error {
	user, err := c.user()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.typingJob != nil {
		c.mu.Unlock()
		return nil
	}
	c.typingJob = time.AfterFunc(c.debounce, c.finishTypingJob)
	c.mu.Unlock()

	return c.emit(server.EventTyping, user)
}

// StopTyping sends a stop notice once the debounce window has passed. It is
// a no-op while a typing window or another pending stop is running.
func (c *Client) StopTyping() error {
	user, err := c.user()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.typingJob != nil {
		return nil
	}

	c.typingJob = time.AfterFunc(c.debounce, func() {
		c.finishTypingJob()
		if err := c.emit(server.EventStopTyping, user); err != nil && !errors.Is(err, ErrClosed) {
			c.log.Printf("send stop typing: %v", err)
		}
	})

	return nil
}

// Close ends the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	if c.typingJob != nil {
		c.typingJob.Stop()
		c.typingJob = nil
	}
	c.mu.Unlock()

	close(c.closing)

	var err error
	select {
	case <-c.done:
		// the relay already ended the connection
	default:
		c.wmu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
	}

	c.conn.Close()
	<-c.done

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (c *Client) finishTypingJob() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typingJob = nil
}

func (c *Client) user() (types.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.User{}, ErrClosed
	}
	if c.username == "" {
		return types.User{}, ErrNotSubscribed
	}

	return types.User{Username: c.username, RoomName: c.roomName}, nil
}

func (c *Client) record(msg types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msg)
}

func (c *Client) emit(event string, data any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}

	return nil
}

func (c *Client) read() {
	defer func() {
		close(c.events)
		close(c.typing)
		close(c.errs)
		close(c.done)
	}()

	for {
		var msg server.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closing:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Printf("read: %v", err)
				}
			}
			return
		}

		if err := c.handle(&msg); err != nil {
			c.log.Printf("handle %q: %v", msg.Event, err)
		}
	}
}

func (c *Client) handle(msg *server.ClientMessage) error {
	c.mu.Lock()
	roomName := c.roomName
	c.mu.Unlock()

	switch msg.Event {
	case server.EventUserJoined, server.EventUserLeft:
		var username string
		if err := json.Unmarshal(msg.Data, &username); err != nil {
			return err
		}

		entry := types.ChatMessage{Username: username, RoomName: roomName}
		if msg.Event == server.EventUserJoined {
			entry.MessageContent = username + " joining the party"
			entry.MessageType = types.UserJoin
		} else {
			entry.MessageContent = username + " left the party"
			entry.MessageType = types.UserLeave
		}

		c.record(entry)
		deliver(c, c.events, "events", entry)
	case server.EventUpdateChat:
		var chat types.ChatMessage
		if err := json.Unmarshal(msg.Data, &chat); err != nil {
			return err
		}

		chat = chat.Perspective(types.ChatPartner)
		c.record(chat)
		deliver(c, c.events, "events", chat)
	case server.EventUserTyping, server.EventUserStopTyping:
		var user types.User
		if err := json.Unmarshal(msg.Data, &user); err != nil {
			return err
		}

		deliver(c, c.typing, "typing", TypingUpdate{
			Username: user.Username,
			Typing:   msg.Event == server.EventUserTyping,
		})
	case server.EventError:
		var payload server.ErrorPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return err
		}

		deliver(c, c.errs, "errors", payload)
	default:
		return errors.New("unexpected event")
	}

	return nil
}

// deliver hands v to ch without blocking the read loop. A full channel drops
// v so an undrained channel cannot stall the others.
func deliver[T any](c *Client, ch chan<- T, name string, v T) {
	select {
	case ch <- v:
	default:
		c.log.Printf("%s backlog full, dropping update", name)
	}
}
