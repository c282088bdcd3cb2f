package server

import (
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/npezzotti/go-chatrelay/internal/typing"
)

// Room is a named set of connections. Its mutex serializes membership
// changes, chat fan-out and typing state, so every broadcast sees the member
// set either before or after a concurrent join or leave.
type Room struct {
	name    string
	log     *log.Logger
	stats   stats.StatsProvider
	mu      sync.Mutex
	clients map[*Client]struct{}
	typing  *typing.Tracker
	// closed is set when the last member leaves; a closed room is never
	// joined again and is replaced in the directory.
	closed bool
}

func newRoom(name string, typingTimeout time.Duration, l *log.Logger, su stats.StatsProvider) *Room {
	r := &Room{
		name:    name,
		log:     l,
		stats:   su,
		clients: make(map[*Client]struct{}),
	}
	r.typing = typing.NewTracker(typingTimeout, r.expireTyping)

	return r
}

func (r *Room) Name() string {
	return r.name
}

// join adds c and notifies the other members. It returns the resulting member
// count, or false if the room has been closed.
func (r *Room) join(c *Client) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, false
	}

	r.clients[c] = struct{}{}
	c.setRoom(r)
	r.log.Printf("%q joined room %q, members: %d", c.Username(), r.name, len(r.clients))

	// the joiner is not sent its own join notice
	r.broadcast(UserJoined(c.Username()), c)

	return len(r.clients), true
}

// leave removes c and notifies the remaining members. It reports whether
// the room is now empty and closed.
func (r *Room) leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.setRoom(nil)

	username := c.Username()
	r.log.Printf("%q left room %q, members: %d", username, r.name, len(r.clients))

	if !r.hasUser(username) && r.typing.Stop(username) {
		r.broadcastExceptUser(UserStopTyping(r.user(username)), username)
	}

	r.broadcast(UserLeft(username), nil)

	if len(r.clients) == 0 {
		r.closed = true
		r.typing.Clear()
		return true
	}

	return false
}

// Publish relays a chat message from sender to every other member.
func (r *Room) Publish(sender *Client, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrInvalidMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[sender]; !ok {
		return ErrNotSubscribed
	}

	r.broadcast(UpdateChat(types.ChatMessage{
		Username:       sender.Username(),
		MessageContent: content,
		RoomName:       r.name,
	}), sender)
	r.stats.Incr(stats.MessagesRelayed)

	return nil
}

// StartTyping starts or refreshes the typing session of c's user. Only the
// start of a session is announced.
func (r *Room) StartTyping(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return ErrNotSubscribed
	}

	username := c.Username()
	if r.typing.Start(username) {
		r.broadcastExceptUser(UserTyping(r.user(username)), username)
	}

	return nil
}

func (r *Room) StopTyping(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return ErrNotSubscribed
	}

	username := c.Username()
	if r.typing.Stop(username) {
		r.broadcastExceptUser(UserStopTyping(r.user(username)), username)
	}

	return nil
}

func (r *Room) expireTyping(username string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.typing.Expire(username, gen) {
		r.broadcastExceptUser(UserStopTyping(r.user(username)), username)
	}
}

// Members returns the sorted usernames of the current members.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.clients))
	for c := range r.clients {
		names = append(names, c.Username())
	}
	slices.Sort(names)

	return names
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) user(username string) types.User {
	return types.User{Username: username, RoomName: r.name}
}

func (r *Room) hasUser(username string) bool {
	for c := range r.clients {
		if c.Username() == username {
			return true
		}
	}
	return false
}

// broadcast must be called with r.mu held.
func (r *Room) broadcast(msg *ServerMessage, skip *Client) {
	for c := range r.clients {
		if c == skip {
			continue
		}

		c.queueMessage(msg)
	}
}

// broadcastExceptUser must be called with r.mu held.
func (r *Room) broadcastExceptUser(msg *ServerMessage, username string) {
	for c := range r.clients {
		if c.Username() == username {
			continue
		}

		c.queueMessage(msg)
	}
}
