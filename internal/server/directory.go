package server

import (
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/stats"
)

type JoinResult struct {
	Room    string
	Members int
	Created bool
}

// Directory maps room names to rooms. Its lock only covers the map; work
// inside a room is serialized by that room alone, so rooms do not contend
// with each other.
type Directory struct {
	mu            sync.Mutex
	rooms         map[string]*Room
	typingTimeout time.Duration
	log           *log.Logger
	stats         stats.StatsProvider
}

func NewDirectory(typingTimeout time.Duration, logger *log.Logger, su stats.StatsProvider) *Directory {
	return &Directory{
		rooms:         make(map[string]*Room),
		typingTimeout: typingTimeout,
		log:           logger,
		stats:         su,
	}
}

// Join adds c to roomName, creating the room on first use, and notifies the
// room's other members.
func (d *Directory) Join(roomName string, c *Client) (JoinResult, error) {
	if c.getRoom() != nil {
		return JoinResult{}, ErrAlreadyBound
	}

	for {
		r, created := d.getOrCreate(roomName)

		members, ok := r.join(c)
		if !ok {
			// emptied and closed between lookup and join
			continue
		}

		return JoinResult{Room: roomName, Members: members, Created: created}, nil
	}
}

// Leave removes c from its room, pruning the room once it is empty.
func (d *Directory) Leave(c *Client) {
	r := c.getRoom()
	if r == nil {
		return
	}

	if !r.leave(c) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rooms[r.name] == r {
		delete(d.rooms, r.name)
		d.stats.Decr(stats.NumActiveRooms)
		d.log.Printf("pruned empty room %q", r.name)
	}
}

// Room returns the live room with the given name.
func (d *Directory) Room(roomName string) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[roomName]
	return r, ok
}

// Members returns the usernames in roomName, or nil if no such room exists.
func (d *Directory) Members(roomName string) []string {
	r, ok := d.Room(roomName)
	if !ok {
		return nil
	}

	return r.Members()
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func (d *Directory) getOrCreate(roomName string) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[roomName]; ok {
		if !r.isClosed() {
			return r, false
		}

		// replace a closed room that has not been pruned yet; the count of
		// active rooms is unchanged
		r = newRoom(roomName, d.typingTimeout, d.log, d.stats)
		d.rooms[roomName] = r
		return r, true
	}

	r := newRoom(roomName, d.typingTimeout, d.log, d.stats)
	d.rooms[roomName] = r
	d.stats.Incr(stats.NumActiveRooms)
	d.log.Printf("created room %q", roomName)

	return r, true
}
