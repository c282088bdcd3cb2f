package typing

import (
	"time"
)

// DefaultTimeout matches the mobile client's keystroke debounce.
const DefaultTimeout = 2000 * time.Millisecond

// ExpireFunc is invoked from a timer goroutine when a typing session has not
// been refreshed within the timeout. The receiver should take whatever lock
// serializes the tracker and then call Expire with the same arguments.
type ExpireFunc func(username string, gen uint64)

type session struct {
	gen   uint64
	timer *time.Timer
}

// Tracker holds the typing sessions of a single room, one per username.
//
// A Tracker is not safe for concurrent use. Its owner serializes every call,
// including the Expire calls that follow an ExpireFunc notification.
type Tracker struct {
	timeout  time.Duration
	onExpire ExpireFunc
	sessions map[string]*session
	gen      uint64
}

func NewTracker(timeout time.Duration, onExpire ExpireFunc) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Tracker{
		timeout:  timeout,
		onExpire: onExpire,
		sessions: make(map[string]*session),
	}
}

// Start begins or refreshes the typing session for username. It reports
// whether a new session was started; refreshes of a running session return
// false so that a burst of keystrokes is announced only once.
func (t *Tracker) Start(username string) bool {
	t.gen++

	if s, ok := t.sessions[username]; ok {
		s.timer.Stop()
		s.gen = t.gen
		s.timer = t.arm(username, s.gen)
		return false
	}

	t.sessions[username] = &session{
		gen:   t.gen,
		timer: t.arm(username, t.gen),
	}

	return true
}

// Stop ends the typing session for username. It reports whether a session
// was running, so a second Stop is a no-op.
func (t *Tracker) Stop(username string) bool {
	s, ok := t.sessions[username]
	if !ok {
		return false
	}

	s.timer.Stop()
	delete(t.sessions, username)
	return true
}

// Expire ends the session for username if gen still identifies it. Fires
// from timers that were since refreshed or stopped are ignored.
func (t *Tracker) Expire(username string, gen uint64) bool {
	s, ok := t.sessions[username]
	if !ok || s.gen != gen {
		return false
	}

	delete(t.sessions, username)
	return true
}

// Clear stops every pending timer and forgets all sessions.
func (t *Tracker) Clear() {
	for username, s := range t.sessions {
		s.timer.Stop()
		delete(t.sessions, username)
	}
}

func (t *Tracker) Active(username string) bool {
	_, ok := t.sessions[username]
	return ok
}

func (t *Tracker) Len() int {
	return len(t.sessions)
}

func (t *Tracker) arm(username string, gen uint64) *time.Timer {
	return time.AfterFunc(t.timeout, func() {
		if t.onExpire != nil {
			t.onExpire(username, gen)
		}
	})
}
