package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGateway_Scenarios(t *testing.T) {
	t.Run("two users chat in a room", func(t *testing.T) {
		cs := newTestChatServer(t, testConfig())
		a := newTestClient(t, cs)
		b := newTestClient(t, cs)

		subscribe(t, a, "alice", "R-01")
		subscribe(t, b, "bob", "R-01")

		msg := expectEvent(t, a, EventUserJoined)
		assert.Equal(t, "bob", msg.Data)
		expectNoEvent(t, b, 20*time.Millisecond)

		_, err := b.handle(envelope(t, EventNewMessage, types.ChatMessage{
			Username:       "bob",
			MessageContent: "hi",
			RoomName:       "R-01",
		}))
		require.NoError(t, err)

		msg = expectEvent(t, a, EventUpdateChat)
		assert.Equal(t, types.ChatMessage{Username: "bob", MessageContent: "hi", RoomName: "R-01"}, msg.Data)
		expectNoEvent(t, b, 20*time.Millisecond)
	})

	t.Run("typing burst then message", func(t *testing.T) {
		cfg := testConfig()
		cfg.TypingTimeout = time.Second
		cs := newTestChatServer(t, cfg)
		a := newTestClient(t, cs)
		b := newTestClient(t, cs)
		subscribe(t, a, "alice", "R-01")
		subscribe(t, b, "bob", "R-01")
		expectEvent(t, a, EventUserJoined)

		user := types.User{Username: "alice", RoomName: "R-01"}
		for range 3 {
			_, err := a.handle(envelope(t, EventTyping, user))
			require.NoError(t, err)
		}
		_, err := a.handle(envelope(t, EventStopTyping, user))
		require.NoError(t, err)
		_, err = a.handle(envelope(t, EventNewMessage, types.ChatMessage{MessageContent: "yo", RoomName: "R-01"}))
		require.NoError(t, err)

		msg := expectEvent(t, b, EventUserTyping)
		assert.Equal(t, user, msg.Data)
		msg = expectEvent(t, b, EventUserStopTyping)
		assert.Equal(t, user, msg.Data)
		msg = expectEvent(t, b, EventUpdateChat)
		assert.Equal(t, "yo", msg.Data.(types.ChatMessage).MessageContent)
		expectNoEvent(t, b, 20*time.Millisecond)
	})

	t.Run("disconnect notifies the room", func(t *testing.T) {
		cs := newTestChatServer(t, testConfig())
		a := newTestClient(t, cs)
		b := newTestClient(t, cs)
		subscribe(t, a, "alice", "R-01")
		subscribe(t, b, "bob", "R-01")
		expectEvent(t, a, EventUserJoined)

		b.cleanup()

		msg := expectEvent(t, a, EventUserLeft)
		assert.Equal(t, "bob", msg.Data)
		assert.Equal(t, []string{"alice"}, cs.Members("R-01"))

		a.cleanup()
		assert.Nil(t, cs.Members("R-01"), "expected room to be pruned")
		assert.Equal(t, 0, cs.NumConnections())
	})

	t.Run("rooms are isolated", func(t *testing.T) {
		cs := newTestChatServer(t, testConfig())
		a := newTestClient(t, cs)
		b := newTestClient(t, cs)
		c := newTestClient(t, cs)
		subscribe(t, a, "alice", "R-01")
		subscribe(t, b, "bob", "R-02")
		subscribe(t, c, "carol", "R-02")
		expectEvent(t, b, EventUserJoined)

		_, err := c.handle(envelope(t, EventNewMessage, types.ChatMessage{MessageContent: "hello"}))
		require.NoError(t, err)

		expectEvent(t, b, EventUpdateChat)
		expectNoEvent(t, a, 20*time.Millisecond)
	})
}

func TestGateway_Rejections(t *testing.T) {
	tcs := []struct {
		name       string
		subscribed bool
		frame      func(t *testing.T) []byte
		wantEvent  string
		wantErr    error
	}{
		{
			name:      "message before subscribe",
			frame:     func(t *testing.T) []byte { return envelope(t, EventNewMessage, types.ChatMessage{MessageContent: "hi"}) },
			wantEvent: EventNewMessage,
			wantErr:   ErrNotSubscribed,
		},
		{
			name:      "typing before subscribe",
			frame:     func(t *testing.T) []byte { return envelope(t, EventTyping, types.User{RoomName: "R-01"}) },
			wantEvent: EventTyping,
			wantErr:   ErrNotSubscribed,
		},
		{
			name:      "unknown event",
			frame:     func(t *testing.T) []byte { return envelope(t, "dance", nil) },
			wantEvent: "dance",
			wantErr:   ErrUnknownEvent,
		},
		{
			name:    "malformed frame",
			frame:   func(t *testing.T) []byte { return []byte(`{"event":`) },
			wantErr: ErrMalformedEvent,
		},
		{
			name:      "subscribe without username",
			frame:     func(t *testing.T) []byte { return envelope(t, EventSubscribe, types.User{RoomName: "R-01"}) },
			wantEvent: EventSubscribe,
			wantErr:   ErrMalformedEvent,
		},
		{
			name:      "subscribe with blank room",
			frame:     func(t *testing.T) []byte { return envelope(t, EventSubscribe, types.User{Username: "alice", RoomName: "  "}) },
			wantEvent: EventSubscribe,
			wantErr:   ErrMalformedEvent,
		},
		{
			name:      "subscribe with wrong payload type",
			frame:     func(t *testing.T) []byte { return envelope(t, EventSubscribe, []string{"alice"}) },
			wantEvent: EventSubscribe,
			wantErr:   ErrMalformedEvent,
		},
		{
			name:       "empty message",
			subscribed: true,
			frame:      func(t *testing.T) []byte { return envelope(t, EventNewMessage, types.ChatMessage{MessageContent: " "}) },
			wantEvent:  EventNewMessage,
			wantErr:    ErrInvalidMessage,
		},
		{
			name:       "message for another room",
			subscribed: true,
			frame: func(t *testing.T) []byte {
				return envelope(t, EventNewMessage, types.ChatMessage{MessageContent: "hi", RoomName: "R-02"})
			},
			wantEvent: EventNewMessage,
			wantErr:   ErrRoomMismatch,
		},
		{
			name:       "typing for another room",
			subscribed: true,
			frame:      func(t *testing.T) []byte { return envelope(t, EventTyping, types.User{RoomName: "R-02"}) },
			wantEvent:  EventTyping,
			wantErr:    ErrRoomMismatch,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cs := newTestChatServer(t, testConfig())
			c := newTestClient(t, cs)
			observer := newTestClient(t, cs)
			subscribe(t, observer, "observer", "R-01")
			if tc.subscribed {
				subscribe(t, c, "alice", "R-01")
				expectEvent(t, observer, EventUserJoined)
			}

			event, err := c.handle(tc.frame(t))
			assert.Equal(t, tc.wantEvent, event, "expected rejected event name")
			assert.ErrorIs(t, err, tc.wantErr)

			c.reject(event, err)
			msg := expectEvent(t, c, EventError)
			payload := msg.Data.(ErrorPayload)
			assert.Equal(t, 400, payload.Code)
			assert.Equal(t, tc.wantErr.Error(), payload.Error)
			assert.Equal(t, tc.wantEvent, payload.Event)

			expectNoEvent(t, observer, 20*time.Millisecond)
		})
	}
}

func TestGateway_DoubleSubscribe(t *testing.T) {
	cs := newTestChatServer(t, testConfig())
	a := newTestClient(t, cs)
	b := newTestClient(t, cs)
	observer := newTestClient(t, cs)
	subscribe(t, observer, "observer", "R-02")
	subscribe(t, a, "alice", "R-01")
	subscribe(t, b, "bob", "R-01")
	expectEvent(t, a, EventUserJoined)

	event, err := b.handle(envelope(t, EventSubscribe, types.User{Username: "bobby", RoomName: "R-02"}))
	assert.Equal(t, EventSubscribe, event)
	assert.ErrorIs(t, err, ErrAlreadyBound)

	b.reject(event, err)
	msg := expectEvent(t, b, EventError)
	assert.Equal(t, 409, msg.Data.(ErrorPayload).Code)

	expectNoEvent(t, a, 20*time.Millisecond)
	expectNoEvent(t, observer, 20*time.Millisecond)
	assert.Equal(t, "bob", b.Username(), "expected original binding to be kept")
	assert.Equal(t, []string{"alice", "bob"}, cs.Members("R-01"))
	assert.Equal(t, []string{"observer"}, cs.Members("R-02"))

	// the connection stays usable after a rejection
	_, err = b.handle(envelope(t, EventNewMessage, types.ChatMessage{MessageContent: "still here"}))
	require.NoError(t, err)
	expectEvent(t, a, EventUpdateChat)
}

func TestGateway_StringEncodedPayloads(t *testing.T) {
	cs := newTestChatServer(t, testConfig())
	a := newTestClient(t, cs)
	b := newTestClient(t, cs)
	subscribe(t, a, "alice", "R-01")

	encode := func(v any) string {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return string(raw)
	}

	_, err := b.handle(envelope(t, EventSubscribe, encode(types.User{Username: "bob", RoomName: "R-01"})))
	require.NoError(t, err)
	expectEvent(t, a, EventUserJoined)

	_, err = b.handle(envelope(t, EventNewMessage, encode(types.ChatMessage{
		Username:       "bob",
		MessageContent: "from android",
		RoomName:       "R-01",
	})))
	require.NoError(t, err)

	msg := expectEvent(t, a, EventUpdateChat)
	assert.Equal(t, "from android", msg.Data.(types.ChatMessage).MessageContent)
}

func TestGateway_BoundUsernameWins(t *testing.T) {
	cs := newTestChatServer(t, testConfig())
	a := newTestClient(t, cs)
	b := newTestClient(t, cs)
	subscribe(t, a, "alice", "R-01")
	subscribe(t, b, "bob", "R-01")
	expectEvent(t, a, EventUserJoined)

	_, err := b.handle(envelope(t, EventNewMessage, types.ChatMessage{Username: "alice", MessageContent: "spoof"}))
	require.NoError(t, err)

	msg := expectEvent(t, a, EventUpdateChat)
	assert.Equal(t, "bob", msg.Data.(types.ChatMessage).Username, "expected the bound username")
}

func TestGateway_RateLimit(t *testing.T) {
	cs := newTestChatServer(t, testConfig())
	a := newTestClient(t, cs)
	a.limiter = rate.NewLimiter(0, 1)

	subscribe(t, a, "alice", "R-01")

	event, err := a.handle(envelope(t, EventTyping, types.User{RoomName: "R-01"}))
	assert.Equal(t, EventTyping, event)
	assert.ErrorIs(t, err, ErrRateLimited)

	a.reject(event, err)
	msg := expectEvent(t, a, EventError)
	assert.Equal(t, 429, msg.Data.(ErrorPayload).Code)
}

func TestGateway_RateLimitMalformedFrames(t *testing.T) {
	cs := newTestChatServer(t, testConfig())
	a := newTestClient(t, cs)
	subscribe(t, a, "alice", "R-01")
	a.limiter = rate.NewLimiter(0, 1)

	_, err := a.handle([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedEvent, "expected the first frame to use the burst")

	for range 50 {
		_, err := a.handle([]byte("{not json"))
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.NotErrorIs(t, err, ErrMalformedEvent)
		assert.Equal(t, http.StatusTooManyRequests, errorCode(err))
	}
}
