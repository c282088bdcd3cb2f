package server

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})

	t.Run("channel full", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", stats.DroppedEvents).Return().Once()

		c := &Client{
			chatServer: &ChatServer{stats: su},
			send:       make(chan *ServerMessage, 1),
			log:        testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{Event: EventUpdateChat})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
		assert.Len(t, c.send, 1, "expected queued message to be kept")
	})
}

func Test_serializeMessage(t *testing.T) {
	tcs := []struct {
		name string
		msg  *ServerMessage
		want string
	}{
		{
			name: "join notice",
			msg:  UserJoined("bob"),
			want: `{"event":"newUserToChatRoom","data":"bob"}`,
		},
		{
			name: "chat message",
			msg: UpdateChat(types.ChatMessage{
				Username:       "bob",
				MessageContent: "hi",
				RoomName:       "R-01",
				MessageType:    types.ChatMine,
			}),
			want: `{"event":"updateChat","data":{"username":"bob","messageContent":"hi","roomName":"R-01"}}`,
		},
		{
			name: "typing",
			msg:  UserTyping(types.User{Username: "alice", RoomName: "R-01"}),
			want: `{"event":"userTyping","data":{"username":"alice","roomName":"R-01"}}`,
		},
		{
			name: "error",
			msg:  ErrorMessage(EventSubscribe, ErrAlreadyBound),
			want: `{"event":"error","data":{"code":409,"error":"connection already subscribed","event":"subscribe"}}`,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := serializeMessage(tc.msg)
			require.NoError(t, err, "expected no error serializing message")
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func Test_decodePayload(t *testing.T) {
	want := types.User{Username: "alice", RoomName: "R-01"}

	tcs := []struct {
		name    string
		raw     string
		want    types.User
		wantErr bool
	}{
		{name: "object", raw: `{"username":"alice","roomName":"R-01"}`, want: want},
		{name: "string encoded object", raw: `"{\"username\":\"alice\",\"roomName\":\"R-01\"}"`, want: want},
		{name: "absent", raw: ``},
		{name: "null", raw: `null`},
		{name: "not an object", raw: `42`, wantErr: true},
		{name: "string without object", raw: `"alice"`, wantErr: true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var got types.User
			err := decodePayload(json.RawMessage(tc.raw), &got)
			if tc.wantErr {
				assert.Error(t, err, "expected decode error")
				return
			}

			assert.NoError(t, err, "expected no decode error")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClient_Close(t *testing.T) {
	c := &Client{stop: make(chan struct{})}

	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	}, "expected Close to be idempotent")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestClient_State(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "connected", c.getState().String())

	require.NoError(t, c.bind("alice", "R-01"))
	assert.Equal(t, "subscribed", c.getState().String())
	assert.ErrorIs(t, c.bind("alice", "R-01"), ErrAlreadyBound)

	assert.True(t, c.markClosed(), "expected client to have been subscribed")
	assert.Equal(t, "closed", c.getState().String())
	assert.False(t, c.markClosed(), "expected closed client not to report a binding")
	assert.ErrorIs(t, c.bind("bob", "R-01"), ErrUnknownConnection)

	assert.Equal(t, "unknown", connState(42).String())
}

func TestClient_reject(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("Incr", stats.RejectedEvents).Return().Once()

	c := &Client{
		id:         "abc",
		chatServer: &ChatServer{stats: su},
		send:       make(chan *ServerMessage, 1),
		log:        testutil.TestLogger(t),
	}

	c.reject(EventNewMessage, &ProtocolError{Event: EventNewMessage, Err: ErrNotSubscribed})

	msg := <-c.send
	assert.Equal(t, EventError, msg.Event)
	assert.Equal(t, ErrorPayload{
		Code:  400,
		Error: ErrNotSubscribed.Error(),
		Event: EventNewMessage,
	}, msg.Data)
}
