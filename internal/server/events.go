package server

import (
	"bytes"
	"encoding/json"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Inbound events.
const (
	EventSubscribe  = "subscribe"
	EventNewMessage = "newMessage"
	EventTyping     = "typing"
	EventStopTyping = "stopTyping"
)

// Outbound events.
const (
	EventUserJoined     = "newUserToChatRoom"
	EventUpdateChat     = "updateChat"
	EventUserLeft       = "userLeftChatRoom"
	EventUserTyping     = "userTyping"
	EventUserStopTyping = "userStopTyping"
	EventError          = "error"
)

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ErrorPayload struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
	Event string `json:"event,omitempty"`
}

func UserJoined(username string) *ServerMessage {
	return &ServerMessage{Event: EventUserJoined, Data: username}
}

func UserLeft(username string) *ServerMessage {
	return &ServerMessage{Event: EventUserLeft, Data: username}
}

func UpdateChat(msg types.ChatMessage) *ServerMessage {
	// perspective is assigned by the receiver
	msg.MessageType = ""
	return &ServerMessage{Event: EventUpdateChat, Data: msg}
}

func UserTyping(user types.User) *ServerMessage {
	return &ServerMessage{Event: EventUserTyping, Data: user}
}

func UserStopTyping(user types.User) *ServerMessage {
	return &ServerMessage{Event: EventUserStopTyping, Data: user}
}

func ErrorMessage(event string, err error) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data: ErrorPayload{
			Code:  errorCode(err),
			Error: reason(err),
			Event: event,
		},
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// decodePayload unmarshals an event payload into v. Payloads may be sent
// either as JSON objects or as JSON strings holding an encoded object, which
// is what socket-style mobile clients emit. An absent payload leaves v as is.
func decodePayload(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}

	return json.Unmarshal(raw, v)
}
