package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type handlerFunc func(c *Client, data json.RawMessage) error

func (cs *ChatServer) newDispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventSubscribe:  cs.handleSubscribe,
		EventNewMessage: cs.handleNewMessage,
		EventTyping:     cs.handleTyping,
		EventStopTyping: cs.handleStopTyping,
	}
}

func (cs *ChatServer) dispatch(c *Client, msg *ClientMessage) error {
	handler, ok := cs.handlers[msg.Event]
	if !ok {
		return &ProtocolError{Event: msg.Event, Err: ErrUnknownEvent}
	}

	if msg.Event != EventSubscribe && c.getState() != stateSubscribed {
		return &ProtocolError{Event: msg.Event, Err: ErrNotSubscribed}
	}

	return handler(c, msg.Data)
}

func (cs *ChatServer) handleSubscribe(c *Client, data json.RawMessage) error {
	var user types.User
	if err := decodePayload(data, &user); err != nil {
		return malformed(EventSubscribe, err)
	}

	user.Username = strings.TrimSpace(user.Username)
	user.RoomName = strings.TrimSpace(user.RoomName)
	if user.Username == "" || user.RoomName == "" {
		return malformed(EventSubscribe, errors.New("username and roomName are required"))
	}

	if err := cs.registry.Bind(c.id, user.Username, user.RoomName); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	res, err := cs.directory.Join(user.RoomName, c)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	c.log.Printf("client %s subscribed as %q to room %q (members: %d, new room: %t)",
		c.id, user.Username, res.Room, res.Members, res.Created)
	return nil
}

func (cs *ChatServer) handleNewMessage(c *Client, data json.RawMessage) error {
	var msg types.ChatMessage
	if err := decodePayload(data, &msg); err != nil {
		return malformed(EventNewMessage, err)
	}

	r, err := c.boundRoom(EventNewMessage, msg.RoomName)
	if err != nil {
		return err
	}

	return r.Publish(c, msg.MessageContent)
}

func (cs *ChatServer) handleTyping(c *Client, data json.RawMessage) error {
	var user types.User
	if err := decodePayload(data, &user); err != nil {
		return malformed(EventTyping, err)
	}

	r, err := c.boundRoom(EventTyping, user.RoomName)
	if err != nil {
		return err
	}

	return r.StartTyping(c)
}

func (cs *ChatServer) handleStopTyping(c *Client, data json.RawMessage) error {
	var user types.User
	if err := decodePayload(data, &user); err != nil {
		return malformed(EventStopTyping, err)
	}

	r, err := c.boundRoom(EventStopTyping, user.RoomName)
	if err != nil {
		return err
	}

	return r.StopTyping(c)
}

// boundRoom returns the room c is subscribed to. A payload naming a
// different room is rejected; an empty room name defers to the binding.
func (c *Client) boundRoom(event, roomName string) (*Room, error) {
	r := c.getRoom()
	if r == nil {
		return nil, &ProtocolError{Event: event, Err: ErrNotSubscribed}
	}

	if roomName = strings.TrimSpace(roomName); roomName != "" && roomName != r.name {
		return nil, &ProtocolError{Event: event, Err: ErrRoomMismatch}
	}

	return r, nil
}
