package types

// MessageType classifies a chat entry from the point of view of the client
// rendering it. The relay never assigns it.
type MessageType string

const (
	ChatMine    MessageType = "CHAT_MINE"
	ChatPartner MessageType = "CHAT_PARTNER"
	UserJoin    MessageType = "USER_JOIN"
	UserLeave   MessageType = "USER_LEAVE"
)

// User names a member of a room. It is the payload of the subscribe and
// typing events in both directions.
type User struct {
	Username string `json:"username"`
	RoomName string `json:"roomName"`
}

type ChatMessage struct {
	Username       string      `json:"username"`
	MessageContent string      `json:"messageContent"`
	RoomName       string      `json:"roomName"`
	MessageType    MessageType `json:"messageType,omitempty"`
}

// Perspective returns a copy of msg tagged with t.
func (msg ChatMessage) Perspective(t MessageType) ChatMessage {
	msg.MessageType = t
	return msg
}
