package models

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrInvalidMessage = errors.New("invalid message")

const (
	MaxMessageLength  = 1000
	MaxGameNameLength = 100
)

type ClientMessageType string

const (
	ClientMessageTypeAuthenticate ClientMessageType = "authenticate"
	ClientMessageTypeJoinRoom     ClientMessageType = "join_room"
	ClientMessageTypeSendMessage  ClientMessageType = "send_message"
	ClientMessageTypeTyping       ClientMessageType = "typing"
	ClientMessageTypeStopTyping   ClientMessageType = "stop_typing"
	ClientMessageTypeStatusUpdate ClientMessageType = "status_update"
	ClientMessageTypeGameStatus   ClientMessageType = "game_status"
)

// ClientMessage represents a frame sent from the client to the server.
// Type selects which of the other fields are meaningful.
type ClientMessage struct {
	Type        ClientMessageType `json:"type"`
	Token       string            `json:"token,omitempty"`
	Room        string            `json:"room,omitempty"`
	Message     string            `json:"message,omitempty"`
	MessageType string            `json:"messageType,omitempty"`
	ReceiverID  string            `json:"receiverId,omitempty"`
	Status      UserStatus        `json:"status,omitempty"`
	GameName    string            `json:"gameName,omitempty"`
	IsPlaying   bool              `json:"isPlaying,omitempty"`
}

var messageTypes = map[string]bool{
	"text":        true,
	"image":       true,
	"file":        true,
	"game_status": true,
}

// Validate checks the fields required by the frame type.
// It fills in the default message type for send_message frames.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case ClientMessageTypeAuthenticate:
		if m.Token == "" {
			return fmt.Errorf("%w: no token provided", ErrInvalidMessage)
		}
	case ClientMessageTypeJoinRoom, ClientMessageTypeTyping, ClientMessageTypeStopTyping:
		if m.Room == "" {
			return fmt.Errorf("%w: room is required", ErrInvalidMessage)
		}
	case ClientMessageTypeSendMessage:
		if m.Room == "" {
			return fmt.Errorf("%w: room is required", ErrInvalidMessage)
		}
		n := utf8.RuneCountInString(m.Message)
		if n == 0 || n > MaxMessageLength {
			return fmt.Errorf("%w: message must be between 1 and %d characters", ErrInvalidMessage, MaxMessageLength)
		}
		if m.MessageType == "" {
			m.MessageType = "text"
		}
		if !messageTypes[m.MessageType] {
			return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.MessageType)
		}
	case ClientMessageTypeStatusUpdate:
		if !m.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, m.Status)
		}
	case ClientMessageTypeGameStatus:
		if m.IsPlaying && m.GameName == "" {
			return fmt.Errorf("%w: game name is required", ErrInvalidMessage)
		}
		if utf8.RuneCountInString(m.GameName) > MaxGameNameLength {
			return fmt.Errorf("%w: game name is too long", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

type ServerMessageType string

const (
	ServerMessageTypeAuthenticated     ServerMessageType = "authenticated"
	ServerMessageTypeAuthError         ServerMessageType = "auth_error"
	ServerMessageTypeError             ServerMessageType = "error"
	ServerMessageTypeNotification      ServerMessageType = "notification"
	ServerMessageTypeReceiveMessage    ServerMessageType = "receive_message"
	ServerMessageTypeRoomHistory       ServerMessageType = "room_history"
	ServerMessageTypeUserJoined        ServerMessageType = "user_joined"
	ServerMessageTypeUserTyping        ServerMessageType = "user_typing"
	ServerMessageTypeUserStopTyping    ServerMessageType = "user_stop_typing"
	ServerMessageTypeUserStatusChanged ServerMessageType = "user_status_changed"
)

// ServerMessage represents a frame sent to the client.
type ServerMessage struct {
	Type         ServerMessageType `json:"type"`
	Error        string            `json:"error,omitempty"`
	User         *UserSummary      `json:"user,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
	Room         string            `json:"room,omitempty"`
	Username     string            `json:"username,omitempty"`
	Status       UserStatus        `json:"status,omitempty"`
	Text         string            `json:"text,omitempty"`
	Messages     []RoomMessage     `json:"messages,omitempty"`
	Timestamp    int64             `json:"timestamp,omitempty"`
}

// RoomMessage is a chat line as it is delivered to room members.
type RoomMessage struct {
	Seq         int64  `json:"seq"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	HTML        string `json:"html"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
}

func ErrorMessage(t ServerMessageType, err string) ServerMessage {
	return ServerMessage{Type: t, Error: err}
}
