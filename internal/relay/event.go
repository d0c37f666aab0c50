package relay

import (
	"encoding/json"
)

// Client to server events.
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventCodeChange      = "code-change"
	EventChatMessage     = "chat-message"
	EventRequestAccess   = "request-access"
	EventGrantAccess     = "grant-access"
	EventRevokeAccess    = "revoke-access"
	EventCursorChange    = "cursor-change"
	EventWhiteboardDraw  = "whiteboard-draw"
	EventWhiteboardClear = "whiteboard-clear"
	EventFileCreated     = "file-created"
)

// Server to client events.
const (
	EventRoomJoined = "room-joined"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventError      = "error"
)

// Envelope is the frame carried by every socket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomScoped struct {
	RoomID string `json:"roomId"`
}

// JoinPayload is the data of a join-room event.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Member describes a connected room member.
type Member struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RoomJoinedPayload acknowledges a successful join to the joining connection only.
type RoomJoinedPayload struct {
	RoomID  string   `json:"roomId"`
	Role    string   `json:"role"`
	CanEdit bool     `json:"canEdit"`
	Members []Member `json:"members"`
}

// UserLeftPayload is broadcast when a member leaves or disconnects.
type UserLeftPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// AccessPayload is the data of grant-access and revoke-access events.
type AccessPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ErrorPayload is sent to the originating connection when a handler fails.
type ErrorPayload struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// stampIdentity overwrites the sender identity fields of a relayed payload.
func stampIdentity(data json.RawMessage, userID, username string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}
	encodedUserID, err := json.Marshal(userID)
	if err != nil {
		return nil, err
	}
	fields["userId"] = encodedUserID
	if username != "" {
		encodedUsername, err := json.Marshal(username)
		if err != nil {
			return nil, err
		}
		fields["username"] = encodedUsername
	}
	return json.Marshal(fields)
}
