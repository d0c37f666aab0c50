package rooms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxRoomCodeLength = 32
	maxFilePathLength = 255
)

var (
	// ErrInvalidRoomCode indicates that a room code is empty, too long, or not alphanumeric.
	ErrInvalidRoomCode = errors.New("rooms: invalid room code")
	// ErrInvalidFilePath indicates that a file path is empty or too long.
	ErrInvalidFilePath = errors.New("rooms: invalid file path")
)

// Role is a participant's role inside a room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleMentor      Role = "mentor"
	RoleParticipant Role = "participant"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// RoomCode is a validated opaque short room identifier.
type RoomCode string

// NewRoomCode validates raw input and returns a RoomCode.
func NewRoomCode(rawInput string) (RoomCode, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomCode)
	}
	if len(trimmed) > maxRoomCodeLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomCode, maxRoomCodeLength)
	}
	for _, r := range trimmed {
		if !isCodeRune(r) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidRoomCode, r)
		}
	}
	return RoomCode(trimmed), nil
}

// String returns the underlying code.
func (code RoomCode) String() string {
	return string(code)
}

func isCodeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// NormalizeFilePath validates a file path inside a room.
func NormalizeFilePath(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFilePath)
	}
	if len(trimmed) > maxFilePathLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFilePath, maxFilePathLength)
	}
	return trimmed, nil
}

// File is a source file embedded in a room.
type File struct {
	Path     string `json:"path" bson:"path"`
	Content  string `json:"content" bson:"content"`
	Language string `json:"language" bson:"language"`
}

// Participant is a room membership record.
type Participant struct {
	UserID   string    `json:"userId" bson:"userId"`
	Username string    `json:"username" bson:"username"`
	Role     Role      `json:"role" bson:"role"`
	CanEdit  bool      `json:"canEdit" bson:"canEdit"`
	Online   bool      `json:"online" bson:"online"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}

// Permissions holds room-wide permission flags.
type Permissions struct {
	DefaultCanEdit bool `json:"defaultCanEdit" bson:"defaultCanEdit"`
}

// Recording captures whether the room is currently being recorded.
type Recording struct {
	Active    bool       `json:"active" bson:"active"`
	StartedAt *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	StartedBy string     `json:"startedBy,omitempty" bson:"startedBy,omitempty"`
}

// Room is the persisted collaborative session document.
type Room struct {
	Code         RoomCode      `json:"roomId" bson:"_id"`
	OwnerID      string        `json:"ownerId" bson:"ownerId"`
	Name         string        `json:"name" bson:"name"`
	Language     string        `json:"language" bson:"language"`
	Files        []File        `json:"files" bson:"files"`
	Participants []Participant `json:"participants" bson:"participants"`
	Permissions  Permissions   `json:"permissions" bson:"permissions"`
	Recording    Recording     `json:"recording" bson:"recording"`
	Whiteboard   string        `json:"whiteboard" bson:"whiteboard"`
	Status       Status        `json:"status" bson:"status"`
	CreatedAt    time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// IsOwner reports whether userID created the room.
func (r *Room) IsOwner(userID string) bool {
	return userID != "" && r.OwnerID == userID
}

// RealtimeRole computes the relay role: the owner is the mentor, everyone else a participant.
func (r *Room) RealtimeRole(userID string) Role {
	if r.IsOwner(userID) {
		return RoleMentor
	}
	return RoleParticipant
}

// FindParticipant returns the index of userID in the participant list, or -1.
func (r *Room) FindParticipant(userID string) int {
	for index := range r.Participants {
		if r.Participants[index].UserID == userID {
			return index
		}
	}
	return -1
}

// AddParticipant appends a participant unless the user is already listed.
// It reports whether a new entry was added; an existing entry is marked online.
func (r *Room) AddParticipant(participant Participant) (Participant, bool) {
	if index := r.FindParticipant(participant.UserID); index >= 0 {
		existing := &r.Participants[index]
		existing.Online = true
		if participant.Username != "" {
			existing.Username = participant.Username
		}
		return *existing, false
	}
	participant.Online = true
	r.Participants = append(r.Participants, participant)
	return participant, true
}

// RemoveParticipant deletes the participant and reports whether one was removed.
func (r *Room) RemoveParticipant(userID string) bool {
	index := r.FindParticipant(userID)
	if index < 0 {
		return false
	}
	r.Participants = append(r.Participants[:index], r.Participants[index+1:]...)
	return true
}

// OnlineParticipants returns the participants currently connected.
func (r *Room) OnlineParticipants() []Participant {
	online := make([]Participant, 0, len(r.Participants))
	for _, participant := range r.Participants {
		if participant.Online {
			online = append(online, participant)
		}
	}
	return online
}

// CanEdit reports the persisted edit capability of userID; the owner can always edit.
func (r *Room) CanEdit(userID string) bool {
	if r.IsOwner(userID) {
		return true
	}
	if index := r.FindParticipant(userID); index >= 0 {
		return r.Participants[index].CanEdit
	}
	return false
}

// UpsertFile replaces the content of the file at path or appends a new entry.
// It reports whether a new file was appended.
func (r *Room) UpsertFile(file File) bool {
	for index := range r.Files {
		if r.Files[index].Path == file.Path {
			r.Files[index].Content = file.Content
			if file.Language != "" {
				r.Files[index].Language = file.Language
			}
			return false
		}
	}
	if file.Language == "" {
		file.Language = r.Language
	}
	r.Files = append(r.Files, file)
	return true
}
