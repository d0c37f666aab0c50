package rooms

import (
	"context"
	"errors"
)

var (
	// ErrRoomNotFound indicates that no room document exists for the code.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrRoomExists indicates that a room document already exists for the code.
	ErrRoomExists = errors.New("rooms: room already exists")
)

// Store persists room documents. Implementations replace whole documents on Save;
// there is no optimistic concurrency token.
type Store interface {
	Create(ctx context.Context, room Room) error
	Get(ctx context.Context, code RoomCode) (Room, error)
	Save(ctx context.Context, room Room) error
	ListByOwner(ctx context.Context, ownerID string) ([]Room, error)
}
