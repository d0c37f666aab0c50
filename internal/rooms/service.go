package rooms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"go.uber.org/zap"
)

const (
	opServiceNew     = "rooms.service.new"
	opCreateRoom     = "rooms.create_room"
	opGetRoom        = "rooms.get_room"
	opListRooms      = "rooms.list_rooms"
	opJoinRoom       = "rooms.join_room"
	opLeaveRoom      = "rooms.leave_room"
	opMarkOffline    = "rooms.mark_offline"
	opSetAccess      = "rooms.set_access"
	opSaveFile       = "rooms.save_file"
	opSaveWhiteboard = "rooms.save_whiteboard"
	opSetRecording   = "rooms.set_recording"
	opCloseRoom      = "rooms.close_room"

	maxCodeAttempts = 3
)

var (
	errMissingStore         = errors.New("room store is required")
	errMissingCodeGenerator = errors.New("code generator is required")
	noOpLogger              = zap.NewNop()
)

// ServiceConfig describes the dependencies of the room service.
type ServiceConfig struct {
	Store         Store
	CodeGenerator CodeGenerator
	Notifier      notify.Publisher
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service owns every read-modify-write on room documents.
// Mutations of the same room are serialized within the process.
type Service struct {
	store    Store
	codes    CodeGenerator
	notifier notify.Publisher
	clock    func() time.Time
	logger   *zap.Logger
	locks    sync.Map
}

// NewService constructs a room service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(apperr.KindInternal, opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.CodeGenerator == nil {
		return nil, apperr.New(apperr.KindInternal, opServiceNew, "missing_code_generator", errMissingCodeGenerator)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:    cfg.Store,
		codes:    cfg.CodeGenerator,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}, nil
}

// CreateRoomRequest carries the input for CreateRoom.
type CreateRoomRequest struct {
	OwnerID     string
	OwnerName   string
	Name        string
	Language    string
	Files       []File
	Permissions Permissions
}

// CreateRoom persists a new active room with the owner as its first participant.
func (s *Service) CreateRoom(ctx context.Context, request CreateRoomRequest) (Room, error) {
	ownerID := strings.TrimSpace(request.OwnerID)
	if ownerID == "" {
		return Room{}, apperr.New(apperr.KindValidation, opCreateRoom, "missing_owner", nil)
	}
	language := strings.ToLower(strings.TrimSpace(request.Language))
	if language == "" {
		return Room{}, apperr.New(apperr.KindValidation, opCreateRoom, "missing_language", nil)
	}

	now := s.clock().UTC()
	room := Room{
		OwnerID:  ownerID,
		Name:     strings.TrimSpace(request.Name),
		Language: language,
		Files:    make([]File, 0, len(request.Files)),
		Participants: []Participant{{
			UserID:   ownerID,
			Username: strings.TrimSpace(request.OwnerName),
			Role:     RoleOwner,
			CanEdit:  true,
			JoinedAt: now,
		}},
		Permissions: request.Permissions,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, file := range request.Files {
		path, err := NormalizeFilePath(file.Path)
		if err != nil {
			return Room{}, apperr.New(apperr.KindValidation, opCreateRoom, "invalid_file_path", err)
		}
		file.Path = path
		room.UpsertFile(file)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		rawCode, err := s.codes.NewCode()
		if err != nil {
			s.logError(opCreateRoom, "code_generation_failed", err)
			return Room{}, apperr.New(apperr.KindInternal, opCreateRoom, "code_generation_failed", err)
		}
		code, err := NewRoomCode(rawCode)
		if err != nil {
			s.logError(opCreateRoom, "code_generation_failed", err)
			return Room{}, apperr.New(apperr.KindInternal, opCreateRoom, "code_generation_failed", err)
		}
		room.Code = code
		err = s.store.Create(ctx, room)
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		if err != nil {
			s.logError(opCreateRoom, "insert_failed", err, zap.String("room_id", code.String()))
			return Room{}, apperr.New(apperr.KindInternal, opCreateRoom, "insert_failed", err)
		}
		return room, nil
	}
	return Room{}, apperr.New(apperr.KindConflict, opCreateRoom, "code_collision", ErrRoomExists)
}

// GetRoom returns the persisted room document.
func (s *Service) GetRoom(ctx context.Context, rawCode string) (Room, error) {
	code, err := NewRoomCode(rawCode)
	if err != nil {
		return Room{}, apperr.New(apperr.KindNotFound, opGetRoom, "room_not_found", err)
	}
	return s.load(ctx, opGetRoom, code)
}

// ListOwnedRooms returns the rooms created by ownerID, newest first.
func (s *Service) ListOwnedRooms(ctx context.Context, ownerID string) ([]Room, error) {
	rooms, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logError(opListRooms, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperr.New(apperr.KindInternal, opListRooms, "query_failed", err)
	}
	return rooms, nil
}

// JoinResult describes the outcome of JoinRoom.
type JoinResult struct {
	Room        Room
	Participant Participant
	// Role is the realtime role: mentor for the owner, participant otherwise.
	Role  Role
	Added bool
}

// JoinRoom adds userID to the room's participants, or marks an existing entry online.
// Joining twice never duplicates the participant.
func (s *Service) JoinRoom(ctx context.Context, rawCode, userID, username string) (JoinResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return JoinResult{}, apperr.New(apperr.KindValidation, opJoinRoom, "missing_user_id", nil)
	}
	var result JoinResult
	room, err := s.mutate(ctx, opJoinRoom, rawCode, func(room *Room) error {
		if room.Status == StatusClosed {
			return apperr.New(apperr.KindValidation, opJoinRoom, "room_closed", nil)
		}
		role := RoleParticipant
		if room.IsOwner(userID) {
			role = RoleOwner
		}
		participant, added := room.AddParticipant(Participant{
			UserID:   userID,
			Username: strings.TrimSpace(username),
			Role:     role,
			CanEdit:  role == RoleOwner || room.Permissions.DefaultCanEdit,
			JoinedAt: s.clock().UTC(),
		})
		result.Participant = participant
		result.Added = added
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	result.Room = room
	result.Role = room.RealtimeRole(userID)
	return result, nil
}

// LeaveRoom removes userID from the participant list.
func (s *Service) LeaveRoom(ctx context.Context, rawCode, userID string) (Room, error) {
	return s.mutate(ctx, opLeaveRoom, rawCode, func(room *Room) error {
		if !room.RemoveParticipant(userID) {
			return apperr.New(apperr.KindNotFound, opLeaveRoom, "participant_not_found", nil)
		}
		return nil
	})
}

// MarkOffline flags userID as disconnected while keeping its membership and edit grant.
func (s *Service) MarkOffline(ctx context.Context, rawCode, userID string) error {
	_, err := s.mutate(ctx, opMarkOffline, rawCode, func(room *Room) error {
		index := room.FindParticipant(userID)
		if index < 0 {
			return apperr.New(apperr.KindNotFound, opMarkOffline, "participant_not_found", nil)
		}
		room.Participants[index].Online = false
		return nil
	})
	return err
}

// SetAccess grants or revokes edit capability. Only the owner may change access,
// and the owner's own access cannot be revoked.
func (s *Service) SetAccess(ctx context.Context, rawCode, actorID, targetID string, canEdit bool) (Participant, error) {
	var updated Participant
	_, err := s.mutate(ctx, opSetAccess, rawCode, func(room *Room) error {
		if !room.IsOwner(actorID) {
			return apperr.New(apperr.KindForbidden, opSetAccess, "not_room_mentor", nil)
		}
		if room.IsOwner(targetID) {
			return apperr.New(apperr.KindValidation, opSetAccess, "mentor_access_fixed", nil)
		}
		index := room.FindParticipant(targetID)
		if index < 0 {
			return apperr.New(apperr.KindNotFound, opSetAccess, "participant_not_found", nil)
		}
		room.Participants[index].CanEdit = canEdit
		updated = room.Participants[index]
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	return updated, nil
}

// SaveFile replaces the content of a file by path, or appends it when the path is new.
func (s *Service) SaveFile(ctx context.Context, rawCode, actorID string, file File) (Room, error) {
	path, err := NormalizeFilePath(file.Path)
	if err != nil {
		return Room{}, apperr.New(apperr.KindValidation, opSaveFile, "invalid_file_path", err)
	}
	file.Path = path
	return s.mutate(ctx, opSaveFile, rawCode, func(room *Room) error {
		if room.Status == StatusClosed {
			return apperr.New(apperr.KindValidation, opSaveFile, "room_closed", nil)
		}
		if !room.CanEdit(actorID) {
			return apperr.New(apperr.KindForbidden, opSaveFile, "edit_access_required", nil)
		}
		room.UpsertFile(file)
		return nil
	})
}

// SaveWhiteboard stores the serialized whiteboard blob.
func (s *Service) SaveWhiteboard(ctx context.Context, rawCode, actorID, blob string) (Room, error) {
	return s.mutate(ctx, opSaveWhiteboard, rawCode, func(room *Room) error {
		if room.Status == StatusClosed {
			return apperr.New(apperr.KindValidation, opSaveWhiteboard, "room_closed", nil)
		}
		if room.FindParticipant(actorID) < 0 && !room.IsOwner(actorID) {
			return apperr.New(apperr.KindForbidden, opSaveWhiteboard, "not_a_participant", nil)
		}
		room.Whiteboard = blob
		return nil
	})
}

// SetRecording starts or stops recording; owner only.
func (s *Service) SetRecording(ctx context.Context, rawCode, actorID string, active bool) (Room, error) {
	return s.mutate(ctx, opSetRecording, rawCode, func(room *Room) error {
		if !room.IsOwner(actorID) {
			return apperr.New(apperr.KindForbidden, opSetRecording, "not_room_mentor", nil)
		}
		if room.Status == StatusClosed {
			return apperr.New(apperr.KindValidation, opSetRecording, "room_closed", nil)
		}
		if active == room.Recording.Active {
			return nil
		}
		if active {
			startedAt := s.clock().UTC()
			room.Recording = Recording{Active: true, StartedAt: &startedAt, StartedBy: actorID}
		} else {
			room.Recording = Recording{}
		}
		return nil
	})
}

// CloseRoom marks the room closed and notifies every participant; owner only.
func (s *Service) CloseRoom(ctx context.Context, rawCode, actorID string) (Room, error) {
	room, err := s.mutate(ctx, opCloseRoom, rawCode, func(room *Room) error {
		if !room.IsOwner(actorID) {
			return apperr.New(apperr.KindForbidden, opCloseRoom, "not_room_mentor", nil)
		}
		room.Status = StatusClosed
		room.Recording = Recording{}
		for index := range room.Participants {
			room.Participants[index].Online = false
		}
		return nil
	})
	if err != nil {
		return Room{}, err
	}
	for _, participant := range room.Participants {
		if participant.UserID == actorID {
			continue
		}
		s.notifier.Publish(notify.Message{
			UserID:    participant.UserID,
			EventType: notify.EventRoomClosed,
			Payload:   map[string]any{"roomId": room.Code.String(), "name": room.Name},
		})
	}
	return room, nil
}

func (s *Service) load(ctx context.Context, operation string, code RoomCode) (Room, error) {
	room, err := s.store.Get(ctx, code)
	if errors.Is(err, ErrRoomNotFound) {
		return Room{}, apperr.New(apperr.KindNotFound, operation, "room_not_found", err)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("room_id", code.String()))
		return Room{}, apperr.New(apperr.KindInternal, operation, "query_failed", err)
	}
	return room, nil
}

// mutate loads the room, applies change, and saves the whole document under the room's lock.
func (s *Service) mutate(ctx context.Context, operation, rawCode string, change func(room *Room) error) (Room, error) {
	code, err := NewRoomCode(rawCode)
	if err != nil {
		return Room{}, apperr.New(apperr.KindNotFound, operation, "room_not_found", err)
	}

	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.load(ctx, operation, code)
	if err != nil {
		return Room{}, err
	}
	if err := change(&room); err != nil {
		return Room{}, err
	}
	room.UpdatedAt = s.clock().UTC()
	if err := s.store.Save(ctx, room); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return Room{}, apperr.New(apperr.KindNotFound, operation, "room_not_found", err)
		}
		s.logError(operation, "save_failed", err, zap.String("room_id", code.String()))
		return Room{}, apperr.New(apperr.KindInternal, operation, "save_failed", err)
	}
	return room, nil
}

func (s *Service) lockFor(code RoomCode) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(code, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("rooms service error", attrs...)
}
