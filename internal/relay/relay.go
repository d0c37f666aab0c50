// Package relay fans realtime room events out between connected sockets.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer = 64
	storeTimeout      = 5 * time.Second
)

var (
	errMissingRoomService = errors.New("relay: room service is required")
	errMalformedFrame     = errors.New("malformed message")
	errUnknownEvent       = errors.New("unknown event")
	errNotInRoom          = errors.New("not joined to this room")
	errEditAccessRequired = errors.New("edit access required")
	errMentorOnly         = errors.New("only the mentor can change access")
	errMissingTarget      = errors.New("target user is required")
	errMissingIdentity    = errors.New("user id is required")
)

// RoomService is the persisted side of room membership and permissions.
type RoomService interface {
	JoinRoom(ctx context.Context, code, userID, username string) (rooms.JoinResult, error)
	LeaveRoom(ctx context.Context, code, userID string) (rooms.Room, error)
	MarkOffline(ctx context.Context, code, userID string) error
	SetAccess(ctx context.Context, code, actorID, targetID string, canEdit bool) (rooms.Participant, error)
}

// Config describes the relay's dependencies.
type Config struct {
	Rooms      RoomService
	Logger     *zap.Logger
	SendBuffer int
}

// Relay routes inbound events to the hub. It performs no merging: every mutation
// is rebroadcast as received and the last one observed by a client wins.
type Relay struct {
	hub        *Hub
	rooms      RoomService
	logger     *zap.Logger
	sendBuffer int
	nextID     atomic.Uint64
}

// NewRelay constructs a Relay.
func NewRelay(cfg Config) (*Relay, error) {
	if cfg.Rooms == nil {
		return nil, errMissingRoomService
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Relay{
		hub:        NewHub(),
		rooms:      cfg.Rooms,
		logger:     logger,
		sendBuffer: sendBuffer,
	}, nil
}

// NewClient registers a new connection for identity.
func (r *Relay) NewClient(identity Identity) *Client {
	return newClient(r.nextID.Add(1), identity, r.sendBuffer)
}

// Members lists the sessions currently connected to roomID.
func (r *Relay) Members(roomID string) []Member {
	clients := r.hub.Clients(roomID)
	members := make([]Member, 0, len(clients))
	seen := make(map[string]struct{}, len(clients))
	for _, client := range clients {
		session := client.Session()
		if _, ok := seen[session.UserID]; ok {
			continue
		}
		seen[session.UserID] = struct{}{}
		members = append(members, Member{
			UserID:   session.UserID,
			Username: session.Username,
			Role:     string(session.Role),
		})
	}
	return members
}

// Close closes every connected client's outbound queue, which ends its socket.
func (r *Relay) Close() {
	for _, client := range r.hub.All() {
		client.close()
	}
}

// Handle decodes one inbound frame and dispatches it. Failures are reported to the
// originating client as an error event and never affect other members.
func (r *Relay) Handle(ctx context.Context, client *Client, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		r.sendError(client, errMalformedFrame)
		return
	}
	if err := r.dispatch(ctx, client, envelope); err != nil {
		r.logger.Warn("relay event failed",
			zap.String("event", envelope.Event),
			zap.Uint64("client_id", client.ID()),
			zap.Error(err))
		r.sendError(client, err)
	}
}

func (r *Relay) dispatch(ctx context.Context, client *Client, envelope Envelope) error {
	var scope roomScoped
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &scope); err != nil {
			return errMalformedFrame
		}
	}
	roomID := strings.TrimSpace(scope.RoomID)

	switch envelope.Event {
	case EventJoinRoom:
		if roomID == "" {
			return nil
		}
		var payload JoinPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return errMalformedFrame
		}
		return r.Join(ctx, client, roomID, payload.UserID, payload.Username)
	case EventLeaveRoom:
		if roomID == "" {
			return nil
		}
		return r.Leave(ctx, client, roomID)
	case EventCodeChange, EventFileCreated:
		if roomID == "" {
			return nil
		}
		return r.relayEdit(client, roomID, envelope)
	case EventChatMessage, EventCursorChange, EventWhiteboardDraw, EventWhiteboardClear:
		if roomID == "" {
			return nil
		}
		return r.relayToOthers(client, roomID, envelope)
	case EventRequestAccess:
		if roomID == "" {
			return nil
		}
		return r.requestAccess(client, roomID, envelope)
	case EventGrantAccess, EventRevokeAccess:
		if roomID == "" {
			return nil
		}
		var payload AccessPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return errMalformedFrame
		}
		return r.changeAccess(ctx, client, roomID, strings.TrimSpace(payload.UserID), envelope.Event == EventGrantAccess)
	default:
		return errUnknownEvent
	}
}

// Join admits client into roomID's broadcast group. The persisted participant is
// written first; the authenticated identity, when present, overrides userID.
func (r *Relay) Join(ctx context.Context, client *Client, roomID, userID, username string) error {
	if client.identity.UserID != "" {
		userID = client.identity.UserID
		if strings.TrimSpace(username) == "" {
			username = client.identity.Username
		}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errMissingIdentity
	}

	if previous := client.Session(); previous.Joined() && previous.RoomID != roomID {
		r.detach(ctx, client, false)
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	result, err := r.rooms.JoinRoom(storeCtx, roomID, userID, username)
	if err != nil {
		return err
	}

	mentor := result.Role == rooms.RoleMentor
	session := Session{
		RoomID:     roomID,
		UserID:     userID,
		Username:   strings.TrimSpace(username),
		Role:       result.Role,
		Permission: NewPermission(mentor, result.Participant.CanEdit),
	}
	client.setSession(session)
	r.hub.Add(roomID, client)

	r.logger.Debug("relay join",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("role", string(session.Role)))

	if err := r.send(client, EventRoomJoined, RoomJoinedPayload{
		RoomID:  roomID,
		Role:    string(session.Role),
		CanEdit: session.Permission.CanEdit(),
		Members: r.Members(roomID),
	}); err != nil {
		return err
	}
	return r.broadcast(roomID, EventUserJoined, Member{
		UserID:   userID,
		Username: session.Username,
		Role:     string(session.Role),
	}, client)
}

// Leave removes client from roomID and deletes the persisted participant.
func (r *Relay) Leave(ctx context.Context, client *Client, roomID string) error {
	if client.Session().RoomID != roomID {
		return errNotInRoom
	}
	r.detach(ctx, client, true)
	return nil
}

// Disconnect tears down a closed connection: the participant is marked offline and
// the rest of the room is told the user left.
func (r *Relay) Disconnect(ctx context.Context, client *Client) {
	r.detach(ctx, client, false)
	client.close()
}

func (r *Relay) detach(ctx context.Context, client *Client, explicit bool) {
	session := client.clearSession()
	if !session.Joined() {
		return
	}
	r.hub.Remove(session.RoomID, client)
	if r.hub.HasUser(session.RoomID, session.UserID, client) {
		return
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	var err error
	if explicit {
		_, err = r.rooms.LeaveRoom(storeCtx, session.RoomID, session.UserID)
	} else {
		err = r.rooms.MarkOffline(storeCtx, session.RoomID, session.UserID)
	}
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		r.logger.Warn("relay membership update failed",
			zap.String("room_id", session.RoomID),
			zap.String("user_id", session.UserID),
			zap.Bool("explicit", explicit),
			zap.Error(err))
	}

	r.logger.Debug("relay leave",
		zap.String("room_id", session.RoomID),
		zap.String("user_id", session.UserID))

	if err := r.broadcast(session.RoomID, EventUserLeft, UserLeftPayload{
		UserID:   session.UserID,
		Username: session.Username,
	}, client); err != nil {
		r.logger.Warn("relay user-left broadcast failed", zap.Error(err))
	}
}

func (r *Relay) memberSession(client *Client, roomID string) (Session, error) {
	session := client.Session()
	if session.RoomID != roomID || !r.hub.Contains(roomID, client) {
		return Session{}, errNotInRoom
	}
	return session, nil
}

func (r *Relay) relayEdit(client *Client, roomID string, envelope Envelope) error {
	session, err := r.memberSession(client, roomID)
	if err != nil {
		return err
	}
	if !session.Permission.CanEdit() {
		return errEditAccessRequired
	}
	return r.forward(session, envelope, client)
}

func (r *Relay) relayToOthers(client *Client, roomID string, envelope Envelope) error {
	session, err := r.memberSession(client, roomID)
	if err != nil {
		return err
	}
	return r.forward(session, envelope, client)
}

func (r *Relay) requestAccess(client *Client, roomID string, envelope Envelope) error {
	session, err := r.memberSession(client, roomID)
	if err != nil {
		return err
	}
	var announce bool
	client.updatePermission(func(current Permission) Permission {
		next, changed := current.Request()
		announce = changed
		return next
	})
	if !announce {
		return nil
	}
	return r.forward(session, envelope, client)
}

// changeAccess handles a socket grant or revoke from the room mentor.
func (r *Relay) changeAccess(ctx context.Context, client *Client, roomID, targetID string, grant bool) error {
	session, err := r.memberSession(client, roomID)
	if err != nil {
		return err
	}
	if session.Role != rooms.RoleMentor {
		return errMentorOnly
	}
	if targetID == "" {
		return errMissingTarget
	}
	_, err = r.ApplyAccess(ctx, roomID, session.UserID, targetID, grant)
	return err
}

// ApplyAccess writes a grant or revoke through to the room document, updates every
// live connection of the target, then broadcasts it to the entire room including
// the actor. REST and socket access changes both go through here.
func (r *Relay) ApplyAccess(ctx context.Context, roomID, actorID, targetID string, grant bool) (rooms.Participant, error) {
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	participant, err := r.rooms.SetAccess(storeCtx, roomID, actorID, targetID, grant)
	if err != nil {
		return rooms.Participant{}, err
	}

	for _, member := range r.hub.Clients(roomID) {
		if member.Session().UserID != targetID {
			continue
		}
		member.updatePermission(func(current Permission) Permission {
			if grant {
				return current.Grant()
			}
			next, _ := current.Revoke()
			return next
		})
	}

	event := EventRevokeAccess
	if grant {
		event = EventGrantAccess
	}
	if err := r.broadcast(roomID, event, AccessPayload{RoomID: roomID, UserID: targetID}, nil); err != nil {
		return participant, err
	}
	return participant, nil
}

func (r *Relay) forward(session Session, envelope Envelope, sender *Client) error {
	data, err := stampIdentity(envelope.Data, session.UserID, session.Username)
	if err != nil {
		return errMalformedFrame
	}
	frame, err := json.Marshal(Envelope{Event: envelope.Event, Data: data})
	if err != nil {
		return err
	}
	r.hub.Broadcast(session.RoomID, frame, sender)
	return nil
}

func (r *Relay) broadcast(roomID, event string, data any, except *Client) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	r.hub.Broadcast(roomID, frame, except)
	return nil
}

func (r *Relay) send(client *Client, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	client.enqueue(frame)
	return nil
}

func (r *Relay) sendError(client *Client, err error) {
	if sendErr := r.send(client, EventError, ErrorPayload{Message: errorMessage(err)}); sendErr != nil {
		r.logger.Warn("relay error delivery failed", zap.Error(sendErr))
	}
}

func errorMessage(err error) string {
	if appErr, ok := apperr.As(err); ok {
		switch appErr.Reason() {
		case "room_not_found":
			return "room not found"
		case "room_closed":
			return "room is closed"
		case "participant_not_found":
			return "participant not found"
		case "mentor_access_fixed":
			return "mentor access cannot change"
		case "not_room_mentor":
			return errMentorOnly.Error()
		}
		if appErr.Kind() == apperr.KindInternal {
			return "internal error"
		}
		return strings.ReplaceAll(appErr.Reason(), "_", " ")
	}
	return err.Error()
}
