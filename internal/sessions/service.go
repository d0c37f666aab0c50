// Package sessions schedules mentoring sessions between mentors and students.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opSchedule     = "sessions.schedule"
	opListSessions = "sessions.list_sessions"
	opGetSession   = "sessions.get_session"
	opUpdateStatus = "sessions.update_status"
	opAttachRoom   = "sessions.attach_room"

	defaultDurationMinutes = 60
	minDurationMinutes     = 15
	maxDurationMinutes     = 240
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("user directory is required")
	errMissingRooms     = errors.New("room directory is required")
)

// UserDirectory resolves accounts.
type UserDirectory interface {
	Get(ctx context.Context, userID string) (users.User, error)
}

// RoomDirectory resolves collaboration rooms.
type RoomDirectory interface {
	GetRoom(ctx context.Context, code string) (rooms.Room, error)
}

// ServiceConfig describes the dependencies of the session service.
type ServiceConfig struct {
	Database *gorm.DB
	Users    UserDirectory
	Rooms    RoomDirectory
	Notifier notify.Publisher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages mentoring sessions.
type Service struct {
	db       *gorm.DB
	users    UserDirectory
	rooms    RoomDirectory
	notifier notify.Publisher
	now      func() time.Time
	logger   *zap.Logger
}

// NewService constructs the session service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, "sessions.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil {
		return nil, apperr.New(apperr.KindInternal, "sessions.service.new", "missing_user_directory", errMissingDirectory)
	}
	if cfg.Rooms == nil {
		return nil, apperr.New(apperr.KindInternal, "sessions.service.new", "missing_room_directory", errMissingRooms)
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
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, users: cfg.Users, rooms: cfg.Rooms, notifier: notifier, now: clock, logger: logger}, nil
}

// ScheduleRequest carries booking input from a student.
type ScheduleRequest struct {
	StudentID       string
	MentorID        string
	Topic           string
	ScheduledAt     time.Time
	DurationMinutes int
}

// Schedule books a session with a mentor and notifies the mentor.
func (s *Service) Schedule(ctx context.Context, request ScheduleRequest) (Session, error) {
	studentID := strings.TrimSpace(request.StudentID)
	mentorID := strings.TrimSpace(request.MentorID)
	if studentID == "" {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "missing_student_id", nil)
	}
	if mentorID == "" {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "missing_mentor_id", nil)
	}
	if mentorID == studentID {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "self_booking", nil)
	}
	now := s.now().UTC()
	if !request.ScheduledAt.After(now) {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "scheduled_in_past", nil)
	}
	duration := request.DurationMinutes
	if duration == 0 {
		duration = defaultDurationMinutes
	}
	if duration < minDurationMinutes || duration > maxDurationMinutes {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "invalid_duration", nil)
	}

	mentor, err := s.users.Get(ctx, mentorID)
	if apperr.Is(err, apperr.KindNotFound) {
		return Session{}, apperr.New(apperr.KindNotFound, opSchedule, "mentor_not_found", err)
	}
	if err != nil {
		return Session{}, err
	}
	if mentor.Role != users.RoleMentor {
		return Session{}, apperr.New(apperr.KindValidation, opSchedule, "not_a_mentor", nil)
	}

	session := Session{
		ID:              uuid.NewString(),
		MentorID:        mentor.ID,
		StudentID:       studentID,
		Topic:           strings.TrimSpace(request.Topic),
		ScheduledAt:     request.ScheduledAt.UTC(),
		DurationMinutes: duration,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opSchedule, "insert_failed", err, zap.String("mentor_id", mentorID))
		return Session{}, apperr.New(apperr.KindInternal, opSchedule, "insert_failed", err)
	}

	s.publish(notify.EventSessionScheduled, session.MentorID, session)
	return session, nil
}

// ListForUser returns the sessions userID takes part in, soonest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).
		Where("mentor_id = ? OR student_id = ?", userID, userID).
		Order("scheduled_at ASC").
		Find(&sessions).Error
	if err != nil {
		s.logError(opListSessions, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(apperr.KindInternal, opListSessions, "query_failed", err)
	}
	return sessions, nil
}

// Get loads a session visible to actorID.
func (s *Service) Get(ctx context.Context, sessionID, actorID string) (Session, error) {
	return s.load(ctx, opGetSession, sessionID, actorID)
}

// UpdateStatus completes or cancels a scheduled session and notifies the other party.
func (s *Service) UpdateStatus(ctx context.Context, sessionID, actorID string, status Status) (Session, error) {
	if status != StatusCompleted && status != StatusCancelled {
		return Session{}, apperr.New(apperr.KindValidation, opUpdateStatus, "invalid_status", nil)
	}
	session, err := s.load(ctx, opUpdateStatus, sessionID, actorID)
	if err != nil {
		return Session{}, err
	}
	if session.Status != StatusScheduled {
		return Session{}, apperr.New(apperr.KindValidation, opUpdateStatus, "invalid_transition", nil)
	}
	session.Status = status
	if err := s.save(ctx, opUpdateStatus, &session); err != nil {
		return Session{}, err
	}
	s.publish(notify.EventSessionUpdated, session.Counterpart(actorID), session)
	return session, nil
}

// AttachRoom links an existing collaboration room to the session.
func (s *Service) AttachRoom(ctx context.Context, sessionID, actorID, rawCode string) (Session, error) {
	room, err := s.rooms.GetRoom(ctx, rawCode)
	if apperr.Is(err, apperr.KindNotFound) {
		return Session{}, apperr.New(apperr.KindNotFound, opAttachRoom, "room_not_found", err)
	}
	if err != nil {
		return Session{}, err
	}
	session, err := s.load(ctx, opAttachRoom, sessionID, actorID)
	if err != nil {
		return Session{}, err
	}
	if session.Status != StatusScheduled {
		return Session{}, apperr.New(apperr.KindValidation, opAttachRoom, "session_not_scheduled", nil)
	}
	session.RoomCode = room.Code.String()
	if err := s.save(ctx, opAttachRoom, &session); err != nil {
		return Session{}, err
	}
	s.publish(notify.EventSessionUpdated, session.Counterpart(actorID), session)
	return session, nil
}

func (s *Service) load(ctx context.Context, operation, sessionID, actorID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(sessionID)).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, apperr.New(apperr.KindNotFound, operation, "session_not_found", err)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("session_id", sessionID))
		return Session{}, apperr.New(apperr.KindInternal, operation, "query_failed", err)
	}
	if !session.IsParticipant(actorID) {
		return Session{}, apperr.New(apperr.KindForbidden, operation, "not_a_participant", nil)
	}
	return session, nil
}

func (s *Service) save(ctx context.Context, operation string, session *Session) error {
	session.UpdatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		s.logError(operation, "save_failed", err, zap.String("session_id", session.ID))
		return apperr.New(apperr.KindInternal, operation, "save_failed", err)
	}
	return nil
}

func (s *Service) publish(eventType, userID string, session Session) {
	s.notifier.Publish(notify.Message{
		UserID:    userID,
		EventType: eventType,
		Payload: map[string]any{
			"sessionId":   session.ID,
			"status":      string(session.Status),
			"scheduledAt": session.ScheduledAt,
			"roomCode":    session.RoomCode,
		},
	})
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
	s.logger.Error("sessions service error", attrs...)
}
