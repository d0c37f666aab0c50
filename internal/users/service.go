package users

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRegister      = "users.register"
	opAuthenticate  = "users.authenticate"
	opGetUser       = "users.get_user"
	opListMentors   = "users.list_mentors"
	opUpdateProfile = "users.update_profile"
	opRecordSolve   = "users.record_solve"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user accounts.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, "users.service.new", "missing_database", errMissingDatabase)
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
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// RegisterRequest carries sign-up input.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
	Role     string
}

// Register creates a new account. Admin accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (User, error) {
	email := strings.ToLower(normalize(request.Email))
	username := normalize(request.Username)
	if email == "" {
		return User{}, apperr.New(apperr.KindValidation, opRegister, "missing_email", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, apperr.New(apperr.KindValidation, opRegister, "invalid_email", err)
	}
	if username == "" {
		return User{}, apperr.New(apperr.KindValidation, opRegister, "missing_username", nil)
	}
	role, ok := ParseRole(request.Role)
	if !ok || role == RoleAdmin {
		return User{}, apperr.New(apperr.KindValidation, opRegister, "invalid_role", nil)
	}
	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return User{}, apperr.New(apperr.KindValidation, opRegister, "weak_password", err)
		}
		s.logError(opRegister, "hash_failed", err)
		return User{}, apperr.New(apperr.KindInternal, opRegister, "hash_failed", err)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		s.logError(opRegister, "query_failed", err)
		return User{}, apperr.New(apperr.KindInternal, opRegister, "query_failed", err)
	}
	if existing > 0 {
		return User{}, apperr.New(apperr.KindConflict, opRegister, "email_taken", nil)
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Achievements: []string{},
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, apperr.New(apperr.KindConflict, opRegister, "email_taken", err)
		}
		s.logError(opRegister, "insert_failed", err, zap.String("email", email))
		return User{}, apperr.New(apperr.KindInternal, opRegister, "insert_failed", err)
	}
	return user, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(normalize(email))).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(apperr.KindUnauthorized, opAuthenticate, "invalid_credentials", nil)
	}
	if err != nil {
		s.logError(opAuthenticate, "query_failed", err)
		return User{}, apperr.New(apperr.KindInternal, opAuthenticate, "query_failed", err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return User{}, apperr.New(apperr.KindUnauthorized, opAuthenticate, "invalid_credentials", err)
	}
	return user, nil
}

// Get returns the account with the provided identifier.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(apperr.KindNotFound, opGetUser, "user_not_found", err)
	}
	if err != nil {
		s.logError(opGetUser, "query_failed", err, zap.String("user_id", userID))
		return User{}, apperr.New(apperr.KindInternal, opGetUser, "query_failed", err)
	}
	return user, nil
}

// ListMentors returns mentors ordered by rating.
func (s *Service) ListMentors(ctx context.Context) ([]User, error) {
	var mentors []User
	if err := s.db.WithContext(ctx).
		Where("role = ?", RoleMentor).
		Order("username ASC").
		Find(&mentors).Error; err != nil {
		s.logError(opListMentors, "query_failed", err)
		return nil, apperr.New(apperr.KindInternal, opListMentors, "query_failed", err)
	}
	sortByRating(mentors)
	return mentors, nil
}

// ProfileUpdate carries optional profile changes; nil fields are left untouched.
type ProfileUpdate struct {
	Username        *string
	Bio             *string
	AvatarURL       *string
	Specializations []string
}

// UpdateProfile applies a profile update to the account.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if update.Username != nil {
		username := normalize(*update.Username)
		if username == "" {
			return User{}, apperr.New(apperr.KindValidation, opUpdateProfile, "missing_username", nil)
		}
		user.Username = username
	}
	if update.Bio != nil {
		user.Profile.Bio = normalize(*update.Bio)
	}
	if update.AvatarURL != nil {
		user.Profile.AvatarURL = normalize(*update.AvatarURL)
	}
	if update.Specializations != nil {
		if user.Role != RoleMentor {
			return User{}, apperr.New(apperr.KindForbidden, opUpdateProfile, "not_a_mentor", nil)
		}
		user.MentorProfile.Specializations = update.Specializations
	}
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		s.logError(opUpdateProfile, "save_failed", err, zap.String("user_id", userID))
		return User{}, apperr.New(apperr.KindInternal, opUpdateProfile, "save_failed", err)
	}
	return user, nil
}

// RecordSolve updates solve statistics after an accepted submission.
func (s *Service) RecordSolve(ctx context.Context, userID string) (Stats, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	solvedAt := s.now().UTC()
	user.Stats.Streak = nextStreak(user.Stats, solvedAt)
	user.Stats.ProblemsSolved++
	user.Stats.LastSolvedAt = &solvedAt
	user.Achievements = append(user.Achievements, newlyEarned(user.Stats, user.Achievements)...)
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		s.logError(opRecordSolve, "save_failed", err, zap.String("user_id", userID))
		return Stats{}, apperr.New(apperr.KindInternal, opRecordSolve, "save_failed", err)
	}
	return user.Stats, nil
}

func sortByRating(mentors []User) {
	sort.SliceStable(mentors, func(i, j int) bool {
		return mentors[i].MentorProfile.Rating > mentors[j].MentorProfile.Rating
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
	s.logger.Error("users service error", attrs...)
}
