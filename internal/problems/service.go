// Package problems manages practice problems and graded submissions.
package problems

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateProblem   = "problems.create_problem"
	opListProblems    = "problems.list_problems"
	opGetProblem      = "problems.get_problem"
	opSubmit          = "problems.submit"
	opListSubmissions = "problems.list_submissions"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingRunner   = errors.New("code runner is required")
)

// SolveRecorder updates a user's solve statistics.
type SolveRecorder interface {
	RecordSolve(ctx context.Context, userID string) (users.Stats, error)
}

// ServiceConfig describes the dependencies of the problem service.
type ServiceConfig struct {
	Database *gorm.DB
	Runner   execution.Runner
	Solves   SolveRecorder
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service grades submissions against problem test cases.
type Service struct {
	db     *gorm.DB
	runner execution.Runner
	solves SolveRecorder
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the problem service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindInternal, "problems.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.Runner == nil {
		return nil, apperr.New(apperr.KindInternal, "problems.service.new", "missing_runner", errMissingRunner)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, runner: cfg.Runner, solves: cfg.Solves, now: clock, logger: logger}, nil
}

// CreateProblemRequest carries authoring input.
type CreateProblemRequest struct {
	AuthorID    string
	AuthorRole  users.Role
	Slug        string
	Title       string
	Description string
	Difficulty  string
	TestCases   []execution.TestCase
}

// CreateProblem stores a new problem. Only mentors and admins author problems.
func (s *Service) CreateProblem(ctx context.Context, request CreateProblemRequest) (Problem, error) {
	if request.AuthorRole != users.RoleMentor && request.AuthorRole != users.RoleAdmin {
		return Problem{}, apperr.New(apperr.KindForbidden, opCreateProblem, "author_role_required", nil)
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Problem{}, apperr.New(apperr.KindValidation, opCreateProblem, "missing_title", nil)
	}
	slug := Slugify(request.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		return Problem{}, apperr.New(apperr.KindValidation, opCreateProblem, "invalid_slug", nil)
	}
	difficulty, ok := ParseDifficulty(request.Difficulty)
	if !ok {
		return Problem{}, apperr.New(apperr.KindValidation, opCreateProblem, "invalid_difficulty", nil)
	}
	if len(request.TestCases) == 0 {
		return Problem{}, apperr.New(apperr.KindValidation, opCreateProblem, "missing_test_cases", nil)
	}

	problem := Problem{
		ID:          uuid.NewString(),
		Slug:        slug,
		Title:       title,
		Description: strings.TrimSpace(request.Description),
		Difficulty:  difficulty,
		TestCases:   request.TestCases,
		AuthorID:    request.AuthorID,
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Problem{}).Where("slug = ?", slug).Count(&existing).Error; err != nil {
		s.logError(opCreateProblem, "query_failed", err)
		return Problem{}, apperr.New(apperr.KindInternal, opCreateProblem, "query_failed", err)
	}
	if existing > 0 {
		return Problem{}, apperr.New(apperr.KindConflict, opCreateProblem, "slug_taken", nil)
	}
	if err := s.db.WithContext(ctx).Create(&problem).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Problem{}, apperr.New(apperr.KindConflict, opCreateProblem, "slug_taken", err)
		}
		s.logError(opCreateProblem, "insert_failed", err, zap.String("slug", slug))
		return Problem{}, apperr.New(apperr.KindInternal, opCreateProblem, "insert_failed", err)
	}
	return problem, nil
}

// List returns problems ordered by title, optionally filtered by difficulty.
func (s *Service) List(ctx context.Context, difficulty string) ([]Problem, error) {
	query := s.db.WithContext(ctx).Order("title ASC")
	if strings.TrimSpace(difficulty) != "" {
		parsed, ok := ParseDifficulty(difficulty)
		if !ok {
			return nil, apperr.New(apperr.KindValidation, opListProblems, "invalid_difficulty", nil)
		}
		query = query.Where("difficulty = ?", parsed)
	}
	var problems []Problem
	if err := query.Find(&problems).Error; err != nil {
		s.logError(opListProblems, "query_failed", err)
		return nil, apperr.New(apperr.KindInternal, opListProblems, "query_failed", err)
	}
	return problems, nil
}

// GetBySlug loads a problem including hidden test cases.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Problem, error) {
	var problem Problem
	err := s.db.WithContext(ctx).Where("slug = ?", strings.TrimSpace(slug)).Take(&problem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Problem{}, apperr.New(apperr.KindNotFound, opGetProblem, "problem_not_found", err)
	}
	if err != nil {
		s.logError(opGetProblem, "query_failed", err, zap.String("slug", slug))
		return Problem{}, apperr.New(apperr.KindInternal, opGetProblem, "query_failed", err)
	}
	return problem, nil
}

// SubmitRequest carries a solution attempt.
type SubmitRequest struct {
	UserID   string
	Slug     string
	Language string
	Code     string
}

// Submit grades a solution against every test case of the problem and stores the
// verdict. The first accepted submission for a problem counts as a solve.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (Submission, error) {
	if strings.TrimSpace(request.UserID) == "" {
		return Submission{}, apperr.New(apperr.KindValidation, opSubmit, "missing_user_id", nil)
	}
	if strings.TrimSpace(request.Code) == "" {
		return Submission{}, apperr.New(apperr.KindValidation, opSubmit, "missing_code", nil)
	}
	problem, err := s.GetBySlug(ctx, request.Slug)
	if err != nil {
		return Submission{}, err
	}

	results, err := execution.RunTestCases(ctx, s.runner, request.Language, request.Code, problem.TestCases)
	if err != nil {
		return Submission{}, err
	}

	submission := Submission{
		ID:          uuid.NewString(),
		UserID:      request.UserID,
		ProblemID:   problem.ID,
		ProblemSlug: problem.Slug,
		Language:    strings.ToLower(strings.TrimSpace(request.Language)),
		Code:        request.Code,
		Status:      verdict(results),
		Passed:      execution.CountPassed(results),
		Total:       len(results),
		Results:     results,
		CreatedAt:   s.now().UTC(),
	}

	firstSolve := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if submission.Status == StatusAccepted {
			var accepted int64
			if err := tx.Model(&Submission{}).
				Where("user_id = ? AND problem_id = ? AND status = ?", request.UserID, problem.ID, StatusAccepted).
				Count(&accepted).Error; err != nil {
				return err
			}
			firstSolve = accepted == 0
		}
		return tx.Create(&submission).Error
	})
	if err != nil {
		s.logError(opSubmit, "insert_failed", err, zap.String("slug", problem.Slug), zap.String("user_id", request.UserID))
		return Submission{}, apperr.New(apperr.KindInternal, opSubmit, "insert_failed", err)
	}

	if firstSolve && s.solves != nil {
		if _, err := s.solves.RecordSolve(ctx, request.UserID); err != nil {
			s.logError(opSubmit, "record_solve_failed", err, zap.String("user_id", request.UserID))
		}
	}
	return submission, nil
}

// ListSubmissions returns a user's submissions, newest first, optionally for one problem.
func (s *Service) ListSubmissions(ctx context.Context, userID, slug string) ([]Submission, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if trimmed := strings.TrimSpace(slug); trimmed != "" {
		query = query.Where("problem_slug = ?", trimmed)
	}
	var submissions []Submission
	if err := query.Find(&submissions).Error; err != nil {
		s.logError(opListSubmissions, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(apperr.KindInternal, opListSubmissions, "query_failed", err)
	}
	return submissions, nil
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
	s.logger.Error("problems service error", attrs...)
}
