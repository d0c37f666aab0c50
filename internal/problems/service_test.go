package problems

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

// echoRunner prints stdin back unless the code says otherwise.
type echoRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *echoRunner) Execute(_ context.Context, request execution.Request) (execution.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	switch request.Code {
	case "crash":
		return execution.Result{Stderr: "boom", ExitCode: 1}, nil
	case "constant":
		return execution.Result{Output: "42\n"}, nil
	default:
		return execution.Result{Output: request.Stdin + "\n"}, nil
	}
}

type countingSolves struct {
	mu    sync.Mutex
	users []string
}

func (c *countingSolves) RecordSolve(_ context.Context, userID string) (users.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return users.Stats{ProblemsSolved: len(c.users)}, nil
}

func openTestService(t *testing.T, solves SolveRecorder, logger *zap.Logger) (*Service, *echoRunner) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:problems_"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Problem{}, &Submission{}); err != nil {
		t.Fatalf("failed to migrate problem schema: %v", err)
	}
	runner := &echoRunner{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Runner:   runner,
		Solves:   solves,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, runner
}

func createEchoProblem(t *testing.T, service *Service) Problem {
	t.Helper()
	problem, err := service.CreateProblem(context.Background(), CreateProblemRequest{
		AuthorID:   "mentor-1",
		AuthorRole: users.RoleMentor,
		Title:      "Echo Input!",
		Difficulty: "medium",
		TestCases: []execution.TestCase{
			{Input: "1", ExpectedOutput: "1"},
			{Input: "2", ExpectedOutput: "2", Hidden: true},
		},
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}
	return problem
}

func TestCreateProblemDerivesSlug(t *testing.T) {
	service, _ := openTestService(t, nil, nil)
	problem := createEchoProblem(t, service)
	if problem.Slug != "echo-input" || problem.Difficulty != DifficultyMedium {
		t.Fatalf("unexpected problem: %+v", problem)
	}

	loaded, err := service.GetBySlug(context.Background(), "echo-input")
	if err != nil {
		t.Fatalf("get problem failed: %v", err)
	}
	if len(loaded.TestCases) != 2 || len(loaded.WithoutHiddenCases().TestCases) != 1 {
		t.Fatalf("unexpected test cases: %+v", loaded.TestCases)
	}

	_, err = service.CreateProblem(context.Background(), CreateProblemRequest{
		AuthorRole: users.RoleAdmin,
		Title:      "echo input",
		TestCases:  []execution.TestCase{{Input: "1", ExpectedOutput: "1"}},
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected duplicate slug conflict, got %v", err)
	}
}

func TestCreateProblemRequiresAuthorRole(t *testing.T) {
	service, _ := openTestService(t, nil, nil)
	_, err := service.CreateProblem(context.Background(), CreateProblemRequest{
		AuthorRole: users.RoleStudent,
		Title:      "Nope",
		TestCases:  []execution.TestCase{{Input: "1", ExpectedOutput: "1"}},
	})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSubmitRecordsFirstSolveOnce(t *testing.T) {
	solves := &countingSolves{}
	service, runner := openTestService(t, solves, nil)
	createEchoProblem(t, service)
	ctx := context.Background()

	for attempt := 0; attempt < 2; attempt++ {
		submission, err := service.Submit(ctx, SubmitRequest{UserID: "student-1", Slug: "echo-input", Language: "Python", Code: "print(input())"})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if submission.Status != StatusAccepted || submission.Passed != 2 || submission.Total != 2 {
			t.Fatalf("unexpected submission: %+v", submission)
		}
	}
	if runner.calls != 4 {
		t.Fatalf("expected every case to run per submission, got %d calls", runner.calls)
	}
	if len(solves.users) != 1 {
		t.Fatalf("expected exactly one recorded solve, got %d", len(solves.users))
	}

	submissions, err := service.ListSubmissions(ctx, "student-1", "")
	if err != nil {
		t.Fatalf("list submissions failed: %v", err)
	}
	if len(submissions) != 2 {
		t.Fatalf("expected two submissions, got %d", len(submissions))
	}
}

func TestSubmitVerdicts(t *testing.T) {
	solves := &countingSolves{}
	service, _ := openTestService(t, solves, nil)
	createEchoProblem(t, service)

	cases := map[string]SubmissionStatus{
		"constant": StatusWrongAnswer,
		"crash":    StatusRuntimeError,
	}
	for code, expected := range cases {
		submission, err := service.Submit(context.Background(), SubmitRequest{UserID: "student-1", Slug: "echo-input", Language: "go", Code: code})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if submission.Status != expected {
			t.Fatalf("code %q: expected %s, got %s", code, expected, submission.Status)
		}
	}
	if len(solves.users) != 0 {
		t.Fatalf("failed submissions must not count as solves")
	}
}

func TestSubmitUnknownProblem(t *testing.T) {
	service, _ := openTestService(t, nil, nil)
	_, err := service.Submit(context.Background(), SubmitRequest{UserID: "u", Slug: "missing", Language: "go", Code: "x"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingSolves struct{}

func (failingSolves) RecordSolve(context.Context, string) (users.Stats, error) {
	return users.Stats{}, apperr.New(apperr.KindNotFound, "users.record_solve", "user_not_found", nil)
}

func TestSubmitLogsSolveFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	service, _ := openTestService(t, failingSolves{}, zap.New(core))
	createEchoProblem(t, service)

	submission, err := service.Submit(context.Background(), SubmitRequest{UserID: "ghost", Slug: "echo-input", Language: "go", Code: "echo"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if submission.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", submission.Status)
	}
	entries := logs.FilterMessage("problems service error").All()
	if len(entries) != 1 || entries[0].ContextMap()["reason"] != "record_solve_failed" {
		t.Fatalf("expected one record_solve_failed log, got %+v", entries)
	}
}

func TestListFiltersByDifficulty(t *testing.T) {
	service, _ := openTestService(t, nil, nil)
	createEchoProblem(t, service)
	easy, err := service.List(context.Background(), "easy")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(easy) != 0 {
		t.Fatalf("expected no easy problems, got %d", len(easy))
	}
	if _, err := service.List(context.Background(), "extreme"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Two Sum":          "two-sum",
		"  --Already-ok ":  "already-ok",
		"Reverse  a List!": "reverse-a-list",
		"***":              "",
	}
	for input, expected := range cases {
		if got := Slugify(input); got != expected {
			t.Fatalf("Slugify(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestRedactedHidesHiddenResults(t *testing.T) {
	submission := Submission{Results: []execution.CaseResult{
		{Input: "1", ExpectedOutput: "1", ActualOutput: "1", Passed: true},
		{Input: "secret", ExpectedOutput: "answer", ActualOutput: "wrong", Hidden: true},
	}}
	redacted := submission.Redacted()
	if redacted.Results[0].Input != "1" {
		t.Fatalf("visible results must be kept")
	}
	if redacted.Results[1].Input != "" || redacted.Results[1].ExpectedOutput != "" || redacted.Results[1].ActualOutput != "" {
		t.Fatalf("hidden results must be blanked, got %+v", redacted.Results[1])
	}
	if submission.Results[1].Input != "secret" {
		t.Fatalf("redaction must not mutate the original")
	}
}
