package users

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := openTestService(t, nil)
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterRequest{
		Email:    " Mentor@Example.com ",
		Username: "Ada",
		Password: "long-enough",
		Role:     "mentor",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Email != "mentor@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Role != RoleMentor {
		t.Fatalf("expected mentor role, got %s", user.Role)
	}

	authenticated, err := service.Authenticate(ctx, "mentor@example.com", "long-enough")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authenticated.ID != user.ID {
		t.Fatalf("expected same user id, got %s", authenticated.ID)
	}

	if _, err := service.Authenticate(ctx, "mentor@example.com", "wrong-password"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@example.com", "long-enough"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := openTestService(t, nil)
	ctx := context.Background()
	request := RegisterRequest{Email: "dup@example.com", Username: "dup", Password: "long-enough"}
	if _, err := service.Register(ctx, request); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := service.Register(ctx, request); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	service := openTestService(t, nil)
	testCases := []struct {
		name       string
		request    RegisterRequest
		wantReason string
	}{
		{name: "missing-email", request: RegisterRequest{Username: "a", Password: "long-enough"}, wantReason: "missing_email"},
		{name: "invalid-email", request: RegisterRequest{Email: "nope", Username: "a", Password: "long-enough"}, wantReason: "invalid_email"},
		{name: "missing-username", request: RegisterRequest{Email: "a@example.com", Password: "long-enough"}, wantReason: "missing_username"},
		{name: "admin-role", request: RegisterRequest{Email: "a@example.com", Username: "a", Password: "long-enough", Role: "admin"}, wantReason: "invalid_role"},
		{name: "weak-password", request: RegisterRequest{Email: "a@example.com", Username: "a", Password: "short"}, wantReason: "weak_password"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), testCase.request)
			appErr, ok := apperr.As(err)
			if !ok {
				t.Fatalf("expected apperr, got %v", err)
			}
			if appErr.Kind() != apperr.KindValidation || appErr.Reason() != testCase.wantReason {
				t.Fatalf("unexpected error %s (%s)", appErr.Code(), appErr.Kind())
			}
		})
	}
}

func TestRecordSolveTracksStreak(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	service := openTestService(t, func() time.Time { return now })
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterRequest{Email: "s@example.com", Username: "s", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	steps := []struct {
		at         time.Time
		wantSolved int
		wantStreak int
	}{
		{at: now, wantSolved: 1, wantStreak: 1},
		{at: now.Add(3 * time.Hour), wantSolved: 2, wantStreak: 1},
		{at: now.Add(24 * time.Hour), wantSolved: 3, wantStreak: 2},
		{at: now.Add(96 * time.Hour), wantSolved: 4, wantStreak: 1},
	}
	for index, step := range steps {
		now = step.at
		stats, err := service.RecordSolve(ctx, user.ID)
		if err != nil {
			t.Fatalf("step %d: record solve failed: %v", index, err)
		}
		if stats.ProblemsSolved != step.wantSolved || stats.Streak != step.wantStreak {
			t.Fatalf("step %d: unexpected stats %#v", index, stats)
		}
	}

	reloaded, err := service.Get(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Stats.ProblemsSolved != 4 {
		t.Fatalf("expected persisted stats, got %#v", reloaded.Stats)
	}
	if len(reloaded.Achievements) != 1 || reloaded.Achievements[0] != "first-solve" {
		t.Fatalf("expected first-solve achievement once, got %v", reloaded.Achievements)
	}
}

func TestNewlyEarnedSkipsHeldAchievements(t *testing.T) {
	earned := newlyEarned(Stats{ProblemsSolved: 10, Streak: 3}, []string{"first-solve"})
	expected := []string{"ten-solves", "streak-3"}
	if len(earned) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, earned)
	}
	for index := range expected {
		if earned[index] != expected[index] {
			t.Fatalf("expected %v, got %v", expected, earned)
		}
	}
	if len(Achievements()) != len(achievementCatalog) {
		t.Fatalf("expected catalog copy")
	}
}

func TestUpdateProfileRestrictsSpecializationsToMentors(t *testing.T) {
	service := openTestService(t, nil)
	ctx := context.Background()
	student, err := service.Register(ctx, RegisterRequest{Email: "st@example.com", Username: "st", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err = service.UpdateProfile(ctx, student.ID, ProfileUpdate{Specializations: []string{"go"}})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	bio := "  learning go  "
	updated, err := service.UpdateProfile(ctx, student.ID, ProfileUpdate{Bio: &bio})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Profile.Bio != "learning go" {
		t.Fatalf("unexpected bio %q", updated.Profile.Bio)
	}
}

func TestGetUnknownUserIsNotFound(t *testing.T) {
	service := openTestService(t, nil)
	if _, err := service.Get(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
