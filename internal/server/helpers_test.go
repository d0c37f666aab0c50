package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/problems"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/relay"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubRunner struct{}

func (stubRunner) Execute(_ context.Context, request execution.Request) (execution.Result, error) {
	return execution.Result{Language: request.Language, Version: "1.0.0", Output: request.Stdin + "\n"}, nil
}

type testEnvironment struct {
	server        *httptest.Server
	tokens        *auth.TokenIssuer
	users         *users.Service
	rooms         *rooms.Service
	notifications *notify.Dispatcher
}

func newTestEnvironment(t *testing.T, limiter ratelimit.Limiter) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(githubsqlite.Open("file:server_"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &rooms.RoomRecord{}, &sessions.Session{}, &problems.Problem{}, &problems.Submission{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "codementor-auth",
		Audience:      "codementor-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	dispatcher := notify.NewDispatcher()
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Store:         rooms.NewGormStore(db),
		CodeGenerator: rooms.NewUUIDCodeGenerator(),
		Notifier:      dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct rooms service: %v", err)
	}
	sessionService, err := sessions.NewService(sessions.ServiceConfig{Database: db, Users: userService, Rooms: roomService, Notifier: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct sessions service: %v", err)
	}
	problemService, err := problems.NewService(problems.ServiceConfig{Database: db, Runner: stubRunner{}, Solves: userService})
	if err != nil {
		t.Fatalf("failed to construct problems service: %v", err)
	}
	roomRelay, err := relay.NewRelay(relay.Config{Rooms: roomService})
	if err != nil {
		t.Fatalf("failed to construct relay: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokenIssuer,
		Users:         userService,
		Rooms:         roomService,
		Sessions:      sessionService,
		Problems:      problemService,
		Runner:        stubRunner{},
		Relay:         roomRelay,
		Notifications: dispatcher,
		Limiter:       limiter,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return testEnvironment{
		server:        server,
		tokens:        tokenIssuer,
		users:         userService,
		rooms:         roomService,
		notifications: dispatcher,
	}
}

// registerUser creates an account directly and returns it with a bearer token.
func (env testEnvironment) registerUser(t *testing.T, email, role string) (users.User, string) {
	t.Helper()
	user, err := env.users.Register(context.Background(), users.RegisterRequest{
		Email:    email,
		Username: strings.Split(email, "@")[0],
		Password: "long-enough",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("register %s failed: %v", email, err)
	}
	token, _, err := env.tokens.IssueToken(auth.Subject{UserID: user.ID, Role: string(user.Role)})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return user, token
}
