package server

import (
	"errors"
	"net/http"
	"strings"
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
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "codementor_user_id"
	userRoleContextKey = "codementor_user_role"
	accessTokenParam   = "access_token"
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingRoomsService   = errors.New("rooms service dependency required")
	errMissingSessions       = errors.New("sessions service dependency required")
	errMissingProblems       = errors.New("problems service dependency required")
	errMissingRunner         = errors.New("code runner dependency required")
	errMissingRelay          = errors.New("relay dependency required")
	errMissingNotifications  = errors.New("notification dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
	defaultCORSAllowedOrigin = []string{"*"}
)

// TokenManager issues and validates API access tokens.
type TokenManager interface {
	IssueToken(subject auth.Subject) (string, int64, error)
	ValidateToken(token string) (auth.Subject, error)
}

// Dependencies bundles everything the HTTP surface is wired to.
type Dependencies struct {
	TokenManager   TokenManager
	Users          *users.Service
	Rooms          *rooms.Service
	Sessions       *sessions.Service
	Problems       *problems.Service
	Runner         execution.Runner
	Relay          *relay.Relay
	Notifications  *notify.Dispatcher
	Limiter        ratelimit.Limiter
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the REST API, the room socket, and
// the notification stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.TokenManager == nil:
		return nil, errMissingTokenManager
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Rooms == nil:
		return nil, errMissingRoomsService
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Problems == nil:
		return nil, errMissingProblems
	case deps.Runner == nil:
		return nil, errMissingRunner
	case deps.Relay == nil:
		return nil, errMissingRelay
	case deps.Notifications == nil:
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		users:         deps.Users,
		rooms:         deps.Rooms,
		sessions:      deps.Sessions,
		problems:      deps.Problems,
		runner:        deps.Runner,
		relay:         deps.Relay,
		notifications: deps.Notifications,
		upgrader:      newUpgrader(deps.AllowedOrigins),
		logger:        logger,
	}

	limit := ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter: deps.Limiter,
		Identify: func(c *gin.Context) string {
			if userID := c.GetString(userIDContextKey); userID != "" {
				return "user:" + userID
			}
			return ""
		},
		Logger: logger,
	})

	router.GET("/healthz", handler.handleHealth)
	router.GET("/achievements", handler.handleListAchievements)

	public := router.Group("/auth")
	public.Use(limit)
	public.POST("/register", handler.handleRegister)
	public.POST("/login", handler.handleLogin)

	streams := router.Group("/")
	streams.Use(handler.authorizeRequest)
	streams.GET("/ws", handler.handleRoomSocket)
	streams.GET("/notifications/stream", handler.handleNotificationStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest, limit)

	protected.GET("/users/me", handler.handleGetMe)
	protected.PATCH("/users/me", handler.handleUpdateMe)
	protected.GET("/users/me/achievements", handler.handleMyAchievements)
	protected.GET("/users/mentors", handler.handleListMentors)
	protected.GET("/users/:id", handler.handleGetUser)

	protected.POST("/rooms", handler.handleCreateRoom)
	protected.GET("/rooms", handler.handleListRooms)
	protected.GET("/rooms/:code", handler.handleGetRoom)
	protected.POST("/rooms/:code/join", handler.handleJoinRoom)
	protected.POST("/rooms/:code/leave", handler.handleLeaveRoom)
	protected.POST("/rooms/:code/close", handler.handleCloseRoom)
	protected.PUT("/rooms/:code/files", handler.handleSaveFile)
	protected.PUT("/rooms/:code/access/:userId", handler.handleSetAccess)
	protected.PUT("/rooms/:code/whiteboard", handler.handleSaveWhiteboard)
	protected.PUT("/rooms/:code/recording", handler.handleSetRecording)

	protected.POST("/sessions", handler.handleScheduleSession)
	protected.GET("/sessions", handler.handleListSessions)
	protected.GET("/sessions/:id", handler.handleGetSession)
	protected.PATCH("/sessions/:id/status", handler.handleUpdateSessionStatus)
	protected.PUT("/sessions/:id/room", handler.handleAttachSessionRoom)

	protected.GET("/problems", handler.handleListProblems)
	protected.POST("/problems", handler.handleCreateProblem)
	protected.GET("/problems/:slug", handler.handleGetProblem)
	protected.POST("/problems/:slug/submissions", handler.handleSubmit)
	protected.GET("/submissions", handler.handleListSubmissions)
	protected.POST("/execute", handler.handleExecute)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	if len(allowed) == 0 {
		allowed = defaultCORSAllowedOrigin
	}
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowed) == 1 && allowed[0] == "*" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowed
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens        TokenManager
	users         *users.Service
	rooms         *rooms.Service
	sessions      *sessions.Service
	problems      *problems.Service
	runner        execution.Runner
	relay         *relay.Relay
	notifications *notify.Dispatcher
	upgrader      *websocket.Upgrader
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest accepts a bearer token, or an access_token query parameter for
// clients that cannot set headers (EventSource, browser websockets).
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		token = strings.TrimSpace(c.Query(accessTokenParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject.UserID)
	c.Set(userRoleContextKey, subject.Role)
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) currentRole(c *gin.Context) users.Role {
	role, _ := users.ParseRole(c.GetString(userRoleContextKey))
	return role
}
