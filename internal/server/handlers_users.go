package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        users.User `json:"user"`
}

type profileUpdatePayload struct {
	Username        *string  `json:"username"`
	Bio             *string  `json:"bio"`
	AvatarURL       *string  `json:"avatarUrl"`
	Specializations []string `json:"specializations"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	user, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:    request.Email,
		Username: request.Username,
		Password: request.Password,
		Role:     request.Role,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		badRequest(c, "invalid_request")
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(auth.Subject{UserID: user.ID, Role: string(user.Role)})
	if err != nil {
		h.logger.Error("failed to issue access token", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        user,
	})
}

func (h *httpHandler) handleGetMe(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleUpdateMe(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), userID, users.ProfileUpdate{
		Username:        request.Username,
		Bio:             request.Bio,
		AvatarURL:       request.AvatarURL,
		Specializations: request.Specializations,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleListMentors(c *gin.Context) {
	mentors, err := h.users.ListMentors(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentors": mentors})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleListAchievements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"achievements": users.Achievements()})
}

func (h *httpHandler) handleMyAchievements(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	held := make(map[string]struct{}, len(user.Achievements))
	for _, id := range user.Achievements {
		held[id] = struct{}{}
	}
	earned := make([]users.Achievement, 0, len(held))
	for _, achievement := range users.Achievements() {
		if _, ok := held[achievement.ID]; ok {
			earned = append(earned, achievement)
		}
	}
	c.JSON(http.StatusOK, gin.H{"achievements": earned, "stats": user.Stats})
}
