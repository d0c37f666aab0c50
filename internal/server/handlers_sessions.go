package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/sessions"
	"github.com/gin-gonic/gin"
)

type scheduleSessionPayload struct {
	MentorID        string    `json:"mentorId"`
	Topic           string    `json:"topic"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

type sessionStatusPayload struct {
	Status string `json:"status"`
}

type sessionRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

func (h *httpHandler) handleScheduleSession(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request scheduleSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	session, err := h.sessions.Schedule(c.Request.Context(), sessions.ScheduleRequest{
		StudentID:       userID,
		MentorID:        request.MentorID,
		Topic:           request.Topic,
		ScheduledAt:     request.ScheduledAt,
		DurationMinutes: request.DurationMinutes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *httpHandler) handleListSessions(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	listed, err := h.sessions.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": listed})
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleUpdateSessionStatus(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request sessionStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	session, err := h.sessions.UpdateStatus(c.Request.Context(), c.Param("id"), userID, sessions.Status(request.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleAttachSessionRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request sessionRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	session, err := h.sessions.AttachRoom(c.Request.Context(), c.Param("id"), userID, request.RoomCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
