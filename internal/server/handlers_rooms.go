package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"github.com/gin-gonic/gin"
)

type createRoomPayload struct {
	Name        string            `json:"name"`
	Language    string            `json:"language"`
	Files       []rooms.File      `json:"files"`
	Permissions rooms.Permissions `json:"permissions"`
}

type joinRoomResponse struct {
	Room    rooms.Room `json:"room"`
	Role    string     `json:"role"`
	CanEdit bool       `json:"canEdit"`
}

type accessPayload struct {
	CanEdit *bool `json:"canEdit"`
}

type whiteboardPayload struct {
	Data string `json:"data"`
}

type recordingPayload struct {
	Active *bool `json:"active"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request createRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	owner, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), rooms.CreateRoomRequest{
		OwnerID:     userID,
		OwnerName:   owner.Username,
		Name:        request.Name,
		Language:    request.Language,
		Files:       request.Files,
		Permissions: request.Permissions,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	owned, err := h.rooms.ListOwnedRooms(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": owned})
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *httpHandler) handleJoinRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("code"), userID, user.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinRoomResponse{
		Room:    result.Room,
		Role:    string(result.Role),
		CanEdit: result.Room.CanEdit(userID),
	})
}

func (h *httpHandler) handleLeaveRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	if _, err := h.rooms.LeaveRoom(c.Request.Context(), c.Param("code"), userID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCloseRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	room, err := h.rooms.CloseRoom(c.Request.Context(), c.Param("code"), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *httpHandler) handleSaveFile(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var file rooms.File
	if err := c.ShouldBindJSON(&file); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	room, err := h.rooms.SaveFile(c.Request.Context(), c.Param("code"), userID, file)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *httpHandler) handleSetAccess(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request accessPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CanEdit == nil {
		badRequest(c, "invalid_request")
		return
	}
	participant, err := h.relay.ApplyAccess(c.Request.Context(), c.Param("code"), userID, c.Param("userId"), *request.CanEdit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func (h *httpHandler) handleSaveWhiteboard(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request whiteboardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if _, err := h.rooms.SaveWhiteboard(c.Request.Context(), c.Param("code"), userID, request.Data); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetRecording(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request recordingPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Active == nil {
		badRequest(c, "invalid_request")
		return
	}
	room, err := h.rooms.SetRecording(c.Request.Context(), c.Param("code"), userID, *request.Active)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room.Recording)
}
