package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/problems"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	"github.com/gin-gonic/gin"
)

type createProblemPayload struct {
	Slug        string               `json:"slug"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Difficulty  string               `json:"difficulty"`
	TestCases   []execution.TestCase `json:"testCases"`
}

type submitPayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type executePayload struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

func (h *httpHandler) handleListProblems(c *gin.Context) {
	listed, err := h.problems.List(c.Request.Context(), c.Query("difficulty"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	visible := make([]problems.Problem, 0, len(listed))
	for _, problem := range listed {
		visible = append(visible, problem.WithoutHiddenCases())
	}
	c.JSON(http.StatusOK, gin.H{"problems": visible})
}

func (h *httpHandler) handleGetProblem(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	problem, err := h.problems.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if problem.AuthorID != userID && h.currentRole(c) != users.RoleAdmin {
		problem = problem.WithoutHiddenCases()
	}
	c.JSON(http.StatusOK, problem)
}

func (h *httpHandler) handleCreateProblem(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request createProblemPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	author, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	problem, err := h.problems.CreateProblem(c.Request.Context(), problems.CreateProblemRequest{
		AuthorID:    userID,
		AuthorRole:  author.Role,
		Slug:        request.Slug,
		Title:       request.Title,
		Description: request.Description,
		Difficulty:  request.Difficulty,
		TestCases:   request.TestCases,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, problem)
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	var request submitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	submission, err := h.problems.Submit(c.Request.Context(), problems.SubmitRequest{
		UserID:   userID,
		Slug:     c.Param("slug"),
		Language: request.Language,
		Code:     request.Code,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission.Redacted())
}

func (h *httpHandler) handleListSubmissions(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	submissions, err := h.problems.ListSubmissions(c.Request.Context(), userID, c.Query("problem"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	redacted := make([]problems.Submission, 0, len(submissions))
	for _, submission := range submissions {
		redacted = append(redacted, submission.Redacted())
	}
	c.JSON(http.StatusOK, gin.H{"submissions": redacted})
}

func (h *httpHandler) handleExecute(c *gin.Context) {
	var request executePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.runner.Execute(c.Request.Context(), execution.Request{
		Language: request.Language,
		Version:  request.Version,
		Code:     request.Code,
		Stdin:    request.Stdin,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
