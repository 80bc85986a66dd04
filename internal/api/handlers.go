package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/sensei/internal/engagement"
	"github.com/abhisek/sensei/internal/ledger"
	"github.com/abhisek/sensei/internal/rubric"
	"github.com/abhisek/sensei/internal/session"
)

// Service is the tutoring surface served over HTTP. *session.Orchestrator
// implements it.
type Service interface {
	StartSession(ctx context.Context, userID, goalID string, mode session.Mode) (*session.StartResult, error)
	SubmitTurn(ctx context.Context, sessionID, utterance string) (*session.TurnResult, error)
	EndSession(ctx context.Context, sessionID string) (*session.TurnResult, error)
	GetProgress(ctx context.Context, userID, goalID string) ([]ledger.ItemProgress, error)
	RequestHandoff(ctx context.Context, userID, goalID, overrideReason string) (*engagement.Decision, error)
}

type SessionHandler struct {
	svc   Service
	goals rubric.Source
}

func NewSessionHandler(svc Service, goals rubric.Source) *SessionHandler {
	return &SessionHandler{svc: svc, goals: goals}
}

type startSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	GoalID string `json:"goal_id" binding:"required"`
	Mode   string `json:"mode"`
}

// POST /api/v1/sessions
func (h *SessionHandler) Start(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.svc.StartSession(c.Request.Context(), req.UserID, req.GoalID, session.Mode(req.Mode))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type submitTurnRequest struct {
	Utterance string `json:"utterance"`
}

// POST /api/v1/sessions/:id/turns
func (h *SessionHandler) SubmitTurn(c *gin.Context) {
	var req submitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.svc.SubmitTurn(c.Request.Context(), c.Param("id"), req.Utterance)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

// DELETE /api/v1/sessions/:id
func (h *SessionHandler) End(c *gin.Context) {
	res, err := h.svc.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

// GET /api/v1/progress/:user/:goal
func (h *SessionHandler) Progress(c *gin.Context) {
	items, err := h.svc.GetProgress(c.Request.Context(), c.Param("user"), c.Param("goal"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"user_id": c.Param("user"), "goal_id": c.Param("goal"), "items": items})
}

type handoffRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	GoalID         string `json:"goal_id" binding:"required"`
	OverrideReason string `json:"override_reason"`
}

// POST /api/v1/handoffs
func (h *SessionHandler) Handoff(c *gin.Context) {
	var req handoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dec, err := h.svc.RequestHandoff(c.Request.Context(), req.UserID, req.GoalID, req.OverrideReason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, dec)
}

type goalSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items int    `json:"items"`
}

// GET /api/v1/goals
func (h *SessionHandler) Goals(c *gin.Context) {
	goals, err := h.goals.ListGoals(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]goalSummary, 0, len(goals))
	for _, g := range goals {
		out = append(out, goalSummary{ID: g.ID, Title: g.Title, Items: len(g.Items)})
	}
	RespondOK(c, gin.H{"goals": out})
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
