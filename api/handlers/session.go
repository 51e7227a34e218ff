// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agent-studio/collab/internal/model"
	"github.com/agent-studio/collab/internal/session"
)

// SessionSource answers read-only questions about live sessions.
type SessionSource interface {
	Sessions(ctx context.Context) ([]session.SessionInfo, error)
	Session(ctx context.Context, agentID string) (session.SessionInfo, bool, error)
	Changes(ctx context.Context, agentID string) ([]model.ChangeRecord, bool, error)
}

// ActivityLister reads the activity journal.
type ActivityLister interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.ActivityEvent, error)
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

const maxActivityLimit = 500

// SessionHandler handles HTTP requests for session introspection.
type SessionHandler struct {
	sessions SessionSource
	activity ActivityLister
}

// NewSessionHandler creates a new SessionHandler. activity may be nil when
// the journal is disabled.
func NewSessionHandler(sessions SessionSource, activity ActivityLister) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		activity: activity,
	}
}

// ParticipantResponse represents a participant in API responses.
type ParticipantResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	JoinedAt string `json:"joinedAt"`
}

// SessionResponse represents a live session in API responses.
type SessionResponse struct {
	AgentID      string                `json:"agentId"`
	Participants []ParticipantResponse `json:"participants"`
	LastSequence int64                 `json:"lastSequence"`
	ChangeCount  int                   `json:"changeCount"`
	CreatedAt    string                `json:"createdAt"`
	EmptySince   string                `json:"emptySince,omitempty"`
}

// SessionListResponse represents the response for listing sessions.
type SessionListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

// ActivityResponse represents the response for an agent's activity. Total
// counts every journaled event, not only the returned page.
type ActivityResponse struct {
	AgentID string                `json:"agentId"`
	Events  []model.ActivityEvent `json:"events"`
	Total   int                   `json:"total"`
}

// ChangesResponse represents the recent change log of a live session.
type ChangesResponse struct {
	AgentID string               `json:"agentId"`
	Changes []model.ChangeRecord `json:"changes"`
	Total   int                  `json:"total"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a session.SessionInfo to SessionResponse.
func toSessionResponse(info session.SessionInfo) *SessionResponse {
	resp := &SessionResponse{
		AgentID:      info.AgentID,
		Participants: make([]ParticipantResponse, 0, len(info.Participants)),
		LastSequence: info.LastSequence,
		ChangeCount:  info.ChangeCount,
		CreatedAt:    info.CreatedAt.Format(time.RFC3339),
	}
	for _, p := range info.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:   p.UserID,
			Username: p.Username,
			Color:    p.Color,
			JoinedAt: p.JoinedAt.Format(time.RFC3339),
		})
	}
	if info.EmptySince != nil {
		resp.EmptySince = info.EmptySince.Format(time.RFC3339)
	}
	return resp
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// List handles GET /api/collab/sessions - lists live sessions.
func (h *SessionHandler) List(c *gin.Context) {
	infos, err := h.sessions.Sessions(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "HUB_UNAVAILABLE", "Failed to list sessions: "+err.Error())
		return
	}

	responses := make([]*SessionResponse, 0, len(infos))
	for _, info := range infos {
		responses = append(responses, toSessionResponse(info))
	}
	c.JSON(http.StatusOK, SessionListResponse{
		Sessions: responses,
		Total:    len(responses),
	})
}

// Get handles GET /api/collab/sessions/:agentId - returns one live session.
func (h *SessionHandler) Get(c *gin.Context) {
	agentID := c.Param("agentId")

	info, ok, err := h.sessions.Session(c.Request.Context(), agentID)
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "HUB_UNAVAILABLE", "Failed to get session: "+err.Error())
		return
	}
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No live session for agent "+agentID)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(info))
}

// Changes handles GET /api/collab/sessions/:agentId/changes - returns the
// change log a late joiner would receive, oldest first.
func (h *SessionHandler) Changes(c *gin.Context) {
	agentID := c.Param("agentId")

	records, ok, err := h.sessions.Changes(c.Request.Context(), agentID)
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "HUB_UNAVAILABLE", "Failed to get changes: "+err.Error())
		return
	}
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No live session for agent "+agentID)
		return
	}
	if records == nil {
		records = []model.ChangeRecord{}
	}
	c.JSON(http.StatusOK, ChangesResponse{AgentID: agentID, Changes: records, Total: len(records)})
}

// Activity handles GET /api/collab/sessions/:agentId/activity - returns the
// agent's journaled activity, newest first.
func (h *SessionHandler) Activity(c *gin.Context) {
	if h.activity == nil {
		sendError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "Activity journal is not configured")
		return
	}

	agentID := c.Param("agentId")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events, err := h.activity.ListByAgent(c.Request.Context(), agentID, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list activity: "+err.Error())
		return
	}
	total, err := h.activity.CountByAgent(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count activity: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, ActivityResponse{AgentID: agentID, Events: events, Total: total})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	collab := rg.Group("/collab")
	{
		collab.GET("/sessions", h.List)
		collab.GET("/sessions/:agentId", h.Get)
		collab.GET("/sessions/:agentId/changes", h.Changes)
		collab.GET("/sessions/:agentId/activity", h.Activity)
	}
}
