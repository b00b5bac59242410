package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/service"
)

// FeedbackHandler handles feedback and trace side-channel requests
type FeedbackHandler struct {
	feedbackService *service.FeedbackService
	traceService    *service.TraceService
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(feedbackService *service.FeedbackService, traceService *service.TraceService) *FeedbackHandler {
	return &FeedbackHandler{feedbackService: feedbackService, traceService: traceService}
}

// RegisterRoutes registers feedback routes
func (h *FeedbackHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/feedback", h.Submit)
	r.POST("/trace", h.Trace)
}

type feedbackRequest struct {
	RunID   string   `json:"run_id" binding:"required"`
	Key     string   `json:"key"`
	Score   *float64 `json:"score,omitempty"`
	Value   string   `json:"value,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// Submit accepts an explicit score or an implicit click signal. Clicks
// are acknowledged immediately and forwarded in the background.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Key == domain.FeedbackKeyClick {
		h.feedbackService.RecordClick(req.RunID, req.Value)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	if req.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score is required"})
		return
	}

	resp, err := h.feedbackService.SubmitScore(c.Request.Context(), req.RunID, *req.Score, req.Comment)
	switch {
	case errors.Is(err, domain.ErrFeedbackAlreadySent):
		c.JSON(http.StatusConflict, gin.H{"error": "feedback already sent"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "feedback submission failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"code": resp.Code, "feedback_id": resp.FeedbackID})
	}
}

type traceRequest struct {
	RunID string `json:"run_id" binding:"required"`
}

// Trace resolves the trace URL for a run
func (h *FeedbackHandler) Trace(c *gin.Context) {
	var req traceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	url, err := h.traceService.TraceURL(c.Request.Context(), req.RunID)
	switch {
	case errors.Is(err, domain.ErrTraceUnavailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "unable to view trace"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "trace lookup failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}
