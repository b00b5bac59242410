package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/service"
	"github.com/user/chatrelay/internal/session"
)

// ChatHandler handles turn submission and message retrieval
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat/stream", h.Stream)
	r.GET("/chat/:session_id/messages", h.Messages)
	r.GET("/models", h.Models)
	r.GET("/questions", h.Questions)
}

// sourceView is a source prepared for presentation: the breadcrumb
// split and the URL anchor are computed server-side.
type sourceView struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Crumb   string `json:"crumb,omitempty"`
	Section string `json:"section,omitempty"`
	Anchor  string `json:"anchor,omitempty"`
	Number  int    `json:"number"`
}

func sourceViews(sources []domain.Source) []sourceView {
	views := make([]sourceView, 0, len(sources))
	for i, s := range sources {
		views = append(views, sourceView{
			URL:     s.URL,
			Title:   s.Title,
			Crumb:   s.Crumb(),
			Section: s.Section(),
			Anchor:  s.Anchor(),
			Number:  i + 1,
		})
	}
	return views
}

type updateEvent struct {
	SessionID string          `json:"session_id"`
	Message   domain.Message  `json:"message"`
	Tokens    json.RawMessage `json:"tokens,omitempty"`
	Sources   []sourceView    `json:"sources"`
}

type turnResult struct {
	sessionID string
	err       error
}

// Stream runs one turn and streams assistant message updates back to
// the client as SSE events: an `update` per applied batch, then `done`
// or `error`. The update channel is always drained to completion, so a
// client disconnect never strands the producing goroutine; once the
// request context is cancelled the producer drops updates instead of
// queueing them.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	updates := make(chan session.Update, 16)
	result := make(chan turnResult, 1)

	go func() {
		sessionID, err := h.chatService.StreamTurn(ctx, req.SessionID, &req, func(u session.Update) {
			select {
			case updates <- u:
			case <-ctx.Done():
			}
		})
		close(updates)
		result <- turnResult{sessionID, err}
	}()

	flusher, _ := c.Writer.(http.Flusher)
	for u := range updates {
		tokens, _ := json.Marshal(u.Tokens)
		writeSSE(c.Writer, "update", updateEvent{
			SessionID: u.Message.SessionID,
			Message:   u.Message,
			Tokens:    tokens,
			Sources:   sourceViews(u.Sources),
		})
		if flusher != nil {
			flusher.Flush()
		}
	}

	r := <-result
	switch {
	case errors.Is(r.err, context.Canceled):
		// Client is gone; there is nobody left to write to.
	case errors.Is(r.err, domain.ErrEmptyMessage), errors.Is(r.err, domain.ErrTurnInFlight):
		writeSSE(c.Writer, "error", gin.H{"error": r.err.Error()})
	case r.err != nil:
		// Details are logged server-side; the client gets a generic
		// notice.
		writeSSE(c.Writer, "error", gin.H{"error": "request failed, please try again later"})
	default:
		writeSSE(c.Writer, "done", gin.H{"session_id": r.sessionID})
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// Messages returns the message list for a session
func (h *ChatHandler) Messages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.Messages(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": messages})
}

// Models returns the configured model variants
func (h *ChatHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.chatService.Models()})
}

// Questions returns the suggested starter questions
func (h *ChatHandler) Questions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": h.chatService.Questions()})
}

func writeSSE(w io.Writer, eventType string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(data))
}
