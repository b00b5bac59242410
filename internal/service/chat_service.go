package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/config"
	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/repository"
	"github.com/user/chatrelay/internal/session"
)

// ChatService orchestrates turns: it owns one session controller per
// conversation, persists completed turns and reports metrics.
type ChatService struct {
	cfg         *config.Config
	sessionRepo *repository.SessionRepository
	streamer    session.Streamer
	logger      *zap.Logger

	mu          sync.Mutex
	controllers map[string]*session.Controller
}

// NewChatService creates a new chat service
func NewChatService(
	cfg *config.Config,
	sessionRepo *repository.SessionRepository,
	streamer session.Streamer,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		cfg:         cfg,
		sessionRepo: sessionRepo,
		streamer:    streamer,
		logger:      logger,
		controllers: make(map[string]*session.Controller),
	}
}

// Models returns the configured model variants.
func (s *ChatService) Models() []string {
	return s.cfg.Chat.Models
}

// Questions returns the suggested starter questions.
func (s *ChatService) Questions() []string {
	return s.cfg.Chat.Questions
}

// resolveModel falls back to the default when the requested model is
// unknown; the selection only tags the remote run, so a bad value must
// not fail the turn.
func (s *ChatService) resolveModel(model string) string {
	if model != "" && slices.Contains(s.cfg.Chat.Models, model) {
		return model
	}
	return s.cfg.Chat.DefaultModel
}

// controller returns the conversation's controller, creating it and
// restoring persisted history on first use.
func (s *ChatService) controller(sessionID string) *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctrl, ok := s.controllers[sessionID]; ok {
		return ctrl
	}
	ctrl := session.NewController(sessionID, s.cfg.Remote.RetrievalStep, s.streamer, s.logger)
	if history, err := s.sessionRepo.GetHistory(sessionID); err != nil {
		s.logger.Warn("failed to restore history", zap.String("session_id", sessionID), zap.Error(err))
	} else if len(history) > 0 {
		ctrl.RestoreHistory(history)
	}
	s.controllers[sessionID] = ctrl
	return ctrl
}

// StreamTurn runs one turn for the session, emitting an update after
// every applied batch. It returns the session id (created on first use)
// together with the turn error, if any.
func (s *ChatService) StreamTurn(ctx context.Context, sessionID string, req *domain.ChatRequest, emit session.UpdateFunc) (string, error) {
	// Get or create session
	if sessionID == "" {
		sess := &domain.Session{}
		if err := s.sessionRepo.Create(sess); err != nil {
			return "", err
		}
		sessionID = sess.ID
	} else if sess, err := s.sessionRepo.Get(sessionID); err != nil {
		return "", err
	} else if sess == nil {
		return "", domain.ErrNotFound
	}

	ctrl := s.controller(sessionID)

	var final domain.Message
	err := ctrl.Submit(ctx, req.Message, s.resolveModel(req.Model), func(u session.Update) {
		if u.Done {
			final = u.Message
		}
		if emit != nil {
			emit(u)
		}
	})

	switch {
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrTurnInFlight):
		return sessionID, err
	case errors.Is(err, context.Canceled):
		// The client walked away mid-turn. Nothing is persisted and no
		// failure is counted; the turn simply never happened.
		return sessionID, err
	case err != nil:
		s.recordFailure(err)
		s.persistUserMessage(sessionID, req.Message)
		return sessionID, err
	}

	metrics.TurnsCompleted.Inc()
	s.persistUserMessage(sessionID, req.Message)
	// Reassign the stored timestamp so the assistant message sorts
	// after the user message it answers.
	final.CreatedAt = time.Time{}
	if err := s.sessionRepo.CreateMessage(&final); err != nil {
		s.logger.Warn("failed to persist assistant message", zap.Error(err))
	}
	if err := s.sessionRepo.Touch(sessionID); err != nil {
		s.logger.Warn("failed to touch session", zap.Error(err))
	}
	return sessionID, nil
}

// Messages returns the live message list for a conversation, falling
// back to the persisted messages when no controller exists yet.
func (s *ChatService) Messages(sessionID string) ([]domain.Message, error) {
	s.mu.Lock()
	ctrl, ok := s.controllers[sessionID]
	s.mu.Unlock()
	if ok {
		return ctrl.Messages(), nil
	}

	stored, err := s.sessionRepo.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, *m)
	}
	return messages, nil
}

func (s *ChatService) persistUserMessage(sessionID, text string) {
	if err := s.sessionRepo.CreateMessage(&domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   text,
	}); err != nil {
		s.logger.Warn("failed to persist user message", zap.Error(err))
	}
}

func (s *ChatService) recordFailure(err error) {
	var malformed *domain.MalformedPatchError
	if errors.As(err, &malformed) {
		metrics.TurnsFailed.WithLabelValues(metrics.CauseMalformedPatch).Inc()
		return
	}
	metrics.TurnsFailed.WithLabelValues(metrics.CauseTransport).Inc()
}
