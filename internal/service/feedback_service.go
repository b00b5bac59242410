package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/metrics"
)

// FeedbackSender is the side-channel dependency, satisfied by
// remote.Client.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, fb domain.Feedback) (domain.FeedbackResponse, error)
}

// FeedbackService forwards feedback to the remote service. Submissions
// are fire-and-forget with respect to the turn state machine: failures
// surface only as a notification to the caller and leave no recorded
// state, so the user may retry.
type FeedbackService struct {
	sender FeedbackSender
	logger *zap.Logger

	mu   sync.Mutex
	sent map[string]string // run id -> feedback id of the recorded explicit score
}

// NewFeedbackService creates a new feedback service
func NewFeedbackService(sender FeedbackSender, logger *zap.Logger) *FeedbackService {
	return &FeedbackService{
		sender: sender,
		logger: logger,
		sent:   make(map[string]string),
	}
}

// SubmitScore records an explicit user score for a run. A second score
// for the same run is rejected with ErrFeedbackAlreadySent.
func (s *FeedbackService) SubmitScore(ctx context.Context, runID string, score float64, comment string) (domain.FeedbackResponse, error) {
	s.mu.Lock()
	if _, ok := s.sent[runID]; ok {
		s.mu.Unlock()
		return domain.FeedbackResponse{}, domain.ErrFeedbackAlreadySent
	}
	s.mu.Unlock()

	resp, err := s.sender.SendFeedback(ctx, domain.Feedback{
		RunID:      runID,
		Key:        domain.FeedbackKeyScore,
		Score:      &score,
		Comment:    comment,
		IsExplicit: true,
	})
	if err != nil {
		metrics.FeedbackSubmitted.WithLabelValues(domain.FeedbackKeyScore, "error").Inc()
		return domain.FeedbackResponse{}, err
	}

	s.mu.Lock()
	s.sent[runID] = resp.FeedbackID
	s.mu.Unlock()
	metrics.FeedbackSubmitted.WithLabelValues(domain.FeedbackKeyScore, "ok").Inc()
	return resp, nil
}

// RecordClick reports an implicit source-click signal. It is detached
// from the caller: submission runs in the background and failures are
// only logged.
func (s *FeedbackService) RecordClick(runID, url string) {
	if runID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.sender.SendFeedback(ctx, domain.Feedback{
			RunID:      runID,
			Key:        domain.FeedbackKeyClick,
			Value:      url,
			IsExplicit: false,
		})
		if err != nil {
			metrics.FeedbackSubmitted.WithLabelValues(domain.FeedbackKeyClick, "error").Inc()
			s.logger.Warn("click feedback failed", zap.String("run_id", runID), zap.Error(err))
			return
		}
		metrics.FeedbackSubmitted.WithLabelValues(domain.FeedbackKeyClick, "ok").Inc()
	}()
}
