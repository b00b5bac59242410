package service

import (
	"context"

	"go.uber.org/zap"
)

// TraceFetcher is the trace-lookup dependency, satisfied by
// remote.Client.
type TraceFetcher interface {
	GetTrace(ctx context.Context, runID string) (string, error)
}

// TraceService resolves run trace URLs. Purely informational: it never
// mutates conversation state.
type TraceService struct {
	fetcher TraceFetcher
	logger  *zap.Logger
}

// NewTraceService creates a new trace service
func NewTraceService(fetcher TraceFetcher, logger *zap.Logger) *TraceService {
	return &TraceService{fetcher: fetcher, logger: logger}
}

// TraceURL returns the trace URL for a run.
func (s *TraceService) TraceURL(ctx context.Context, runID string) (string, error) {
	url, err := s.fetcher.GetTrace(ctx, runID)
	if err != nil {
		s.logger.Info("trace lookup failed", zap.String("run_id", runID), zap.Error(err))
		return "", err
	}
	return url, nil
}
