package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/domain"
)

type feedbackPayload struct {
	RunID      string   `json:"run_id"`
	Key        string   `json:"key"`
	Score      *float64 `json:"score,omitempty"`
	Value      string   `json:"value,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	FeedbackID string   `json:"feedback_id,omitempty"`
	IsExplicit bool     `json:"is_explicit"`
}

// SendFeedback posts one feedback record for a run. Failures surface as
// FeedbackSubmissionError and never touch turn state.
func (c *Client) SendFeedback(ctx context.Context, fb domain.Feedback) (domain.FeedbackResponse, error) {
	body, err := json.Marshal(feedbackPayload{
		RunID:      fb.RunID,
		Key:        fb.Key,
		Score:      fb.Score,
		Value:      fb.Value,
		Comment:    fb.Comment,
		FeedbackID: fb.FeedbackID,
		IsExplicit: fb.IsExplicit,
	})
	if err != nil {
		return domain.FeedbackResponse{}, &domain.FeedbackSubmissionError{Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback", bytes.NewReader(body))
	if err != nil {
		return domain.FeedbackResponse{}, &domain.FeedbackSubmissionError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.FeedbackResponse{}, &domain.FeedbackSubmissionError{Cause: err}
	}
	defer resp.Body.Close()

	var out domain.FeedbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.FeedbackResponse{}, &domain.FeedbackSubmissionError{Cause: err}
	}
	if out.Code != http.StatusOK {
		c.logger.Warn("feedback rejected",
			zap.String("run_id", fb.RunID),
			zap.Int("code", out.Code),
		)
		return out, &domain.FeedbackSubmissionError{Code: out.Code}
	}
	return out, nil
}
