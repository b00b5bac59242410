package domain

// Feedback is a side-channel report about a run: an explicit user score
// or an implicit signal such as a source click. Fire-and-forget relative
// to the turn state machine.
type Feedback struct {
	RunID      string   `json:"run_id"`
	Key        string   `json:"key"`
	Score      *float64 `json:"score,omitempty"`
	Value      string   `json:"value,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	FeedbackID string   `json:"feedback_id,omitempty"`
	IsExplicit bool     `json:"is_explicit"`
}

// Feedback keys understood by the remote service.
const (
	FeedbackKeyScore = "user_score"
	FeedbackKeyClick = "user_click"
)

// FeedbackResponse is the remote service's acknowledgement.
type FeedbackResponse struct {
	Code       int    `json:"code"`
	FeedbackID string `json:"feedbackId"`
}
