// Package remote talks to the question-answering service: the run-log
// patch stream that carries the answer, and the feedback and trace side
// channels.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/domain"
)

// Client is an HTTP client for the remote runnable.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the service at baseURL. timeout bounds
// the whole stream; exceeding it surfaces as a transport failure.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StreamRequest is one turn submission.
type StreamRequest struct {
	Question       string
	ChatHistory    []domain.HistoryEntry
	Model          string
	ConversationID string
	// IncludeNames restricts the run log to the named steps, so the
	// retrieval step's output arrives without the rest of the graph.
	IncludeNames []string
}

// Batch is one stream chunk: an ordered array of patch operations.
type Batch struct {
	Ops json.RawMessage
}

type streamPayload struct {
	Input        streamInput  `json:"input"`
	Config       streamConfig `json:"config"`
	IncludeNames []string     `json:"include_names,omitempty"`
}

type streamInput struct {
	Question    string                `json:"question"`
	ChatHistory []domain.HistoryEntry `json:"chat_history"`
}

type streamConfig struct {
	Configurable map[string]string `json:"configurable,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// StreamLog opens the run-log stream for one turn and invokes handle
// for every batch, in arrival order. handle runs to completion before
// the next batch is read, so processing is strictly sequential. A non-
// nil handle error aborts the stream and is returned unchanged; all
// transport-level failures are wrapped in TransportError.
func (c *Client) StreamLog(ctx context.Context, req StreamRequest, handle func(Batch) error) error {
	payload := streamPayload{
		Input: streamInput{
			Question:    req.Question,
			ChatHistory: append([]domain.HistoryEntry{}, req.ChatHistory...),
		},
		IncludeNames: req.IncludeNames,
	}
	if req.Model != "" {
		payload.Config.Configurable = map[string]string{"llm": req.Model}
		payload.Config.Tags = []string{"model:" + req.Model}
		payload.Config.Metadata = map[string]string{
			"conversation_id": req.ConversationID,
			"llm":             req.Model,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.TransportError{Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream_log", bytes.NewReader(body))
	if err != nil {
		return &domain.TransportError{Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &domain.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.TransportError{Cause: fmt.Errorf("stream open: status %d", resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "", "data":
				var chunk struct {
					Ops json.RawMessage `json:"ops"`
				}
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					return &domain.TransportError{Cause: fmt.Errorf("decode chunk: %w", err)}
				}
				if len(chunk.Ops) == 0 {
					continue
				}
				if err := handle(Batch{Ops: chunk.Ops}); err != nil {
					return err
				}
			case "error":
				return &domain.TransportError{Cause: errors.New(data)}
			case "end":
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &domain.TransportError{Cause: err}
	}
	return nil
}
