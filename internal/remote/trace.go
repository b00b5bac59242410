package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/chatrelay/internal/domain"
)

// GetTrace asks the remote service for the trace URL of a run. The
// endpoint answers either with a quoted URL string or with a failure
// object carrying code 400, which maps to ErrTraceUnavailable.
func (c *Client) GetTrace(ctx context.Context, runID string) (string, error) {
	body, err := json.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/get_trace", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get_trace: status %d", resp.StatusCode)
	}

	var failure struct {
		Code int `json:"code"`
	}
	if json.Unmarshal(raw, &failure) == nil && failure.Code == http.StatusBadRequest {
		return "", domain.ErrTraceUnavailable
	}

	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		url = strings.Trim(strings.TrimSpace(string(raw)), `"'`)
	}
	if url == "" {
		return "", domain.ErrTraceUnavailable
	}
	return url, nil
}
