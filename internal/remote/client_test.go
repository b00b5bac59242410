package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient(url, 5*time.Second, zap.NewNop())
}

func TestStreamLogDeliversBatchesInOrder(t *testing.T) {
	var gotBody streamPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/stream_log", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: data\n")
		fmt.Fprint(w, `data: {"ops":[{"op":"add","path":"/id","value":"run-1"}]}`+"\n\n")
		fmt.Fprint(w, "event: data\n")
		fmt.Fprint(w, `data: {"ops":[{"op":"add","path":"/streamed_output","value":["hi"]}]}`+"\n\n")
		fmt.Fprint(w, "event: end\n")
		fmt.Fprint(w, "data: \n\n")
	}))
	defer srv.Close()

	var batches []string
	err := newTestClient(srv.URL).StreamLog(context.Background(), StreamRequest{
		Question:       "q",
		Model:          "openai_gpt_3_5_turbo",
		ConversationID: "conv-1",
		IncludeNames:   []string{"FindDocs"},
	}, func(b Batch) error {
		batches = append(batches, string(b.Ops))
		return nil
	})

	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Contains(t, batches[0], "run-1")
	require.Contains(t, batches[1], "streamed_output")

	require.Equal(t, "q", gotBody.Input.Question)
	require.Equal(t, []string{"FindDocs"}, gotBody.IncludeNames)
	require.Equal(t, "openai_gpt_3_5_turbo", gotBody.Config.Configurable["llm"])
	require.Equal(t, []string{"model:openai_gpt_3_5_turbo"}, gotBody.Config.Tags)
	require.Equal(t, "conv-1", gotBody.Config.Metadata["conversation_id"])
}

func TestStreamLogErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: error\ndata: upstream exploded\n\n")
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).StreamLog(context.Background(), StreamRequest{Question: "q"}, func(Batch) error {
		t.Fatal("no batch expected")
		return nil
	})

	var transport *domain.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestStreamLogBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).StreamLog(context.Background(), StreamRequest{Question: "q"}, func(Batch) error { return nil })

	var transport *domain.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestStreamLogHandlerErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"ops":[{"op":"add","path":"/id","value":"x"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"ops":[{"op":"add","path":"/id2","value":"y"}]}`+"\n\n")
	}))
	defer srv.Close()

	boom := errors.New("boom")
	calls := 0
	err := newTestClient(srv.URL).StreamLog(context.Background(), StreamRequest{Question: "q"}, func(Batch) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestSendFeedback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/feedback", r.URL.Path)
		var got feedbackPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, domain.FeedbackKeyScore, got.Key)
		require.True(t, got.IsExplicit)
		json.NewEncoder(w).Encode(domain.FeedbackResponse{Code: 200, FeedbackID: "fb-1"})
	}))
	defer srv.Close()

	score := 1.0
	resp, err := newTestClient(srv.URL).SendFeedback(context.Background(), domain.Feedback{
		RunID:      "run-1",
		Key:        domain.FeedbackKeyScore,
		Score:      &score,
		IsExplicit: true,
	})
	require.NoError(t, err)
	require.Equal(t, "fb-1", resp.FeedbackID)
}

func TestSendFeedbackRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.FeedbackResponse{Code: 500})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SendFeedback(context.Background(), domain.Feedback{RunID: "run-1", Key: domain.FeedbackKeyClick})

	var submission *domain.FeedbackSubmissionError
	require.ErrorAs(t, err, &submission)
	require.Equal(t, 500, submission.Code)
}

func TestGetTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get_trace", r.URL.Path)
		fmt.Fprint(w, `"https://smith.example.com/runs/run-1"`)
	}))
	defer srv.Close()

	url, err := newTestClient(srv.URL).GetTrace(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "https://smith.example.com/runs/run-1", url)
}

func TestGetTraceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":400}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetTrace(context.Background(), "run-1")
	require.ErrorIs(t, err, domain.ErrTraceUnavailable)
}
