package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/remote"
)

type fakeStreamer struct {
	batches []string
	err     error
	onBatch func(i int)
	onEnd   func()
	lastReq remote.StreamRequest
}

func (f *fakeStreamer) StreamLog(ctx context.Context, req remote.StreamRequest, handle func(remote.Batch) error) error {
	f.lastReq = req
	for i, b := range f.batches {
		if f.onBatch != nil {
			f.onBatch(i)
		}
		if err := handle(remote.Batch{Ops: json.RawMessage(b)}); err != nil {
			return err
		}
	}
	if f.onEnd != nil {
		f.onEnd()
	}
	return f.err
}

func newController(f *fakeStreamer) *Controller {
	return NewController("conv-1", "FindDocs", f, zap.NewNop())
}

func TestSubmitEmptyMessageIsNoOp(t *testing.T) {
	c := newController(&fakeStreamer{})

	err := c.Submit(context.Background(), "", "", nil)

	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	require.Empty(t, c.Messages())
	require.Equal(t, StateIdle, c.State())
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	f := &fakeStreamer{batches: []string{`[{"op":"add","path":"/id","value":"run-1"}]`}}
	c := newController(f)

	var nested error
	f.onBatch = func(int) {
		nested = c.Submit(context.Background(), "again", "", nil)
	}

	require.NoError(t, c.Submit(context.Background(), "hello", "", nil))
	require.ErrorIs(t, nested, domain.ErrTurnInFlight)
}

func TestSubmitCompletesTurn(t *testing.T) {
	f := &fakeStreamer{batches: []string{
		`[{"op":"add","path":"/id","value":"run-1"}]`,
		`[{"op":"add","path":"/streamed_output","value":["Refunds are "]}]`,
		`[{"op":"add","path":"/streamed_output/-","value":"possible [0]"}]`,
		`[{"op":"add","path":"/logs/FindDocs/final_output","value":{"output":[
			{"metadata":{"source":"https://docs.example.com/a","crumbs":"Docs | A"}},
			{"metadata":{"source":"https://docs.example.com/a","crumbs":"Docs | A dup"}}
		]}}]`,
	}}
	c := newController(f)

	var updates []Update
	err := c.Submit(context.Background(), "can I refund?", "openai_gpt_3_5_turbo", func(u Update) {
		updates = append(updates, u)
	})
	require.NoError(t, err)

	require.Equal(t, StateCompleted, c.State())
	require.Equal(t, "can I refund?", f.lastReq.Question)
	require.Equal(t, []string{"FindDocs"}, f.lastReq.IncludeNames)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Equal(t, domain.RoleAssistant, msgs[1].Role)
	require.Equal(t, "conv-1", msgs[1].SessionID)
	require.Equal(t, "run-1", msgs[1].RunID)
	// Duplicate-url sources collapse to one canonical entry.
	require.Len(t, msgs[1].Sources, 1)
	require.Contains(t, msgs[1].Content, "Refunds are possible")

	// One update per batch plus the final one.
	require.Len(t, updates, len(f.batches)+1)
	final := updates[len(updates)-1]
	require.True(t, final.Done)
	// The citation marker resolved against the deduplicated list.
	var cited bool
	for _, tok := range final.Tokens {
		if tok.Kind == "citation" {
			cited = true
			require.Equal(t, "https://docs.example.com/a", tok.Source.URL)
			require.Equal(t, 1, tok.Number)
		}
	}
	require.True(t, cited)

	// History records the raw accumulated answer, not rendered HTML.
	history := c.History()
	require.Len(t, history, 1)
	require.Equal(t, "can I refund?", history[0].Human)
	require.Equal(t, "Refunds are possible [0]", history[0].AI)
}

func TestAssistantMessageIsMutatedInPlace(t *testing.T) {
	f := &fakeStreamer{batches: []string{
		`[{"op":"add","path":"/streamed_output","value":["a"]}]`,
		`[{"op":"add","path":"/streamed_output/-","value":"b"}]`,
	}}
	c := newController(f)

	var ids []string
	require.NoError(t, c.Submit(context.Background(), "q", "", func(u Update) {
		ids = append(ids, u.Message.ID)
	}))

	require.Len(t, ids, 3)
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, ids[1], ids[2])
	require.Len(t, c.Messages(), 2)
}

func TestMalformedPatchFailsTurn(t *testing.T) {
	f := &fakeStreamer{batches: []string{
		`[{"op":"add","path":"/streamed_output","value":["good"]}]`,
		`[{"op":"replace","path":"/missing","value":1}]`,
	}}
	c := newController(f)

	err := c.Submit(context.Background(), "q", "", nil)

	var malformed *domain.MalformedPatchError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, StateFailed, c.State())

	// Last good snapshot is kept for display; a generic failure
	// message is appended after it.
	msgs := c.Messages()
	require.Len(t, msgs, 3)
	require.Contains(t, msgs[1].Content, "good")
	require.Equal(t, failureMessage, msgs[2].Content)

	// Failed turns never join the history.
	require.Empty(t, c.History())
}

func TestTransportFailureFailsTurn(t *testing.T) {
	f := &fakeStreamer{err: &domain.TransportError{}}
	c := newController(f)

	err := c.Submit(context.Background(), "q", "", nil)

	var transport *domain.TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, StateFailed, c.State())
	require.Empty(t, c.History())

	// A new submit recovers fully.
	f.err = nil
	f.batches = []string{`[{"op":"add","path":"/streamed_output","value":["fine"]}]`}
	require.NoError(t, c.Submit(context.Background(), "q2", "", nil))
	require.Equal(t, StateCompleted, c.State())
	require.Len(t, c.History(), 1)
}

func TestAbandonDropsLateBatches(t *testing.T) {
	f := &fakeStreamer{batches: []string{
		`[{"op":"add","path":"/streamed_output","value":["early"]}]`,
		`[{"op":"add","path":"/streamed_output/-","value":" late"}]`,
	}}
	c := newController(f)

	f.onBatch = func(i int) {
		if i == 1 {
			c.Abandon()
		}
	}

	var updates int
	err := c.Submit(context.Background(), "q", "", func(Update) { updates++ })

	// Only the pre-abandon batch produced an update, and the session
	// gained no failure message and no history entry.
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, updates)
	require.Empty(t, c.History())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[1].Content, "early")
	require.NotContains(t, msgs[1].Content, "late")
}

func TestCancelledSubmitAbandonsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeStreamer{
		batches: []string{`[{"op":"add","path":"/streamed_output","value":["partial"]}]`},
		err:     &domain.TransportError{Cause: context.Canceled},
	}
	f.onBatch = func(int) { cancel() }
	c := newController(f)

	err := c.Submit(ctx, "q", "", nil)

	// Walking away is not a failure: no failure message, no Failed
	// state, and the next turn is accepted immediately.
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateIdle, c.State())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.NotEqual(t, failureMessage, msgs[1].Content)
	require.Empty(t, c.History())

	f.err = nil
	f.onBatch = nil
	require.NoError(t, c.Submit(context.Background(), "q2", "", nil))
	require.Equal(t, StateCompleted, c.State())
	require.Len(t, c.History(), 1)
}

func TestAbandonBeforeFinalPublishDropsTurn(t *testing.T) {
	f := &fakeStreamer{batches: []string{`[{"op":"add","path":"/streamed_output","value":["almost"]}]`}}
	c := newController(f)
	f.onEnd = c.Abandon

	var finals int
	err := c.Submit(context.Background(), "q", "", func(u Update) {
		if u.Done {
			finals++
		}
	})

	// The stream finished after the turn was abandoned; the final
	// snapshot must not land.
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, finals)
	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.History())
}
