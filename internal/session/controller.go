// Package session drives one conversation: it submits turns to the
// remote service, feeds the patch stream through the assembler, keeps
// the chat history and owns the per-turn error state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/chatrelay/internal/assembler"
	"github.com/user/chatrelay/internal/citation"
	"github.com/user/chatrelay/internal/domain"
	"github.com/user/chatrelay/internal/markdown"
	"github.com/user/chatrelay/internal/remote"
)

// State of the current or last turn.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

// failureMessage is shown in place of an answer when a turn fails.
const failureMessage = "Sorry, something went wrong while processing your request. Please try again later."

// Update is pushed to the caller after every successfully applied
// batch and once more on completion.
type Update struct {
	Message  domain.Message
	Tokens   []citation.RenderToken
	Sources  []domain.Source
	Done     bool
	TurnDone bool
}

// UpdateFunc receives turn updates. It is called sequentially; the next
// batch is not read until it returns.
type UpdateFunc func(Update)

// Streamer is the remote stream dependency, satisfied by remote.Client.
type Streamer interface {
	StreamLog(ctx context.Context, req remote.StreamRequest, handle func(remote.Batch) error) error
}

// Controller owns one conversation. At most one turn is in flight at a
// time; Submit while busy is rejected. The assistant message under
// construction is owned exclusively by the controller for the duration
// of the turn.
type Controller struct {
	conversationID string
	stepName       string
	streamer       Streamer
	logger         *zap.Logger

	mu       sync.Mutex
	state    State
	busy     bool
	turnID   string
	messages []domain.Message
	history  []domain.HistoryEntry
}

// NewController creates a controller for one conversation.
func NewController(conversationID, stepName string, streamer Streamer, logger *zap.Logger) *Controller {
	return &Controller{
		conversationID: conversationID,
		stepName:       stepName,
		streamer:       streamer,
		logger:         logger,
	}
}

// RestoreHistory seeds the completed-turn history, used when resuming a
// persisted conversation. Ignored while a turn is in flight.
func (c *Controller) RestoreHistory(history []domain.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return
	}
	c.history = append([]domain.HistoryEntry{}, history...)
}

// State returns the state of the current or last turn.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the session's message list.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message{}, c.messages...)
}

// History returns a copy of the completed-turn history.
func (c *Controller) History() []domain.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.HistoryEntry{}, c.history...)
}

// Abandon invalidates the active turn and releases the busy flag.
// Late-arriving batches for the abandoned turn are discarded without
// mutating session state.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnID = ""
	c.busy = false
	c.state = StateIdle
}

// Submit runs one turn to completion, invoking onUpdate after every
// applied batch. It returns ErrEmptyMessage for blank input and
// ErrTurnInFlight while a previous turn is still streaming; both leave
// the session untouched. Stream and patch failures mark the turn Failed,
// append a generic failure message and are excluded from history. A
// cancelled context means the caller walked away: the turn is abandoned
// without a failure message and context.Canceled is returned.
func (c *Controller) Submit(ctx context.Context, text, model string, onUpdate UpdateFunc) error {
	c.mu.Lock()
	if text == "" {
		c.mu.Unlock()
		return domain.ErrEmptyMessage
	}
	if c.busy {
		c.mu.Unlock()
		return domain.ErrTurnInFlight
	}
	c.busy = true
	c.state = StateSending
	turnID := uuid.New().String()
	c.turnID = turnID

	// Optimistic user message.
	c.messages = append(c.messages, domain.Message{
		ID:        uuid.New().String(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	history := append([]domain.HistoryEntry{}, c.history...)
	c.mu.Unlock()

	turn := newTurn(turnID, c.stepName)

	err := c.streamer.StreamLog(ctx, remote.StreamRequest{
		Question:       text,
		ChatHistory:    history,
		Model:          model,
		ConversationID: c.conversationID,
		IncludeNames:   []string{c.stepName},
	}, func(batch remote.Batch) error {
		return c.applyBatch(turn, batch, onUpdate)
	})

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.abandon(turnID)
			return context.Canceled
		}
		c.fail(turnID, err, onUpdate)
		return err
	}
	if !c.complete(text, turn, onUpdate) {
		return context.Canceled
	}
	return nil
}

// applyBatch advances the turn by one batch and publishes the refreshed
// assistant message. Batches for a turn that is no longer active are
// dropped.
func (c *Controller) applyBatch(turn *turn, batch remote.Batch, onUpdate UpdateFunc) error {
	c.mu.Lock()
	if c.turnID != turn.id {
		c.mu.Unlock()
		return context.Canceled
	}
	c.state = StateStreaming
	c.mu.Unlock()

	if err := turn.apply(batch.Ops); err != nil {
		return err
	}

	update, ok := c.publish(turn, false, "")
	if !ok {
		return context.Canceled
	}
	if onUpdate != nil {
		onUpdate(update)
	}
	return nil
}

// publish re-derives the assistant message and render stream from the
// turn's current snapshot and stores the message in the session list.
// The turn identity is re-checked under the lock, so a snapshot racing
// an Abandon never lands after the turn is gone. When done is set the
// turn is also finalized under the same lock: the raw answer joins the
// history and the busy flag is released.
func (c *Controller) publish(turn *turn, done bool, question string) (Update, bool) {
	html := markdown.Render(turn.asm.Text())
	dedupe := citation.Dedupe(turn.asm.Sources())
	tokens := citation.Resolve(html, dedupe)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turnID != turn.id {
		return Update{}, false
	}

	msg := domain.Message{
		SessionID: c.conversationID,
		Role:      domain.RoleAssistant,
		Content:   html,
		RunID:     turn.asm.RunID(),
		Sources:   dedupe.Filtered,
	}
	if turn.messageIndex < 0 {
		msg.ID = uuid.New().String()
		msg.CreatedAt = time.Now()
		turn.messageIndex = len(c.messages)
		c.messages = append(c.messages, msg)
	} else {
		msg.ID = c.messages[turn.messageIndex].ID
		msg.CreatedAt = c.messages[turn.messageIndex].CreatedAt
		c.messages[turn.messageIndex] = msg
	}

	if done {
		c.history = append(c.history, domain.HistoryEntry{Human: question, AI: turn.asm.Text()})
		c.state = StateCompleted
		c.busy = false
		c.turnID = ""
	}

	return Update{
		Message:  msg,
		Tokens:   tokens,
		Sources:  dedupe.Filtered,
		Done:     done,
		TurnDone: done,
	}, true
}

// complete finalizes a successful turn: the raw accumulated answer (not
// the rendered HTML) joins the history passed back on later turns. It
// reports false when the turn was abandoned before finalization.
func (c *Controller) complete(question string, turn *turn, onUpdate UpdateFunc) bool {
	update, ok := c.publish(turn, true, question)
	if !ok {
		return false
	}
	if onUpdate != nil {
		onUpdate(update)
	}
	return true
}

// abandon releases a specific turn without appending a failure message.
// A no-op when the turn is no longer active.
func (c *Controller) abandon(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnID != turnID {
		return
	}
	c.turnID = ""
	c.busy = false
	c.state = StateIdle
}

// fail marks the turn Failed and appends a generic failure message. The
// turn is excluded from history so a broken answer never becomes
// context for the next one.
func (c *Controller) fail(turnID string, cause error, onUpdate UpdateFunc) {
	c.mu.Lock()
	if c.turnID != turnID {
		c.mu.Unlock()
		return
	}
	var malformed *domain.MalformedPatchError
	if errors.As(cause, &malformed) {
		c.logger.Warn("turn aborted on malformed patch", zap.Error(cause))
	} else {
		c.logger.Warn("turn aborted on transport failure", zap.Error(cause))
	}

	msg := domain.Message{
		ID:        uuid.New().String(),
		SessionID: c.conversationID,
		Role:      domain.RoleAssistant,
		Content:   failureMessage,
		CreatedAt: time.Now(),
	}
	c.messages = append(c.messages, msg)
	c.state = StateFailed
	c.busy = false
	c.turnID = ""
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(Update{Message: msg, Tokens: []citation.RenderToken{{Kind: citation.TokenText, HTML: failureMessage}}, Done: true, TurnDone: true})
	}
}

// turn is the per-submission assembly state.
type turn struct {
	id           string
	asm          *assembler.Assembler
	messageIndex int
}

func newTurn(id, stepName string) *turn {
	return &turn{id: id, asm: assembler.New(stepName), messageIndex: -1}
}

func (t *turn) apply(ops []byte) error {
	return t.asm.Apply(ops)
}
