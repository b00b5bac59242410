package domain

import (
	"strings"
	"time"
)

// Session represents a conversation scope for one client
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role values for Message
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message represents a chat message. Assistant messages are mutated in
// place while the answer streams; messages are only appended to, never
// removed from, the session's message list.
type Message struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id,omitempty"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	RunID            string    `json:"run_id,omitempty"`
	Sources          []Source  `json:"sources,omitempty"`
	Name             string    `json:"name,omitempty"`
	FunctionCallName string    `json:"function_call_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Source is a retrieved source document. Identity is URL: two sources
// with equal URL are the same document regardless of title.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Crumb returns the leading breadcrumb segment of the title. Retrieval
// titles look like "Docs | Payments | Refunds".
func (s Source) Crumb() string {
	head, _, _ := strings.Cut(s.Title, " | ")
	return head
}

// Section returns the title with the leading breadcrumb removed.
func (s Source) Section() string {
	_, rest, _ := strings.Cut(s.Title, " | ")
	return rest
}

// Anchor returns the fragment part of the source URL, if any.
func (s Source) Anchor() string {
	_, frag, _ := strings.Cut(s.URL, "#")
	return frag
}

// HistoryEntry is one completed turn, passed back to the remote service
// as conversational context. Append-only, never mutated after creation.
type HistoryEntry struct {
	Human string `json:"human"`
	AI    string `json:"ai"`
}

// ChatRequest is the request to start a turn
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message" binding:"required"`
	Model     string `json:"model,omitempty"`
}
