package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/user/chatrelay/internal/domain"
)

// SessionRepository handles session and message persistence
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(session *domain.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO sessions (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, session.ID, session.CreatedAt, session.UpdatedAt)

	return err
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(id string) (*domain.Session, error) {
	session := &domain.Session{}

	err := r.db.QueryRow(`
		SELECT id, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Touch updates a session's updated_at timestamp
func (r *SessionRepository) Touch(id string) error {
	_, err := r.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// CreateMessage creates a new message
func (r *SessionRepository) CreateMessage(message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	sourcesJSON, _ := json.Marshal(message.Sources)

	_, err := r.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, run_id, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, message.ID, message.SessionID, message.Role, message.Content,
		message.RunID, string(sourcesJSON), message.CreatedAt)

	return err
}

// GetMessages retrieves all messages for a session in creation order
func (r *SessionRepository) GetMessages(sessionID string) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, role, content, run_id, sources, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		var runID, sourcesJSON sql.NullString

		if err := rows.Scan(&message.ID, &message.SessionID, &message.Role,
			&message.Content, &runID, &sourcesJSON, &message.CreatedAt); err != nil {
			return nil, err
		}

		if runID.Valid {
			message.RunID = runID.String
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			json.Unmarshal([]byte(sourcesJSON.String), &message.Sources)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// GetHistory reconstructs the completed-turn history for a session from
// its stored user/assistant message pairs.
func (r *SessionRepository) GetHistory(sessionID string) ([]domain.HistoryEntry, error) {
	messages, err := r.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}

	var history []domain.HistoryEntry
	var pendingHuman string
	var havePending bool
	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			pendingHuman = m.Content
			havePending = true
		case domain.RoleAssistant:
			if havePending {
				history = append(history, domain.HistoryEntry{Human: pendingHuman, AI: m.Content})
				havePending = false
			}
		}
	}
	return history, nil
}

// CountTurns returns the total number of user messages across sessions
func (r *SessionRepository) CountTurns() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE role = 'user'`).Scan(&count)
	return count, err
}
