package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/learnloop/converse/messages"
	"github.com/learnloop/converse/pkg/uuidx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation, message, or token does not
// exist.
var ErrNotFound = errors.New("not found")

// Conversation is a chat conversation owned by one user. Only the owner
// may read or extend it.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted chat message. Token counts are populated only
// when the provider reports usage.
type Message struct {
	ID               int64         `json:"id"`
	ConversationID   string        `json:"-"`
	Role             messages.Role `json:"role"`
	Content          string        `json:"content"`
	Model            string        `json:"model,omitempty"`
	PromptTokens     *int          `json:"prompt_tokens"`
	CompletionTokens *int          `json:"completion_tokens"`
	CreatedAt        time.Time     `json:"created_at"`
}

// AppendParams describes a message to append to a conversation.
type AppendParams struct {
	Role             messages.Role
	Content          string
	Model            string
	PromptTokens     *int
	CompletionTokens *int
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id   TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER,
	completion_tokens INTEGER,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS api_tokens (
	digest     TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use a file path; sqlite's in-memory mode does not survive the
// connection pool.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateConversation creates an empty conversation owned by ownerID.
func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:        uuidx.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Conversation loads one conversation by id.
func (s *Store) Conversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

// Conversations lists the owner's conversations, most recently updated
// first.
func (s *Store) Conversations(ctx context.Context, ownerID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations
		 WHERE owner_id = ? ORDER BY updated_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Owns reports whether ownerID owns the conversation. A missing
// conversation is simply not owned.
func (s *Store) Owns(ctx context.Context, ownerID, conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ? AND owner_id = ?`, conversationID, ownerID).
		Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ownership: %w", err)
	}
	return true, nil
}

// Messages returns the conversation's messages in append order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, model, prompt_tokens, completion_tokens, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Model,
			&msg.PromptTokens, &msg.CompletionTokens, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// AppendMessage appends one message to the conversation and bumps its
// updated_at, in a single transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, p AppendParams) (Message, error) {
	if !p.Role.Valid() {
		return Message{}, fmt.Errorf("invalid role %q", p.Role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, model, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, string(p.Role), p.Content, p.Model, p.PromptTokens, p.CompletionTokens, now)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("append message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append: %w", err)
	}

	return Message{
		ID:               id,
		ConversationID:   conversationID,
		Role:             p.Role,
		Content:          p.Content,
		Model:            p.Model,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		CreatedAt:        now,
	}, nil
}

// CreateToken mints a bearer token for userID and stores its digest. The
// raw token is returned once and never persisted.
func (s *Store) CreateToken(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	token := hex.EncodeToString(buf)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (digest, user_id, created_at) VALUES (?, ?, ?)`,
		tokenDigest(token), userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// UserForToken resolves a bearer token to its user id, or ErrNotFound.
func (s *Store) UserForToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM api_tokens WHERE digest = ?`, tokenDigest(token)).
		Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	return userID, nil
}

// tokenDigest hashes tokens before storage so a leaked database does not
// leak credentials; the digest lookup also avoids variable-time string
// comparison against raw tokens.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
