package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/gasnelio/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// seq orders messages by insertion; timestamps can tie.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		persona TEXT NOT NULL,
		retry_of TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// AppendMessage inserts a message.
func (s *SQLiteStorage) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, persona, retry_of, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, string(msg.Persona), msg.RetryOf, msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by ID.
func (s *SQLiteStorage) GetMessage(ctx context.Context, conversationID, id string) (*models.ConversationMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, persona, retry_of, created_at
		 FROM messages WHERE conversation_id = ? AND id = ?`, conversationID, id,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns messages of a conversation in append order.
// limit <= 0 returns every message from offset on.
func (s *SQLiteStorage) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*models.ConversationMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, persona, retry_of, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.ConversationMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStorage) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// DeleteConversation removes every message of a conversation.
func (s *SQLiteStorage) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// SizeBytes returns the on-disk size of the database and its WAL files.
// Missing files count as zero.
func (s *SQLiteStorage) SizeBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*models.ConversationMessage, error) {
	var (
		msg           models.ConversationMessage
		role, persona string
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &persona, &msg.RetryOf, &msg.Timestamp); err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	msg.Persona = models.PersonaID(persona)
	return &msg, nil
}
