// Package storage persists conversation messages.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/gasnelio/internal/models"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("not found")

// Storage is an append-only conversation message store. Messages are listed
// in the order they were appended.
type Storage interface {
	AppendMessage(ctx context.Context, msg *models.ConversationMessage) error
	GetMessage(ctx context.Context, conversationID, id string) (*models.ConversationMessage, error)
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*models.ConversationMessage, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)
	DeleteConversation(ctx context.Context, conversationID string) error

	Close() error
}

// Nop discards every message. The chat works without persistence.
type Nop struct{}

func (Nop) AppendMessage(context.Context, *models.ConversationMessage) error { return nil }

func (Nop) GetMessage(_ context.Context, _, id string) (*models.ConversationMessage, error) {
	return nil, ErrNotFound
}

func (Nop) ListMessages(context.Context, string, int, int) ([]*models.ConversationMessage, error) {
	return nil, nil
}

func (Nop) CountMessages(context.Context, string) (int64, error) { return 0, nil }

func (Nop) DeleteConversation(context.Context, string) error { return nil }

func (Nop) Close() error { return nil }

// window applies offset and limit to n items. limit <= 0 means no limit.
func window(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
