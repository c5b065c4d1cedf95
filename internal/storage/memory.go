package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/gasnelio/internal/models"
)

// MemoryStorage keeps messages in process memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	byID map[string][]models.ConversationMessage
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{byID: make(map[string][]models.ConversationMessage)}
}

// AppendMessage stores a copy of msg.
func (m *MemoryStorage) AppendMessage(_ context.Context, msg *models.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[msg.ConversationID] = append(m.byID[msg.ConversationID], *msg)
	return nil
}

// GetMessage returns a message by id.
func (m *MemoryStorage) GetMessage(_ context.Context, conversationID, id string) (*models.ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.byID[conversationID] {
		if msg.ID == id {
			out := msg
			return &out, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
}

// ListMessages returns messages in append order.
func (m *MemoryStorage) ListMessages(_ context.Context, conversationID string, offset, limit int) ([]*models.ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.byID[conversationID]
	start, end := window(len(msgs), offset, limit)
	out := make([]*models.ConversationMessage, 0, end-start)
	for _, msg := range msgs[start:end] {
		msg := msg
		out = append(out, &msg)
	}
	return out, nil
}

// CountMessages returns the number of stored messages.
func (m *MemoryStorage) CountMessages(_ context.Context, conversationID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byID[conversationID])), nil
}

// DeleteConversation drops every message of a conversation.
func (m *MemoryStorage) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, conversationID)
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error { return nil }
