package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gasnelio:conversation:"

// RedisStorage keeps each conversation as a Redis list of JSON messages.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage connects to the Redis server at url (redis://...). A
// plain host:port is accepted too. ttl > 0 expires idle conversations.
func NewRedisStorage(ctx context.Context, url string, ttl time.Duration) (*RedisStorage, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStorageWithClient(client, ttl), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func conversationKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

// AppendMessage pushes msg to the end of its conversation list.
func (r *RedisStorage) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := conversationKey(msg.ConversationID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessage scans the conversation for id.
func (r *RedisStorage) GetMessage(ctx context.Context, conversationID, id string) (*models.ConversationMessage, error) {
	msgs, err := r.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
}

// ListMessages returns messages in append order.
func (r *RedisStorage) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*models.ConversationMessage, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	raw, err := r.client.LRange(ctx, conversationKey(conversationID), int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]*models.ConversationMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ConversationMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, nil
}

// CountMessages returns the list length.
func (r *RedisStorage) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	return r.client.LLen(ctx, conversationKey(conversationID)).Result()
}

// DeleteConversation removes the conversation list.
func (r *RedisStorage) DeleteConversation(ctx context.Context, conversationID string) error {
	return r.client.Del(ctx, conversationKey(conversationID)).Err()
}

// Close closes the client.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
