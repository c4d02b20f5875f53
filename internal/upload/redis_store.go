package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"videoscope/internal/models"
	"videoscope/internal/redis"
)

const sessionKeyPrefix = "uploads:"

// RedisStore keeps session records in the same redis as job state, so any
// server instance can accept chunks for any session.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *RedisStore) Save(ctx context.Context, session *models.UploadSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), data, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*models.UploadSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(id))
	if err != nil {
		if err == redis.ErrCacheMiss {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session models.UploadSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)); err != nil && err != redis.ErrCacheMiss {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) LiveIDs(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
	}
	return ids, nil
}
