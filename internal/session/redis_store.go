// Package session provides Redis-backed storage for unsaved working copies
// and revoked access tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"

	"github.com/redis/go-redis/v9"
)

const DefaultWorkingCopyTTL = 7 * 24 * time.Hour

// workingCopy is what is stored for a draft whose latest edits have not
// reached the database yet.
type workingCopy struct {
	Content   string             `json:"content"`
	Citations []content.Citation `json:"citations"`
	StashedAt time.Time          `json:"stashed_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings before returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "scribe:",
		ttl:    DefaultWorkingCopyTTL,
	}
}

func (s *RedisStore) workingCopyKey(draftID string) string {
	return s.prefix + "wc:" + draftID
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

func (s *RedisStore) StashWorkingCopy(ctx context.Context, draftID string, payload autosave.Payload) error {
	data, err := json.Marshal(workingCopy{
		Content:   payload.Content,
		Citations: payload.Citations,
		StashedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal working copy: %w", err)
	}
	if err := s.client.Set(ctx, s.workingCopyKey(draftID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("stash working copy: %w", err)
	}
	return nil
}

// LookupWorkingCopy reports false when nothing is stashed or it expired.
func (s *RedisStore) LookupWorkingCopy(ctx context.Context, draftID string) (autosave.Payload, bool, error) {
	raw, err := s.client.Get(ctx, s.workingCopyKey(draftID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return autosave.Payload{}, false, nil
	}
	if err != nil {
		return autosave.Payload{}, false, fmt.Errorf("lookup working copy: %w", err)
	}

	var data workingCopy
	if err := json.Unmarshal(raw, &data); err != nil {
		return autosave.Payload{}, false, fmt.Errorf("unmarshal working copy: %w", err)
	}
	if data.Citations == nil {
		data.Citations = []content.Citation{}
	}
	return autosave.Payload{Content: data.Content, Citations: data.Citations}, true, nil
}

func (s *RedisStore) ClearWorkingCopy(ctx context.Context, draftID string) error {
	if err := s.client.Del(ctx, s.workingCopyKey(draftID)).Err(); err != nil {
		return fmt.Errorf("clear working copy: %w", err)
	}
	return nil
}

// RevokeToken blocks a token id until it would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
