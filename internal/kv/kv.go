// Package kv implements the Memory Fabric's single outbound storage
// dependency: a keyed store with SETEX/GET/DEL/LPUSH/LTRIM/EXPIRE/SCAN,
// backed by Redis the same way the teacher's internal/queue talks to
// Redis streams.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the KV contract every memory store (working/episodic/procedural)
// and the Cache Layer are built on.
type Store interface {
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, match string) ([]string, error)
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a *redis.Client as a Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv setex %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv del %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.LPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("kv lpush %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("kv ltrim %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("kv lrange %s: %w", key, err)
	}
	return vals, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("kv expire %s: %w", key, err)
	}
	return nil
}

// Scan returns every key matching the glob pattern. Used sparingly (gate
// listing, debugging) — the hot paths below all address keys directly.
func (s *redisStore) Scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv scan %s: %w", match, err)
	}
	return keys, nil
}

// PutJSON marshals v and SETEXes it.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.SetEx(ctx, key, data, ttl)
}

// GetJSON fetches key and unmarshals into v. Returns found=false on miss.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Keys used throughout the Memory Fabric and Cache Layer (§6).
func ConversationKey(id string) string      { return fmt.Sprintf("conversation:%s", id) }
func EpisodeKey(id string) string           { return fmt.Sprintf("episode:%s", id) }
func EpisodicListKey(userID string) string  { return fmt.Sprintf("episodic:%s", userID) }
func PreferencesKey(userID string) string   { return fmt.Sprintf("preferences:%s", userID) }
func ToolCacheKey(tool, argsHash string) string {
	return fmt.Sprintf("tool_cache:%s:%s", tool, argsHash)
}
func PDFCacheKey(url string) string      { return fmt.Sprintf("pdf_cache:%s", url) }
func PDFPagesCacheKey(url string) string { return fmt.Sprintf("pdf_pages_cache:%s", url) }
func SessionKey(sessionID string) string { return fmt.Sprintf("session:%s", sessionID) }
func GateKey(gateID string) string       { return fmt.Sprintf("gate:%s", gateID) }
func CheckpointKey(sessionID, phase string) string {
	return fmt.Sprintf("checkpoint:%s:%s", sessionID, phase)
}
