package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRevocationPrefix = "schoollib:auth:revoked"
	// userCutoffTTL bounds how long a per-user cutoff outlives the longest
	// access token it can affect.
	userCutoffTTL = 24 * time.Hour
)

// TokenRevoker tracks revoked token ids until they expire, plus per-user
// cutoffs that invalidate every token issued at or before a point in time.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	RevokeUser(ctx context.Context, userID string, since time.Time) error
	RevokedAfter(ctx context.Context, userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revocations in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
	now     func() time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *MemoryTokenRevoker) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = r.now().Add(ttl)
	r.mu.Unlock()
	return nil
}

func (r *MemoryTokenRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeUser keeps the latest cutoff seen for the user.
func (r *MemoryTokenRevoker) RevokeUser(_ context.Context, userID string, since time.Time) error {
	since = since.UTC()
	r.mu.Lock()
	if prev, ok := r.cutoffs[userID]; !ok || since.After(prev) {
		r.cutoffs[userID] = since
	}
	r.mu.Unlock()
	return nil
}

func (r *MemoryTokenRevoker) RevokedAfter(_ context.Context, userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

// RedisTokenRevoker stores revocations in Redis with TTL so every replica
// of the auth service sees them.
type RedisTokenRevoker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTokenRevoker builds a Redis-backed revoker on a shared client.
func NewRedisTokenRevoker(client redis.UniversalClient, prefix string) *RedisTokenRevoker {
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &RedisTokenRevoker{client: client, prefix: prefix}
}

func (r *RedisTokenRevoker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.tokenKey(tokenID), "1", ttl).Err()
}

func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisTokenRevoker) RevokeUser(ctx context.Context, userID string, since time.Time) error {
	prev, err := r.RevokedAfter(ctx, userID)
	if err != nil {
		return err
	}
	if !prev.IsZero() && !since.After(prev) {
		return nil
	}
	value := strconv.FormatInt(since.UTC().UnixNano(), 10)
	return r.client.Set(ctx, r.userKey(userID), value, userCutoffTTL).Err()
}

func (r *RedisTokenRevoker) RevokedAfter(ctx context.Context, userID string) (time.Time, error) {
	raw, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func (r *RedisTokenRevoker) tokenKey(tokenID string) string {
	return r.prefix + ":jti:" + tokenID
}

func (r *RedisTokenRevoker) userKey(userID string) string {
	return r.prefix + ":user:" + userID
}
