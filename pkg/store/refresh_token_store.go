package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRefreshPrefix = "schoollib:auth:refresh"

var (
	// ErrInvalidRefreshToken indicates token not found or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates a rotated-out token was presented again.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore keeps refresh token families with rotation and replay
// detection. Presenting a rotated-out token revokes its whole family.
type RefreshTokenStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Rotate(ctx context.Context, token string, ttl time.Duration) (userID, next string, err error)
	Revoke(ctx context.Context, token string) error
	RevokeUser(ctx context.Context, userID string) error
}

type refreshFamily struct {
	userID  string
	current string
	hashes  []string
	expiry  time.Time
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu       sync.Mutex
	families map[string]*refreshFamily      // family ID -> family
	byHash   map[string]string              // token hash -> family ID
	byUser   map[string]map[string]struct{} // user ID -> family IDs
	now      func() time.Time
}

// NewMemoryRefreshTokenStore constructs an in-memory refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families: make(map[string]*refreshFamily),
		byHash:   make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryRefreshTokenStore) Issue(_ context.Context, userID string, ttl time.Duration) (string, error) {
	token, familyID, err := newRefreshPair()
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[familyID] = &refreshFamily{
		userID:  userID,
		current: hash,
		hashes:  []string{hash},
		expiry:  s.now().Add(ttl),
	}
	s.byHash[hash] = familyID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][familyID] = struct{}{}
	return token, nil
}

func (s *MemoryRefreshTokenStore) Rotate(_ context.Context, token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	familyID, ok := s.byHash[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family := s.families[familyID]
	if family == nil || s.now().After(family.expiry) {
		s.dropFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.current != hash {
		s.dropFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}
	next, err := generateRefreshToken()
	if err != nil {
		return "", "", err
	}
	nextHash := refreshTokenHash(next)
	family.current = nextHash
	family.hashes = append(family.hashes, nextHash)
	family.expiry = s.now().Add(ttl)
	s.byHash[nextHash] = familyID
	return family.userID, next, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if familyID, ok := s.byHash[refreshTokenHash(token)]; ok {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for familyID := range s.byUser[userID] {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamilyLocked(familyID string) {
	family := s.families[familyID]
	if family == nil {
		return
	}
	for _, h := range family.hashes {
		delete(s.byHash, h)
	}
	delete(s.families, familyID)
	if fams := s.byUser[family.userID]; fams != nil {
		delete(fams, familyID)
		if len(fams) == 0 {
			delete(s.byUser, family.userID)
		}
	}
}

// rotateScript swaps the family's current hash atomically. KEYS[1] is the
// presented token's key; ARGV is {hash, nextHash, ttlMillis, prefix}.
// Returns {status, familyID, userID}. Single-node Redis only: family keys
// are derived from the prefix inside the script.
var rotateScript = redis.NewScript(`
local fam = redis.call('GET', KEYS[1])
if not fam then return {'invalid'} end
local fkey = ARGV[4] .. ':family:' .. fam
local cur = redis.call('HGET', fkey, 'current')
local uid = redis.call('HGET', fkey, 'user')
if not cur or not uid then return {'invalid', fam, ''} end
if cur ~= ARGV[1] then return {'replay', fam, uid} end
redis.call('HSET', fkey, 'current', ARGV[2])
redis.call('PEXPIRE', fkey, ARGV[3])
redis.call('SET', ARGV[4] .. ':token:' .. ARGV[2], fam, 'PX', ARGV[3])
redis.call('SADD', ARGV[4] .. ':family_tokens:' .. fam, ARGV[2])
redis.call('PEXPIRE', ARGV[4] .. ':family_tokens:' .. fam, ARGV[3])
return {'ok', fam, uid}
`)

// RedisRefreshTokenStore stores refresh token families in Redis.
type RedisRefreshTokenStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRefreshTokenStore builds a Redis-backed refresh token store.
func NewRedisRefreshTokenStore(client redis.UniversalClient, prefix string) *RedisRefreshTokenStore {
	if prefix == "" {
		prefix = defaultRefreshPrefix
	}
	return &RedisRefreshTokenStore{client: client, prefix: prefix}
}

func (s *RedisRefreshTokenStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, familyID, err := newRefreshPair()
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(hash), familyID, ttl)
	pipe.HSet(ctx, s.familyKey(familyID), "user", userID, "current", hash)
	pipe.Expire(ctx, s.familyKey(familyID), ttl)
	pipe.SAdd(ctx, s.familyTokensKey(familyID), hash)
	pipe.Expire(ctx, s.familyTokensKey(familyID), ttl)
	pipe.SAdd(ctx, s.userKey(userID), familyID)
	pipe.Expire(ctx, s.userKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) Rotate(ctx context.Context, token string, ttl time.Duration) (string, string, error) {
	next, err := generateRefreshToken()
	if err != nil {
		return "", "", err
	}
	hash := refreshTokenHash(token)
	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.tokenKey(hash)},
		hash, refreshTokenHash(next), ttl.Milliseconds(), s.prefix,
	).StringSlice()
	if err != nil {
		return "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	switch {
	case len(res) == 3 && res[0] == "ok":
		if err := s.client.Expire(ctx, s.userKey(res[2]), ttl).Err(); err != nil {
			return "", "", err
		}
		return res[2], next, nil
	case len(res) == 3 && res[0] == "replay":
		if err := s.dropFamily(ctx, res[1], res[2]); err != nil {
			return "", "", err
		}
		return "", "", ErrRefreshTokenReplay
	case len(res) == 3:
		if err := s.dropFamily(ctx, res[1], res[2]); err != nil {
			return "", "", err
		}
	}
	return "", "", ErrInvalidRefreshToken
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, token string) error {
	familyID, err := s.client.Get(ctx, s.tokenKey(refreshTokenHash(token))).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	userID, err := s.client.HGet(ctx, s.familyKey(familyID), "user").Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return s.dropFamily(ctx, familyID, userID)
}

func (s *RedisRefreshTokenStore) RevokeUser(ctx context.Context, userID string) error {
	familyIDs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.dropFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, s.userKey(userID)).Err()
}

func (s *RedisRefreshTokenStore) dropFamily(ctx context.Context, familyID, userID string) error {
	hashes, err := s.client.SMembers(ctx, s.familyTokensKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, s.tokenKey(h))
	}
	pipe.Del(ctx, s.familyTokensKey(familyID), s.familyKey(familyID))
	if userID != "" {
		pipe.SRem(ctx, s.userKey(userID), familyID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRefreshTokenStore) tokenKey(hash string) string {
	return s.prefix + ":token:" + hash
}

func (s *RedisRefreshTokenStore) familyKey(familyID string) string {
	return s.prefix + ":family:" + familyID
}

func (s *RedisRefreshTokenStore) familyTokensKey(familyID string) string {
	return s.prefix + ":family_tokens:" + familyID
}

func (s *RedisRefreshTokenStore) userKey(userID string) string {
	return s.prefix + ":user_families:" + userID
}

func newRefreshPair() (token, familyID string, err error) {
	if token, err = generateRefreshToken(); err != nil {
		return "", "", err
	}
	buf := make([]byte, 16)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	return token, hex.EncodeToString(buf), nil
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
