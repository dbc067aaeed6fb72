package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func refreshStores(t *testing.T) map[string]RefreshTokenStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  NewRedisRefreshTokenStore(client, ""),
	}
}

func TestRefreshTokenStoreRotateAndRevoke(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token, err := s.Issue(ctx, "user-1", time.Minute)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			userID, next, err := s.Rotate(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if userID != "user-1" {
				t.Fatalf("unexpected user id: %q", userID)
			}
			if next == "" || next == token {
				t.Fatalf("expected rotated token")
			}
			if err := s.Revoke(ctx, next); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			if _, _, err := s.Rotate(ctx, next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token after revoke, got %v", err)
			}
			if err := s.Revoke(ctx, "unknown"); err != nil {
				t.Fatalf("revoke unknown should be a no-op, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreDetectsReplay(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token, err := s.Issue(ctx, "user-2", time.Minute)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			_, next, err := s.Rotate(ctx, token, time.Minute)
			if err != nil {
				t.Fatalf("first rotate: %v", err)
			}
			if _, _, err := s.Rotate(ctx, token, time.Minute); !errors.Is(err, ErrRefreshTokenReplay) {
				t.Fatalf("expected replay detection, got %v", err)
			}
			if _, _, err := s.Rotate(ctx, next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected family revoked after replay, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreRevokeUser(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Issue(ctx, "user-3", time.Minute)
			if err != nil {
				t.Fatalf("issue first: %v", err)
			}
			second, err := s.Issue(ctx, "user-3", time.Minute)
			if err != nil {
				t.Fatalf("issue second: %v", err)
			}
			other, err := s.Issue(ctx, "user-4", time.Minute)
			if err != nil {
				t.Fatalf("issue other: %v", err)
			}
			if err := s.RevokeUser(ctx, "user-3"); err != nil {
				t.Fatalf("revoke user: %v", err)
			}
			for _, tok := range []string{first, second} {
				if _, _, err := s.Rotate(ctx, tok, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("expected revoked family, got %v", err)
				}
			}
			if _, _, err := s.Rotate(ctx, other, time.Minute); err != nil {
				t.Fatalf("other user's token should survive, got %v", err)
			}
		})
	}
}

func TestRedisRefreshTokenStoreConcurrentRotateRevokesFamilyOnReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisRefreshTokenStore(client, "")
	ctx := context.Background()

	token, err := s.Issue(ctx, "user-5", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 2
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	issued := make(chan string, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, next, err := s.Rotate(ctx, token, time.Minute)
			if err == nil {
				issued <- next
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	close(issued)

	successes, replays := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if successes != 1 || replays != 1 {
		t.Fatalf("expected one success and one replay, got successes=%d replays=%d", successes, replays)
	}
	for tok := range issued {
		if _, _, err := s.Rotate(ctx, tok, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected family revoked after replay race, got %v", err)
		}
	}
}
