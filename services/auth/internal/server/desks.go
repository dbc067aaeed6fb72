package server

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"schoollib/internal/util"
	"schoollib/services/auth/internal/app"
)

const defaultDeskIdleTTL = 30 * time.Minute

type desk struct {
	client   *app.Client
	lastSeen time.Time
}

// deskRegistry maps desk_session cookie values to the client, and so the
// session slot, of one browser.
type deskRegistry struct {
	mu    sync.Mutex
	idle  time.Duration
	now   func() time.Time
	desks map[string]*desk
}

func newDeskRegistry(idle time.Duration) *deskRegistry {
	if idle <= 0 {
		idle = defaultDeskIdleTTL
	}
	return &deskRegistry{idle: idle, now: time.Now, desks: make(map[string]*desk)}
}

// get returns the live client for id and marks it seen.
func (r *deskRegistry) get(id string) (*app.Client, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.desks[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if now.Sub(d.lastSeen) > r.idle {
		return nil, false
	}
	d.lastSeen = now
	return d.client, true
}

// peek returns the client for id even when it has gone idle.
func (r *deskRegistry) peek(id string) (*app.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.desks[id]
	if !ok {
		return nil, false
	}
	return d.client, true
}

func (r *deskRegistry) add(client *app.Client) string {
	id := rand.Text()
	r.mu.Lock()
	r.desks[id] = &desk{client: client, lastSeen: r.now()}
	r.mu.Unlock()
	return id
}

func (r *deskRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.desks, id)
	r.mu.Unlock()
}

func (r *deskRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.desks)
}

// sweep drops idle desks and signs them out. A desk whose revocation fails
// is put back for the next sweep.
func (r *deskRegistry) sweep(ctx context.Context) int {
	r.mu.Lock()
	now := r.now()
	expired := make(map[string]*desk)
	for id, d := range r.desks {
		if now.Sub(d.lastSeen) > r.idle {
			expired[id] = d
			delete(r.desks, id)
		}
	}
	r.mu.Unlock()

	removed := 0
	for id, d := range expired {
		if err := d.client.SignOut(ctx); err != nil {
			util.LoggerFromContext(ctx).Warn("desk_sign_out_failed", "err", err)
			r.mu.Lock()
			r.desks[id] = d
			r.mu.Unlock()
			continue
		}
		removed++
	}
	return removed
}

// run sweeps every interval until ctx is done.
func (r *deskRegistry) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(ctx); n > 0 {
				util.LoggerFromContext(ctx).Info("desk_sessions_expired", "count", n)
			}
		}
	}
}
