// Package lock coordinates the per-session distributed lock this
// process must hold before it is allowed to drive a session's socket.
// Acquisition, periodic renewal, and release all go through edge.Client;
// this package only owns the local bookkeeping (who we think we own,
// and the one renewal timer per held lock).
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/metrics"
)

// OnLost is invoked when a previously-held lock is lost, e.g. because
// renewal failed or the control plane reports the lock as no longer
// acquired. It runs on the renewal goroutine; implementations must not
// block for long.
type OnLost func(sessionID string)

// Coordinator tracks lock ownership for every session this process
// currently governs.
type Coordinator struct {
	edge    *edge.Client
	owner   string
	ttl     time.Duration
	renewEvery time.Duration
	onLost  OnLost
	log     zerolog.Logger

	mu     sync.Mutex
	held   map[string]*handle
}

type handle struct {
	token string
	timer *time.Timer
	stop  chan struct{}
}

// New builds a Coordinator that identifies itself to the control plane
// as owner, requests ttl on every acquire/renew, and renews every
// renewEvery.
func New(client *edge.Client, owner string, ttl, renewEvery time.Duration, onLost OnLost, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		edge:       client,
		owner:      owner,
		ttl:        ttl,
		renewEvery: renewEvery,
		onLost:     onLost,
		log:        log.With().Str("component", "lock").Logger(),
		held:       make(map[string]*handle),
	}
}

// Owns reports whether this process currently believes it holds
// sessionID's lock.
func (c *Coordinator) Owns(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[sessionID]
	return ok
}

// Acquire attempts to take exclusive ownership of sessionID. On success
// it starts the renewal timer for this lock; at most one timer per held
// lock exists at a time, and the entry and timer are always created or
// destroyed together.
func (c *Coordinator) Acquire(ctx context.Context, sessionID string) bool {
	resp, err := c.edge.AcquireLock(ctx, sessionID, c.owner, c.ttl)
	if err != nil {
		if edge.IsNotFound(err) {
			c.log.Warn().Str("session_id", sessionID).Msg("lock acquire: session not found, skipping")
		} else {
			c.log.Error().Err(err).Str("session_id", sessionID).Msg("lock acquire failed")
		}
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		return false
	}
	if !resp.Acquired {
		c.log.Warn().Str("session_id", sessionID).Str("current_owner", resp.InstanceOwner).Msg("lock conflict")
		metrics.LockAcquireTotal.WithLabelValues("conflict").Inc()
		return false
	}

	c.mu.Lock()
	h := &handle{token: resp.LockToken, stop: make(chan struct{})}
	c.held[sessionID] = h
	c.mu.Unlock()

	c.startRenewal(sessionID, h)
	metrics.LockAcquireTotal.WithLabelValues("ok").Inc()
	metrics.LocksHeld.Set(float64(c.heldCount()))
	return true
}

func (c *Coordinator) startRenewal(sessionID string, h *handle) {
	h.timer = time.AfterFunc(c.renewEvery, func() { c.renew(sessionID) })
}

func (c *Coordinator) renew(sessionID string) {
	c.mu.Lock()
	h, ok := c.held[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-h.stop:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	resp, err := c.edge.RenewLock(ctx, sessionID, c.owner, c.ttl, h.token)
	cancel()

	if err != nil || !resp.Acquired {
		if err != nil {
			c.log.Error().Err(err).Str("session_id", sessionID).Msg("lock renew failed")
		} else {
			c.log.Warn().Str("session_id", sessionID).Msg("lock renew: no longer acquired")
		}
		metrics.LockRenewTotal.WithLabelValues("lost").Inc()
		c.forget(sessionID)
		if c.onLost != nil {
			c.onLost(sessionID)
		}
		return
	}

	metrics.LockRenewTotal.WithLabelValues("ok").Inc()
	c.mu.Lock()
	h.token = resp.LockToken
	h.timer = time.AfterFunc(c.renewEvery, func() { c.renew(sessionID) })
	c.mu.Unlock()
}

// Release gives up sessionID's lock, best-effort: the local entry and
// timer are cleared regardless of whether the HTTP call succeeds.
func (c *Coordinator) Release(sessionID string) {
	c.mu.Lock()
	h, ok := c.held[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, err := c.edge.ReleaseLock(ctx, sessionID, c.owner, h.token)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("lock release failed; clearing local state anyway")
	}

	c.forget(sessionID)
}

func (c *Coordinator) forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.held[sessionID]; ok {
		close(h.stop)
		if h.timer != nil {
			h.timer.Stop()
		}
		delete(c.held, sessionID)
	}
	metrics.LocksHeld.Set(float64(len(c.held)))
}

func (c *Coordinator) heldCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

// ReleaseAll releases every held lock, best-effort. Used during
// process shutdown.
func (c *Coordinator) ReleaseAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.held))
	for id := range c.held {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Release(id)
	}
}
