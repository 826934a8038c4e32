package session

import (
	"context"
	"time"

	"wa-session-supervisor/metrics"
)

// RecordBadMacSignal feeds one cryptographic-corruption signal into the
// sliding window. It is called both from the whatsmeow event handler
// (*events.UndecryptableMessage) and, via IsBadMacSignal, from
// outbound send failures — go.mau.fi/libsignal returns the same error
// text in both cases, so one breaker covers both sources.
func (r *Runner) RecordBadMacSignal() {
	now := time.Now()

	r.mu.Lock()
	r.badMacWindow = append(r.badMacWindow, now)
	r.purgeBadMacWindowLocked(now)
	tripped := len(r.badMacWindow) >= r.badMacThreshold && !now.Before(r.badMacBreakerUntil)
	if tripped {
		r.badMacBreakerUntil = now.Add(r.badMacCooldown)
		r.badMacWindow = nil
	}
	r.mu.Unlock()

	metrics.BadMacEvents.WithLabelValues(r.sessionID).Inc()
	if !tripped {
		return
	}

	metrics.BadMacBreakerTrips.WithLabelValues(r.sessionID).Inc()
	r.log.Warn().Msg("bad-mac circuit breaker tripped, wiping auth")
	r.postStatus(context.Background(), "DISCONNECTED", nil)
	r.wipeAuthAndRestart("bad_mac_breaker")
}

// purgeBadMacWindowLocked drops entries older than badMacWindowLen.
// Caller must hold mu.
func (r *Runner) purgeBadMacWindowLocked(now time.Time) {
	cutoff := now.Add(-r.badMacWindowLen)
	i := 0
	for ; i < len(r.badMacWindow); i++ {
		if r.badMacWindow[i].After(cutoff) {
			break
		}
	}
	r.badMacWindow = r.badMacWindow[i:]
}
