package outbound

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perDestinationLimiter caps how often this session sends to any one
// destination, adapted from the teacher's whatsapp.RateLimiter (a
// map of destination to *rate.Limiter behind a mutex) so a queue
// backlog for one chat cannot burn through WhatsApp's own abuse
// thresholds for the whole session.
type perDestinationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newPerDestinationLimiter(limit rate.Limit, burst int) *perDestinationLimiter {
	return &perDestinationLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// wait blocks until dest's bucket has a token free or ctx is done,
// whichever comes first. A message that can't clear the limiter within
// the tick's own deadline is reported as failed rather than left
// queued with no trace of why.
func (l *perDestinationLimiter) wait(ctx context.Context, dest string) error {
	l.mu.Lock()
	lim, ok := l.limiters[dest]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[dest] = lim
	}
	l.mu.Unlock()

	return lim.Wait(ctx)
}

// sweep drops limiters for destinations that have been idle long
// enough to be back at full burst, so the map does not grow for the
// lifetime of a long-running session.
func (l *perDestinationLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for dest, lim := range l.limiters {
		if lim.TokensAt(time.Now()) >= float64(l.burst) {
			delete(l.limiters, dest)
		}
	}
}
