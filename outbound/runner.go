package outbound

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
	"wa-session-supervisor/metrics"
	"wa-session-supervisor/session"
)

// decryptRetryMaxAttempts is the total number of send attempts
// (initial attempt plus retries) for a single queued message when the
// failures are session-refresh-recoverable.
const decryptRetryMaxAttempts = 4

// sessionRefreshBackoff is the fixed sleep schedule between a
// refreshSession call and the next send attempt.
var sessionRefreshBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

const (
	defaultAudioMimetype = "audio/ogg"
	defaultDocMimetype   = "application/octet-stream"
)

// destinationRateLimit and destinationBurst bound how fast this
// session sends to any single destination, independent of how fast
// the control plane enqueues messages for it.
const (
	destinationRateLimit rate.Limit = 1
	destinationBurst                = 3
)

// Runner polls one session's queued outbound messages and drains them.
// A single Runner belongs to exactly one session and is started/stopped
// by the manager alongside that session's Open/Idle transitions.
type Runner struct {
	sessionID string

	edge    *edge.Client
	aliases *identity.Store
	sender  Sender
	http    *http.Client
	limiter *perDestinationLimiter

	pollInterval time.Duration
	log          zerolog.Logger

	processing atomic.Bool
	stop       chan struct{}
	done       chan struct{}
}

// New builds a Runner for sessionID. It does not start polling until
// Start is called.
func New(sessionID string, edgeClient *edge.Client, aliases *identity.Store, sender Sender, pollInterval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		sessionID:    sessionID,
		edge:         edgeClient,
		aliases:      aliases,
		sender:       sender,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      newPerDestinationLimiter(destinationRateLimit, destinationBurst),
		pollInterval: pollInterval,
		log:          log.With().Str("component", "outbound").Str("session_id", sessionID).Logger(),
	}
}

// Start begins the poll ticker in a background goroutine. Safe to call
// once per Runner; the manager creates a fresh Runner per Open
// transition instead of restarting a stopped one.
func (r *Runner) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop ends the poll loop and waits for any in-flight tick to finish.
func (r *Runner) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

// tick is reentrancy-safe: the processing flag forbids two ticks
// running concurrently for this session, matching the "no two
// overlapping outbound ticks" invariant.
func (r *Runner) tick() {
	if !r.processing.CompareAndSwap(false, true) {
		return
	}
	defer r.processing.Store(false)

	if !r.sender.IsOpen() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	queued, err := r.edge.ListQueued(ctx, r.sessionID)
	if err != nil {
		r.log.Error().Err(err).Msg("list queued failed")
		return
	}
	metrics.OutboundQueueLength.WithLabelValues(r.sessionID).Set(float64(len(queued)))
	if len(queued) == 0 {
		return
	}

	for _, msg := range queued {
		r.processOne(ctx, msg)
	}
	r.limiter.sweep()
}

func (r *Runner) processOne(ctx context.Context, msg edge.QueuedMessage) {
	start := time.Now()
	defer func() {
		metrics.OutboundSendLatency.Observe(time.Since(start).Seconds())
	}()

	if msg.ID == "" || msg.To == "" || (msg.Body == nil && msg.MediaURL == nil) {
		r.markFailed(ctx, msg.ID, "malformed-message", debugRecord{Original: msg.To})
		return
	}

	dest, err := resolveDestination(ctx, r.edge, r.sessionID, msg.To)
	if err != nil {
		r.markFailed(ctx, msg.ID, err.Error(), debugRecord{Original: msg.To})
		return
	}

	if err := r.limiter.wait(ctx, dest); err != nil {
		r.markFailed(ctx, msg.ID, "rate-limited", debugRecord{Original: msg.To, Normalized: dest})
		return
	}

	waMessageID, debug, err := r.sendWithRecovery(ctx, msg, dest)
	debug.Original = msg.To
	debug.Normalized = dest
	if err != nil {
		r.markFailed(ctx, msg.ID, err.Error(), debug)
		return
	}
	r.markSent(ctx, msg.ID, waMessageID, debug)
}

// debugRecord is posted back as send_debug alongside mark-sent/failed,
// giving the control plane enough context to diagnose a delivery
// without this process having to keep message history around.
type debugRecord struct {
	Original   string `json:"original_to"`
	Normalized string `json:"normalized_to"`
	Attempts   int    `json:"attempts"`
	Refreshes  int    `json:"session_refreshes"`
	LastError  string `json:"last_error,omitempty"`
}

// sendWithRecovery retries a "no matching sessions found" failure by
// asking the control plane to refresh the session and sleeping the
// next value in sessionRefreshBackoff before trying again. Any other
// error exits immediately.
func (r *Runner) sendWithRecovery(ctx context.Context, msg edge.QueuedMessage, dest string) (string, debugRecord, error) {
	debug := debugRecord{}
	var lastErr error

	for attempt := 0; attempt < decryptRetryMaxAttempts; attempt++ {
		debug.Attempts = attempt + 1

		canonicalDest := r.aliases.ResolveCanonical(dest, dest)
		waMessageID, err := r.sendByType(ctx, msg, canonicalDest)
		if err == nil {
			return waMessageID, debug, nil
		}
		lastErr = err
		debug.LastError = err.Error()

		if !session.IsNoMatchingSessions(err) || attempt == decryptRetryMaxAttempts-1 {
			return "", debug, lastErr
		}

		if refreshErr := r.edge.RefreshSession(ctx, r.sessionID, canonicalDest, "no_matching_sessions"); refreshErr != nil {
			r.log.Warn().Err(refreshErr).Msg("refresh session failed")
		}
		debug.Refreshes++
		metrics.OutboundRefreshTotal.WithLabelValues(r.sessionID).Inc()

		backoff := sessionRefreshBackoff[attempt]
		if attempt >= len(sessionRefreshBackoff) {
			backoff = sessionRefreshBackoff[len(sessionRefreshBackoff)-1]
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", debug, ctx.Err()
		}
	}
	return "", debug, lastErr
}

// sendByType dispatches to a text or media send depending on whether
// msg carries a media_url, applying the per-media-kind defaults the
// spec this package was built against specifies.
func (r *Runner) sendByType(ctx context.Context, msg edge.QueuedMessage, dest string) (string, error) {
	if msg.MediaURL == nil {
		body := ""
		if msg.Body != nil {
			body = *msg.Body
		}
		return r.sender.SendText(ctx, dest, body)
	}

	data, err := downloadMedia(ctx, r.http, *msg.MediaURL)
	if err != nil {
		return "", err
	}

	caption := ""
	if msg.Body != nil {
		caption = *msg.Body
	}

	kind := session.MediaDocument
	if msg.MediaType != nil {
		kind = session.MediaKind(*msg.MediaType)
	}

	mimeType := ""
	if msg.MimeType != nil {
		mimeType = *msg.MimeType
	}

	fileName := ""
	if msg.FileName != nil {
		fileName = *msg.FileName
	}

	switch kind {
	case session.MediaImage, session.MediaVideo:
		return r.sender.SendMedia(ctx, dest, kind, data, mimeType, caption, "")
	case session.MediaAudio:
		if mimeType == "" {
			mimeType = defaultAudioMimetype
		}
		return r.sender.SendMedia(ctx, dest, kind, data, mimeType, "", "")
	default:
		if mimeType == "" {
			mimeType = defaultDocMimetype
		}
		if fileName == "" {
			fileName = fmt.Sprintf("document-%s", msg.ID)
		}
		return r.sender.SendMedia(ctx, dest, session.MediaDocument, data, mimeType, caption, fileName)
	}
}

func (r *Runner) markSent(ctx context.Context, messageID, waMessageID string, debug debugRecord) {
	if err := r.edge.MarkSent(ctx, messageID, waMessageID, debug); err != nil {
		r.log.Error().Err(err).Str("message_id", messageID).Msg("mark-sent failed")
	}
	metrics.OutboundProcessed.WithLabelValues(r.sessionID, "sent").Inc()
}

func (r *Runner) markFailed(ctx context.Context, messageID, reason string, debug debugRecord) {
	debug.LastError = reason
	if err := r.edge.MarkFailed(ctx, messageID, reason, debug); err != nil {
		r.log.Error().Err(err).Str("message_id", messageID).Msg("mark-failed failed")
	}
	metrics.OutboundProcessed.WithLabelValues(r.sessionID, "failed").Inc()
}
