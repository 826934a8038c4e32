// Package session implements the per-session connection state machine:
// auth-directory lifecycle, the underlying whatsmeow socket, reconnect
// scheduling, QR relay, auth wipe, and the Bad-MAC circuit breaker. It
// is the core this worker exists to run — everything else either feeds
// it work (InstanceManager) or drains work it produces (OutboundQueueRunner,
// InboundRelay).
//
// session never imports outbound: a Runner exposes an OnStateChange
// hook instead of owning an outbound runner directly, so the manager
// package is the only place the two are wired together.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/cenkalti/backoff/v4"

	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
	"wa-session-supervisor/inbound"
	"wa-session-supervisor/metrics"
	"wa-session-supervisor/wlog"
)

// StateChangeFunc is invoked on every state transition. Implementations
// must not block; the manager uses it to start/stop the paired
// outbound runner.
type StateChangeFunc func(sessionID string, state State)

// RunnerConfig bundles a Runner's fixed dependencies.
type RunnerConfig struct {
	SessionID string
	AuthPath  string
	MediaPath string

	Host    Host
	Edge    *edge.Client
	Aliases *identity.Store
	Relay   *inbound.Relay

	BadMacWindow    time.Duration
	BadMacThreshold int
	BadMacCooldown  time.Duration

	OnStateChange StateChangeFunc

	Log zerolog.Logger
}

// Runner drives one session's socket through its lifecycle. All
// mutable fields are guarded by mu; event callbacks, timers, and
// manager-initiated calls (Connect, Stop) can all arrive concurrently.
type Runner struct {
	sessionID string
	authPath  string
	mediaPath string

	host    Host
	edge    *edge.Client
	aliases *identity.Store
	relay   *inbound.Relay

	badMacWindowLen time.Duration
	badMacThreshold int
	badMacCooldown  time.Duration

	onStateChange StateChangeFunc
	log           zerolog.Logger

	mu                 sync.Mutex
	state              State
	connectedAt        time.Time
	reconnectAttempt   int
	intentionalStop    bool
	badMacWindow       []time.Time
	badMacBreakerUntil time.Time

	client    *whatsmeow.Client
	container *sqlstore.Container
}

// New builds an idle Runner for cfg.SessionID. The auth directory and
// socket are not touched until Connect is called.
func New(cfg RunnerConfig) *Runner {
	return &Runner{
		sessionID:       cfg.SessionID,
		authPath:        cfg.AuthPath,
		mediaPath:       cfg.MediaPath,
		host:            cfg.Host,
		edge:            cfg.Edge,
		aliases:         cfg.Aliases,
		relay:           cfg.Relay,
		badMacWindowLen: cfg.BadMacWindow,
		badMacThreshold: cfg.BadMacThreshold,
		badMacCooldown:  cfg.BadMacCooldown,
		onStateChange:   cfg.OnStateChange,
		log:             cfg.Log.With().Str("component", "session").Str("session_id", cfg.SessionID).Logger(),
		state:           StateIdle,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Aliases returns this session's identity alias store, so the manager
// can hand the same store to the paired outbound.Runner.
func (r *Runner) Aliases() *identity.Store {
	return r.aliases
}

// IsOpen reports whether the session currently has a live socket —
// the only state OutboundQueueRunner is allowed to send in.
func (r *Runner) IsOpen() bool {
	return r.State() == StateOpen
}

// ConnectedAt returns the timestamp of the last Open transition, or
// the zero time if the session isn't open. Used by the manager's stop
// cooldown rule.
func (r *Runner) ConnectedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedAt
}

// Connect moves an Idle or just-wiped runner into Connecting and
// starts (or resumes) dialing. It is a no-op if already connecting or
// open, so the manager can call it unconditionally on every
// ensureRunning pass.
func (r *Runner) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateWipedPendingRestart {
		r.mu.Unlock()
		return nil
	}
	r.intentionalStop = false
	r.setStateLocked(StateConnecting)
	needsStore := r.client == nil
	r.mu.Unlock()

	if err := os.MkdirAll(r.authPath, 0o755); err != nil {
		return fmt.Errorf("session %s: create auth dir: %w", r.sessionID, err)
	}
	r.postStatus(ctx, "CONNECTING", nil)

	if needsStore {
		if err := r.openStore(ctx); err != nil {
			r.log.Error().Err(err).Msg("open auth store failed")
			r.closeAndDecide(KindOther)
			return err
		}
	}

	go r.dial()
	return nil
}

// Stop intentionally ends the session: the manager calls this when a
// session leaves the desired set or its lock is lost. Auth material is
// left untouched.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	r.intentionalStop = true
	client := r.client
	alreadyIdle := r.state == StateIdle || r.state == StateClosing
	r.setStateLocked(StateClosing)
	r.mu.Unlock()

	if alreadyIdle && client == nil {
		return
	}
	if client != nil {
		client.Disconnect()
	}

	r.postStatus(ctx, "DISCONNECTED", nil)
	r.mu.Lock()
	r.connectedAt = time.Time{}
	r.setStateLocked(StateIdle)
	r.mu.Unlock()
	r.notifyStateChange(StateIdle)
}

func (r *Runner) openStore(ctx context.Context) error {
	dsn := "file:" + filepath.Join(r.authPath, "store.db") + "?_pragma=foreign_keys(1)"

	// sqlite can return "database is locked" for a moment if this
	// session's store file is still being released by a just-stopped
	// runner; a short backoff is enough to clear that without delaying
	// startup noticeably.
	storeBackoff := backoff.NewExponentialBackOff()
	storeBackoff.InitialInterval = 100 * time.Millisecond
	storeBackoff.MaxInterval = 1 * time.Second
	storeBackoff.MaxElapsedTime = 5 * time.Second

	var container *sqlstore.Container
	err := backoff.Retry(func() error {
		c, err := sqlstore.New(ctx, "sqlite", dsn, wlog.New(r.log, "sqlstore"))
		if err != nil {
			return err
		}
		container = c
		return nil
	}, storeBackoff)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	device, err := firstOrNewDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, wlog.New(r.log, "whatsmeow"))
	client.AddEventHandler(r.handleEvent)

	r.mu.Lock()
	r.container = container
	r.client = client
	r.mu.Unlock()
	return nil
}

func firstOrNewDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// dial performs the blocking handshake. If no device is registered yet
// it drains the QR channel and publishes each code; otherwise it just
// connects using the stored credentials.
func (r *Runner) dial() {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return
	}

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(context.Background())
		if err != nil {
			r.log.Error().Err(err).Msg("get qr channel failed")
			r.closeAndDecide(Classify(err))
			return
		}
		if err := client.Connect(); err != nil {
			r.log.Error().Err(err).Msg("connect failed")
			r.closeAndDecide(Classify(err))
			return
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				r.publishQR(evt.Code)
			}
		}
		return
	}

	if err := client.Connect(); err != nil {
		r.log.Error().Err(err).Msg("connect failed")
		r.closeAndDecide(Classify(err))
	}
}

func (r *Runner) publishQR(raw string) {
	dataURL, err := qrDataURL(raw)
	if err != nil {
		r.log.Error().Err(err).Msg("render qr failed")
		return
	}
	r.postStatus(context.Background(), "CONNECTING", &dataURL)
}

// handleEvent is whatsmeow's single entry point into this runner. State
// transitions also come from Connect, Stop, the dial goroutine, and
// reconnect timers; every one of them changes state under mu.
func (r *Runner) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		r.transitionOpen()
	case *events.Disconnected:
		r.closeAndDecide(KindOther)
	case *events.LoggedOut:
		r.closeAndDecide(KindLoggedOut)
	case *events.ConnectFailure:
		kind := KindOther
		if int(evt.Reason) == 515 {
			kind = KindRestart515
		}
		r.closeAndDecide(kind)
	case *events.UndecryptableMessage:
		r.RecordBadMacSignal()
	case *events.Message:
		go r.relay.HandleMessage(context.Background(), r.client, evt)
	}
}

func (r *Runner) transitionOpen() {
	r.mu.Lock()
	r.setStateLocked(StateOpen)
	r.connectedAt = time.Now()
	r.reconnectAttempt = 0
	r.badMacWindow = nil
	r.mu.Unlock()

	r.postStatus(context.Background(), "CONNECTED", nil)
	r.notifyStateChange(StateOpen)
}

// closeAndDecide handles every path that ends a socket: a clean close,
// a logout, a stream restart, or a failed dial. It posts DISCONNECTED,
// notifies the state-change hook, and then either schedules a
// reconnect or triggers an auth wipe per the table this runner
// implements.
func (r *Runner) closeAndDecide(kind ErrorKind) {
	r.mu.Lock()
	if r.state == StateClosing {
		// Stop() already drove this transition.
		r.mu.Unlock()
		return
	}
	r.setStateLocked(StateIdle)
	r.connectedAt = time.Time{}
	intentional := r.intentionalStop
	r.mu.Unlock()

	r.postStatus(context.Background(), "DISCONNECTED", nil)
	r.notifyStateChange(StateIdle)

	if intentional || !r.host.IsDesired(r.sessionID) {
		return
	}

	switch {
	case kind == KindLoggedOut || kind == KindBadSession:
		r.wipeAuthAndRestart("auth_invalidated")
	case kind == KindRestart515:
		delay := time.Duration(2000+rand.Intn(3000)) * time.Millisecond
		r.scheduleReconnect(delay)
	default:
		r.mu.Lock()
		attempt := r.reconnectAttempt
		r.reconnectAttempt++
		r.mu.Unlock()
		metrics.ReconnectAttempts.WithLabelValues(r.sessionID).Inc()
		r.scheduleReconnect(time.Duration(reconnectDelaySeconds(attempt)) * time.Second)
	}
}

func (r *Runner) scheduleReconnect(delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := r.Connect(context.Background()); err != nil {
			r.log.Error().Err(err).Msg("scheduled reconnect failed")
		}
	})
}

// wipeAuthAndRestart deletes the auth directory, discards the current
// client/store so the next Connect rebuilds them from scratch, and
// re-enters the manager's ensureRunning path. This is the only code
// path allowed to remove authPath.
func (r *Runner) wipeAuthAndRestart(trigger string) {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.container = nil
	r.setStateLocked(StateWipedPendingRestart)
	r.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if err := os.RemoveAll(r.authPath); err != nil {
		r.log.Error().Err(err).Msg("wipe auth dir failed")
	}
	metrics.AuthWipes.WithLabelValues(r.sessionID, trigger).Inc()

	r.host.ResetRuntime(r.sessionID)
	r.host.EnsureRunning(r.sessionID)
}

func (r *Runner) postStatus(ctx context.Context, status string, qr *string) {
	if err := r.edge.UpdateStatus(ctx, r.sessionID, status, qr); err != nil {
		r.log.Warn().Err(err).Str("status", status).Msg("update status failed")
	}
}

func (r *Runner) notifyStateChange(state State) {
	if r.onStateChange != nil {
		r.onStateChange(r.sessionID, state)
	}
}

// setStateLocked updates the connection-state gauge and the in-memory
// field. Caller must hold mu.
func (r *Runner) setStateLocked(state State) {
	if r.state == state {
		return
	}
	metrics.ConnectionState.WithLabelValues(r.sessionID, string(r.state)).Set(0)
	r.state = state
	metrics.ConnectionState.WithLabelValues(r.sessionID, string(r.state)).Set(1)
}
