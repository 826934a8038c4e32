// Package manager is the top-level supervisor: it runs the discovery
// cycle, decides the desired set, orchestrates lock acquisition,
// creates and destroys per-session runtimes, enforces the stop
// cooldown, and drives graceful shutdown. It is the only package that
// wires a session.Runner to its paired outbound.Runner, since session
// cannot depend on outbound and outbound only depends on session for
// MediaKind and its error-classification helpers.
package manager

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wa-session-supervisor/config"
	"wa-session-supervisor/edge"
	"wa-session-supervisor/identity"
	"wa-session-supervisor/inbound"
	"wa-session-supervisor/lock"
	"wa-session-supervisor/metrics"
	"wa-session-supervisor/outbound"
	"wa-session-supervisor/session"
)

// stopCooldown is the minimum time an Open session must stay Open
// before it becomes eligible for de-scheduling, to avoid thrashing
// when priority flips momentarily between discovery cycles.
const stopCooldown = 60 * time.Second

// discoveryWorkerPoolFloor is the minimum worker pool size regardless
// of MAX_ACTIVE_INSTANCES, so a small configured cap still gets enough
// concurrency for lock-acquire plus whatsmeow-connect to not serialize
// a whole discovery cycle.
const discoveryWorkerPoolFloor = 8

// runtime is everything the manager keeps per session it currently
// governs: the connection state machine, its paired outbound drainer
// (only non-nil while Open), and the priority the last discovery cycle
// assigned it.
type runtime struct {
	runner   *session.Runner
	outbound *outbound.Runner
	priority int
}

// Manager is the InstanceManager. It implements session.Host so each
// session.Runner it creates holds a typed handle back to it instead of
// a raw reference — a parent-owns-child tree in place of the cyclic
// graph this design replaces.
type Manager struct {
	cfg  *config.Config
	edge *edge.Client
	lock *lock.Coordinator
	log  zerolog.Logger

	mu       sync.Mutex
	runtimes map[string]*runtime
	desired  map[string]bool

	discoveryRunning atomic.Bool
	ticker           *time.Ticker
	stopCh           chan struct{}
	doneCh           chan struct{}
}

// New builds a Manager. Start must be called to begin the discovery loop.
func New(cfg *config.Config, edgeClient *edge.Client, lockCoord *lock.Coordinator, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		edge:     edgeClient,
		lock:     lockCoord,
		log:      log.With().Str("component", "manager").Logger(),
		runtimes: make(map[string]*runtime),
		desired:  make(map[string]bool),
	}
}

// Start begins the discovery ticker in a background goroutine.
func (m *Manager) Start() {
	m.ticker = time.NewTicker(m.cfg.DiscoveryPoll)
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		m.discoveryCycle()
		for {
			select {
			case <-m.ticker.C:
				m.discoveryCycle()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Shutdown stops the discovery ticker, stops every governed runtime in
// arbitrary order, and releases every held lock, best-effort and
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.stopCh != nil {
		close(m.stopCh)
		<-m.doneCh
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.stopRuntime(ctx, id)
		}()
	}
	wg.Wait()

	m.lock.ReleaseAll()
}

// discoveryCycle is non-reentrant: an overlapping tick (a slow previous
// cycle plus a fast poll interval) is dropped rather than queued.
func (m *Manager) discoveryCycle() {
	if !m.discoveryRunning.CompareAndSwap(false, true) {
		return
	}
	defer m.discoveryRunning.Store(false)

	start := time.Now()
	defer func() {
		metrics.DiscoveryCycles.Inc()
		metrics.DiscoveryCycleDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTPTimeout*2)
	defer cancel()

	var settings *edge.Settings
	var settingsErr error
	var eligible []edge.EligibleInstance
	var eligibleErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		settings, settingsErr = m.edge.GetSettings(ctx)
	}()
	go func() {
		defer wg.Done()
		eligible, eligibleErr = m.edge.ListEligible(ctx, true, 50, "priority.desc")
	}()
	wg.Wait()

	if settingsErr != nil {
		m.log.Warn().Err(settingsErr).Msg("get settings failed, falling back to configured cap")
	}
	if eligibleErr != nil {
		m.log.Error().Err(eligibleErr).Msg("list eligible failed, skipping cycle")
		return
	}

	activeCap := resolveActiveCap(settings, settingsErr, m.cfg.MaxActiveInstances)
	targets := computeTargets(eligible, activeCap)

	desired := make(map[string]bool, len(targets))
	targetIDs := make([]string, 0, len(targets))
	priorities := make(map[string]int, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			continue
		}
		desired[t.ID] = true
		targetIDs = append(targetIDs, t.ID)
		priorities[t.ID] = t.Priority
	}

	m.mu.Lock()
	m.desired = desired
	m.mu.Unlock()

	metrics.DesiredSessions.Set(float64(len(desired)))

	pool := newWorkerPool(max(m.cfg.MaxActiveInstances, discoveryWorkerPoolFloor))
	for _, id := range targetIDs {
		id := id
		priority := priorities[id]
		if !pool.submit(ctx, id, func() {
			m.ensureRunning(id, priority)
		}) {
			m.log.Warn().Str("session_id", id).Msg("discovery cycle deadline hit, skipping remaining ensureRunning calls")
			break
		}
	}
	for _, err := range pool.wait() {
		m.log.Error().Err(err).Msg("ensureRunning panicked")
	}

	m.mu.Lock()
	var toStop []string
	for id := range m.runtimes {
		if !desired[id] {
			toStop = append(toStop, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toStop {
		if m.canStop(id) {
			m.stopGracefully(id)
		}
	}

	metrics.ActiveSessions.Set(float64(m.runtimeCount()))
}

// ensureRunning acquires id's lock if not already held, creates its
// runtime on first sight, and asks the runner to connect if idle. A
// lock conflict or 404 just skips this id for this cycle; the next
// discovery cycle tries again.
func (m *Manager) ensureRunning(id string, priority int) {
	if !m.lock.Owns(id) {
		if !m.lock.Acquire(context.Background(), id) {
			return
		}
	}

	rt := m.getOrCreateRuntime(id, priority)
	rt.priority = priority

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTPTimeout)
	defer cancel()
	if err := rt.runner.Connect(ctx); err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("connect failed")
	}
}

func (m *Manager) getOrCreateRuntime(id string, priority int) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[id]; ok {
		return rt
	}

	authPath := filepath.Join(m.cfg.AuthBase, id)
	mediaPath := filepath.Join(m.cfg.MediaBase, id)
	aliases := identity.New(filepath.Join(authPath, "identity-alias-map.json"))
	relay := inbound.New(id, mediaPath, m.edge, aliases, m.cfg.ContactResolveErrorCooldown, m.cfg.ContactResolveDuplicateCooldown, m.log)

	runner := session.New(session.RunnerConfig{
		SessionID:       id,
		AuthPath:        authPath,
		MediaPath:       mediaPath,
		Host:            m,
		Edge:            m.edge,
		Aliases:         aliases,
		Relay:           relay,
		BadMacWindow:    m.cfg.BadMacWindow,
		BadMacThreshold: m.cfg.BadMacThreshold,
		BadMacCooldown:  m.cfg.BadMacCooldown,
		OnStateChange:   m.onStateChange,
		Log:             m.log,
	})

	rt := &runtime{runner: runner, priority: priority}
	m.runtimes[id] = rt
	return rt
}

// onStateChange is the session.Runner hook that starts or stops the
// paired outbound.Runner; it is the one place session and outbound
// meet.
func (m *Manager) onStateChange(sessionID string, state session.State) {
	m.mu.Lock()
	rt, ok := m.runtimes[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch state {
	case session.StateOpen:
		m.mu.Lock()
		alreadyRunning := rt.outbound != nil
		if !alreadyRunning {
			rt.outbound = outbound.New(sessionID, m.edge, rt.runner.Aliases(), rt.runner, m.cfg.QueuePoll, m.log)
		}
		ob := rt.outbound
		m.mu.Unlock()
		if !alreadyRunning {
			ob.Start()
		}
	default:
		m.mu.Lock()
		ob := rt.outbound
		rt.outbound = nil
		m.mu.Unlock()
		if ob != nil {
			ob.Stop()
		}
	}
}

// canStop implements the stop-cooldown rule: always stoppable unless
// currently Open, in which case it must have been Open for at least
// stopCooldown.
func (m *Manager) canStop(id string) bool {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	m.mu.Unlock()
	if !ok {
		return true
	}
	if rt.runner.State() != session.StateOpen {
		return true
	}
	return time.Since(rt.runner.ConnectedAt()) >= stopCooldown
}

// stopGracefully stops the runner, stops its outbound drainer, removes
// the runtime, and releases the lock. The next discovery cycle that
// still wants id will rebuild everything from scratch.
func (m *Manager) stopGracefully(id string) {
	m.stopRuntime(context.Background(), id)
	m.lock.Release(id)
}

func (m *Manager) stopRuntime(ctx context.Context, id string) {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	if rt.outbound != nil {
		rt.outbound.Stop()
	}
	rt.runner.Stop(ctx)
}

func (m *Manager) runtimeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runtimes)
}

// IsDesired implements session.Host.
func (m *Manager) IsDesired(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired[sessionID]
}

// EnsureRunning implements session.Host: re-enters the same path
// discoveryCycle uses, for a runner that just wiped its auth and wants
// to restart from a clean slate.
func (m *Manager) EnsureRunning(sessionID string) {
	m.mu.Lock()
	priority := 0
	if rt, ok := m.runtimes[sessionID]; ok {
		priority = rt.priority
	}
	m.mu.Unlock()
	go m.ensureRunning(sessionID, priority)
}

// ResetRuntime implements session.Host: discards the runtime so the
// next EnsureRunning builds a fresh session.Runner instead of reusing
// one whose client/store were just torn down.
func (m *Manager) ResetRuntime(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runtimes, sessionID)
}

// OnLockLost is the lock.Coordinator callback for a lock this process
// believed it held but lost (renewal failure or a conflicting owner).
// The lock bookkeeping is already gone by the time this runs, so only
// the local runtime needs tearing down.
func (m *Manager) OnLockLost(sessionID string) {
	m.stopRuntime(context.Background(), sessionID)
}
