package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSessionTimeout       = 30 * time.Minute
	DefaultSessionSweepInterval = 5 * time.Minute
)

// SessionInfo describes one live session for operational visibility.
type SessionInfo struct {
	TenantID   string
	Age        time.Duration
	Idle       time.Duration
	HasToken   bool
	Transports int
}

type SessionStatistics struct {
	Count    int
	Sessions []SessionInfo
}

// transportHandle wraps a transport so Close runs at most once, whether the
// trigger is an explicit close, an invalidation, or the idle sweep.
type transportHandle struct {
	transport Transport
	once      sync.Once
}

func (h *transportHandle) close(ctx context.Context) error {
	if h == nil || h.transport == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		err = h.transport.Close(ctx)
	})
	return err
}

type sessionState struct {
	tenantID       string
	handler        ProtocolHandler
	token          string
	createdAt      time.Time
	lastAccessedAt time.Time
	transports     map[string]*transportHandle
}

// SessionRegistry keeps one long-lived protocol handler per tenant and
// sweeps idle ones on an independent timer. Token rotation updates the
// existing handler in place so accumulated protocol state survives.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	factory  HandlerFactory
	timeout  time.Duration
	interval time.Duration
	logger   Logger
	nowFn    func() time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type SessionRegistryOption func(*SessionRegistry)

func WithSessionTimeout(timeout time.Duration) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func WithSessionSweepInterval(interval time.Duration) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithSessionLogger(logger Logger) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithSessionNowFunc(now func() time.Time) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.nowFn = now
		}
	}
}

func NewSessionRegistry(factory HandlerFactory, opts ...SessionRegistryOption) (*SessionRegistry, error) {
	if factory == nil {
		return nil, fmt.Errorf("core: handler factory is required")
	}
	registry := &SessionRegistry{
		sessions: make(map[string]*sessionState),
		factory:  factory,
		timeout:  DefaultSessionTimeout,
		interval: DefaultSessionSweepInterval,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(registry)
	}
	return registry, nil
}

// GetOrCreate returns the tenant's handler, constructing one on first use.
// When the supplied token differs from what the handler holds, the handler
// is told to rotate without being torn down.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, cfg HandlerConfig, currentToken string) (ProtocolHandler, error) {
	if r == nil {
		return nil, fmt.Errorf("core: session registry is not configured")
	}
	tenantID := strings.TrimSpace(cfg.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("core: tenant id is required")
	}

	now := r.nowFn()
	r.mu.Lock()
	if session, ok := r.sessions[tenantID]; ok {
		session.lastAccessedAt = now
		rotated := false
		if currentToken != "" && session.token != currentToken {
			session.token = currentToken
			rotated = true
		}
		handler := session.handler
		r.mu.Unlock()
		if rotated {
			handler.UpdateToken(currentToken)
		}
		return handler, nil
	}
	r.mu.Unlock()

	handler, err := r.factory.New(ctx, cfg, currentToken)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have raced the factory call; keep the first.
	if session, ok := r.sessions[tenantID]; ok {
		session.lastAccessedAt = now
		return session.handler, nil
	}
	r.sessions[tenantID] = &sessionState{
		tenantID:       tenantID,
		handler:        handler,
		token:          currentToken,
		createdAt:      now,
		lastAccessedAt: now,
		transports:     make(map[string]*transportHandle),
	}
	return handler, nil
}

// AttachTransport registers a protocol-session transport under the tenant's
// session so the registry can close it on teardown.
func (r *SessionRegistry) AttachTransport(tenantID string, sessionID string, transport Transport) error {
	if r == nil {
		return fmt.Errorf("core: session registry is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("core: protocol session id is required")
	}
	if transport == nil {
		return fmt.Errorf("core: transport is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[strings.TrimSpace(tenantID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	session.transports[sessionID] = &transportHandle{transport: transport}
	return nil
}

// CloseTransport closes and removes one transport. Closing a transport that
// was already removed is a no-op.
func (r *SessionRegistry) CloseTransport(ctx context.Context, tenantID string, sessionID string) error {
	if r == nil {
		return fmt.Errorf("core: session registry is not configured")
	}
	r.mu.Lock()
	session, ok := r.sessions[strings.TrimSpace(tenantID)]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	handle, ok := session.transports[strings.TrimSpace(sessionID)]
	if ok {
		delete(session.transports, strings.TrimSpace(sessionID))
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return handle.close(ctx)
}

// Invalidate tears down the tenant's session and closes its transports.
// Used when credentials are permanently invalidated.
func (r *SessionRegistry) Invalidate(ctx context.Context, tenantID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	session, ok := r.sessions[strings.TrimSpace(tenantID)]
	if ok {
		delete(r.sessions, strings.TrimSpace(tenantID))
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.closeSession(ctx, session)
}

// Sweep removes every session idle longer than the configured timeout,
// closing owned transports exactly once each, and returns the removal count.
func (r *SessionRegistry) Sweep(ctx context.Context) int {
	if r == nil {
		return 0
	}
	now := r.nowFn()

	r.mu.Lock()
	expired := make([]*sessionState, 0)
	for tenantID, session := range r.sessions {
		if now.Sub(session.lastAccessedAt) > r.timeout {
			expired = append(expired, session)
			delete(r.sessions, tenantID)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		r.closeSession(ctx, session)
	}
	if len(expired) > 0 {
		r.logInfo("idle sessions removed", "removed", len(expired))
	}
	return len(expired)
}

// CloseAll tears down every session. Part of the shutdown sequence, after
// the timers have stopped.
func (r *SessionRegistry) CloseAll(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	sessions := make([]*sessionState, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*sessionState)
	r.mu.Unlock()

	for _, session := range sessions {
		r.closeSession(ctx, session)
	}
}

func (r *SessionRegistry) closeSession(ctx context.Context, session *sessionState) {
	if session == nil {
		return
	}
	for sessionID, handle := range session.transports {
		if err := handle.close(ctx); err != nil {
			r.logWarn("transport close failed",
				"tenant_id", session.tenantID,
				"session_id", sessionID,
				"error", err.Error(),
			)
		}
	}
}

// StartSweep launches the idle sweep timer. A second start while running
// logs a warning and is otherwise a no-op.
func (r *SessionRegistry) StartSweep(ctx context.Context) {
	if r == nil {
		return
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		r.logWarn("session sweep already running")
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.sweepLoop(ctx, r.stopCh, r.doneCh)
}

// StopSweep halts the sweep timer and waits for the loop to exit. Stopping
// an idle registry is a no-op.
func (r *SessionRegistry) StopSweep() {
	if r == nil {
		return
	}
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.runMu.Unlock()
	<-done
}

func (r *SessionRegistry) sweepLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *SessionRegistry) Statistics() SessionStatistics {
	if r == nil {
		return SessionStatistics{}
	}
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := SessionStatistics{Count: len(r.sessions)}
	for _, session := range r.sessions {
		stats.Sessions = append(stats.Sessions, SessionInfo{
			TenantID:   session.tenantID,
			Age:        now.Sub(session.createdAt),
			Idle:       now.Sub(session.lastAccessedAt),
			HasToken:   strings.TrimSpace(session.token) != "",
			Transports: len(session.transports),
		})
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].TenantID < stats.Sessions[j].TenantID
	})
	return stats
}

func (r *SessionRegistry) logInfo(message string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Info(message, args...)
}

func (r *SessionRegistry) logWarn(message string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Warn(message, args...)
}
