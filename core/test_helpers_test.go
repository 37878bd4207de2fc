package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryTenantStore struct {
	mu      sync.Mutex
	records map[string]*TenantRecord
	audit   []AuditEntry
	usage   map[string]int

	lookupErr error
	updateErr error
}

func newMemoryTenantStore() *memoryTenantStore {
	return &memoryTenantStore{
		records: make(map[string]*TenantRecord),
		usage:   make(map[string]int),
	}
}

func (s *memoryTenantStore) seed(record TenantRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := record
	s.records[record.TenantID] = &stored
}

func (s *memoryTenantStore) Lookup(_ context.Context, tenantID string, _ string) (TenantRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return TenantRecord{}, false, s.lookupErr
	}
	record, ok := s.records[strings.TrimSpace(tenantID)]
	if !ok {
		return TenantRecord{}, false, nil
	}
	return *record, true, nil
}

func (s *memoryTenantStore) ListActiveTenantIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id, record := range s.records {
		if record.Status == TenantStatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memoryTenantStore) UpdateCredentials(_ context.Context, in UpdateCredentialsInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	record, ok := s.records[strings.TrimSpace(in.TenantID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, in.TenantID)
	}
	record.Bundle = in.Bundle
	record.CredentialsUpdatedAt = time.Now().UTC()
	record.UpdatedAt = record.CredentialsUpdatedAt
	return nil
}

func (s *memoryTenantStore) UpdateUsage(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[strings.TrimSpace(tenantID)]++
	if record, ok := s.records[strings.TrimSpace(tenantID)]; ok {
		record.LastUsedAt = time.Now().UTC()
	}
	return nil
}

func (s *memoryTenantStore) MarkForReauth(_ context.Context, tenantID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(tenantID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	record.RequiresReauth = true
	record.ReauthReason = strings.TrimSpace(reason)
	record.Status = TenantStatusNeedsReauth
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryTenantStore) AppendAuditEntry(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memoryTenantStore) auditEvents() []AuditEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]AuditEventType, 0, len(s.audit))
	for _, entry := range s.audit {
		events = append(events, entry.EventType)
	}
	return events
}

func (s *memoryTenantStore) record(tenantID string) (TenantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(tenantID)]
	if !ok {
		return TenantRecord{}, false
	}
	return *record, true
}

// scriptedRefresher returns the scripted outcomes in order, repeating the
// last one once the script runs out.
type scriptedRefresher struct {
	mu       sync.Mutex
	script   []scriptedRefreshStep
	calls    int
	byTenant map[string]int
}

type scriptedRefreshStep struct {
	result RefreshTokenResult
	err    error
}

func newScriptedRefresher(steps ...scriptedRefreshStep) *scriptedRefresher {
	return &scriptedRefresher{script: steps, byTenant: make(map[string]int)}
}

func (r *scriptedRefresher) Refresh(_ context.Context, req RefreshTokenRequest) (RefreshTokenResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTenant[req.TenantID]++
	index := r.calls
	r.calls++
	if len(r.script) == 0 {
		return RefreshTokenResult{}, fmt.Errorf("no scripted refresh outcome")
	}
	if index >= len(r.script) {
		index = len(r.script) - 1
	}
	step := r.script[index]
	return step.result, step.err
}

func (r *scriptedRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *scriptedRefresher) tenantCalls(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTenant[tenantID]
}

type fakeHandler struct {
	mu     sync.Mutex
	token  string
	tokens []string
}

func (h *fakeHandler) HandleMessage(_ context.Context, message []byte) ([]byte, error) {
	return message, nil
}

func (h *fakeHandler) UpdateToken(accessToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = accessToken
	h.tokens = append(h.tokens, accessToken)
}

func (h *fakeHandler) rotations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tokens)
}

type fakeHandlerFactory struct {
	mu       sync.Mutex
	created  int
	handlers map[string]*fakeHandler
	err      error
}

func newFakeHandlerFactory() *fakeHandlerFactory {
	return &fakeHandlerFactory{handlers: make(map[string]*fakeHandler)}
}

func (f *fakeHandlerFactory) New(_ context.Context, cfg HandlerConfig, accessToken string) (ProtocolHandler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	handler := &fakeHandler{token: accessToken}
	f.handlers[cfg.TenantID] = handler
	return handler, nil
}

func (f *fakeHandlerFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeTransport struct {
	id     string
	mu     sync.Mutex
	closes int
}

func (t *fakeTransport) ID() string {
	return t.id
}

func (t *fakeTransport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type capturingMetricsRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]int
}

func newCapturingMetricsRecorder() *capturingMetricsRecorder {
	return &capturingMetricsRecorder{
		counters:   make(map[string]int64),
		histograms: make(map[string]int),
	}
}

func (r *capturingMetricsRecorder) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}

func (r *capturingMetricsRecorder) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name]++
}

func (r *capturingMetricsRecorder) counterValue(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func activeBundle(expiresIn time.Duration) TokenBundle {
	return TokenBundle{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().UTC().Add(expiresIn),
	}
}

func activeTenantRecord(tenantID string, expiresIn time.Duration) TenantRecord {
	now := time.Now().UTC()
	return TenantRecord{
		TenantID:             tenantID,
		ProviderID:           "github",
		OwnerUserID:          "user-1",
		Status:               TenantStatusActive,
		Bundle:               activeBundle(expiresIn),
		CredentialsUpdatedAt: now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
