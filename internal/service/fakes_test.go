package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
	"github.com/kursadbilgin/phone-notifier/internal/queue"
	"github.com/kursadbilgin/phone-notifier/internal/repository"
	"github.com/kursadbilgin/phone-notifier/internal/settings"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// memoryRecordRepo mirrors the compare-and-set semantics of the gorm repository.
type memoryRecordRepo struct {
	mu      sync.Mutex
	records map[string]domain.DeliveryRecord

	createErr     error
	setVendorErr  error
	listErr       error
	vendorMisses  int
	beforeUpdate  func(id string)
	updateCalls   int
	vendorLookups int
	polls         map[string]int
}

func newMemoryRecordRepo(records ...domain.DeliveryRecord) *memoryRecordRepo {
	repo := &memoryRecordRepo{records: make(map[string]domain.DeliveryRecord)}
	for _, r := range records {
		repo.records[r.ID] = r
	}
	return repo
}

func (m *memoryRecordRepo) Create(ctx context.Context, r *domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.records[r.ID]; exists {
		return domain.ErrConflict
	}
	m.records[r.ID] = *r
	return nil
}

func (m *memoryRecordRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &r, nil
}

func (m *memoryRecordRepo) GetByVendorID(ctx context.Context, providerAlias string, vendorID string) (*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendorLookups++
	if m.vendorMisses > 0 {
		m.vendorMisses--
		return nil, domain.ErrRecordNotFound
	}
	for _, r := range m.records {
		if r.ProviderAlias == providerAlias && r.VendorCorrelationID == vendorID {
			return &r, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (m *memoryRecordRepo) SetVendorCorrelationID(ctx context.Context, id string, vendorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setVendorErr != nil {
		return m.setVendorErr
	}
	r, ok := m.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if r.VendorCorrelationID != "" && r.VendorCorrelationID != vendorID {
		return domain.ErrConflict
	}
	r.VendorCorrelationID = vendorID
	m.records[id] = r
	return nil
}

func (m *memoryRecordRepo) UpdateStatus(ctx context.Context, id string, from domain.Status, to domain.Status, vendorStatus string) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	r, ok := m.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if r.Status != from {
		return domain.ErrConflict
	}
	r.Status = to
	r.VendorStatus = vendorStatus
	m.records[id] = r
	return nil
}

func (m *memoryRecordRepo) MarkFailed(ctx context.Context, id string, reason domain.FailureReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if r.Status != domain.StatusCreated {
		return domain.ErrConflict
	}
	r.Status = domain.StatusFailed
	r.FailureReason = &reason
	m.records[id] = r
	return nil
}

func (m *memoryRecordRepo) ListPending(ctx context.Context, params repository.PendingParams) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	statuses := make(map[domain.Status]struct{}, len(params.Statuses))
	for _, s := range params.Statuses {
		statuses[s] = struct{}{}
	}
	aliases := make(map[string]struct{}, len(params.ProviderAliases))
	for _, a := range params.ProviderAliases {
		aliases[a] = struct{}{}
	}

	out := make([]domain.DeliveryRecord, 0)
	for _, r := range m.records {
		if r.Kind != params.Kind || r.VendorCorrelationID == "" {
			continue
		}
		if _, ok := statuses[r.Status]; !ok {
			continue
		}
		if _, ok := aliases[r.ProviderAlias]; len(aliases) > 0 && !ok {
			continue
		}
		if r.UpdatedAt.After(params.UpdatedBefore) {
			continue
		}
		if r.LastPolledAt != nil && r.LastPolledAt.After(params.UpdatedBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := pollQueueTime(out[i]), pollQueueTime(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (m *memoryRecordRepo) MarkPolled(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	r.LastPolledAt = &at
	m.records[id] = r
	if m.polls == nil {
		m.polls = make(map[string]int)
	}
	m.polls[id]++
	return nil
}

func (m *memoryRecordRepo) pollCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls[id]
}

func pollQueueTime(r domain.DeliveryRecord) time.Time {
	if r.LastPolledAt != nil {
		return *r.LastPolledAt
	}
	return r.UpdatedAt
}

func (m *memoryRecordRepo) get(t *testing.T, id string) domain.DeliveryRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		t.Fatalf("record %s not stored", id)
	}
	return r
}

func (m *memoryRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memoryEventRepo struct {
	mu     sync.Mutex
	events []domain.StatusEvent
	err    error
}

func (m *memoryEventRepo) Create(ctx context.Context, e *domain.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memoryEventRepo) ListByRecordID(ctx context.Context, recordID string) ([]domain.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StatusEvent, 0)
	for _, e := range m.events {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEventRepo) outcomes() []domain.EventOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventOutcome, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Outcome)
	}
	return out
}

// fakeProvider answers ErrNotSupported for every capability without a function set.
type fakeProvider struct {
	makeCallFn             func(ctx context.Context, number string, text string) (string, error)
	sendSMSFn              func(ctx context.Context, number string, text string) (string, error)
	sendVerificationSMSFn  func(ctx context.Context, number string) error
	makeVerificationCallFn func(ctx context.Context, number string) error
	finishVerificationFn   func(ctx context.Context, number string, code string) (string, bool, error)
}

func (f *fakeProvider) MakeCall(ctx context.Context, number string, text string) (string, error) {
	if f.makeCallFn == nil {
		return "", provider.ErrNotSupported
	}
	return f.makeCallFn(ctx, number, text)
}

func (f *fakeProvider) SendSMS(ctx context.Context, number string, text string) (string, error) {
	if f.sendSMSFn == nil {
		return "", provider.ErrNotSupported
	}
	return f.sendSMSFn(ctx, number, text)
}

func (f *fakeProvider) SendVerificationSMS(ctx context.Context, number string) error {
	if f.sendVerificationSMSFn == nil {
		return provider.ErrNotSupported
	}
	return f.sendVerificationSMSFn(ctx, number)
}

func (f *fakeProvider) MakeVerificationCall(ctx context.Context, number string) error {
	if f.makeVerificationCallFn == nil {
		return provider.ErrNotSupported
	}
	return f.makeVerificationCallFn(ctx, number)
}

func (f *fakeProvider) FinishVerification(ctx context.Context, number string, code string) (string, bool, error) {
	if f.finishVerificationFn == nil {
		return "", false, provider.ErrNotSupported
	}
	return f.finishVerificationFn(ctx, number, code)
}

// vendorProvider adds a vendor status vocabulary and status queries to fakeProvider.
type vendorProvider struct {
	fakeProvider
	fetchStatusFn func(ctx context.Context, kind domain.RecordKind, vendorID string) (string, error)
}

var vendorStatuses = provider.StatusTable{
	Call: map[string]domain.Status{
		"queued":      domain.StatusQueued,
		"ringing":     domain.StatusRinging,
		"in-progress": domain.StatusInProgress,
		"completed":   domain.StatusCompleted,
		"busy":        domain.StatusBusy,
	},
	SMS: map[string]domain.Status{
		"accepted":  domain.StatusAccepted,
		"queued":    domain.StatusQueued,
		"sending":   domain.StatusSending,
		"sent":      domain.StatusSent,
		"delivered": domain.StatusDelivered,
	},
}

func (p *vendorProvider) TranslateStatus(kind domain.RecordKind, vendorStatus string) domain.Status {
	return vendorStatuses.TranslateStatus(kind, vendorStatus)
}

func (p *vendorProvider) FetchStatus(ctx context.Context, kind domain.RecordKind, vendorID string) (string, error) {
	if p.fetchStatusFn == nil {
		return "", provider.ErrNotSupported
	}
	return p.fetchStatusFn(ctx, kind, vendorID)
}

// newTestRegistry registers each provider under its alias and resolves Get to active.
func newTestRegistry(t *testing.T, active string, providers map[string]provider.Provider) *provider.Registry {
	t.Helper()

	factories := make(map[string]provider.Factory, len(providers))
	for alias, p := range providers {
		p := p
		factories[alias] = func() (provider.Provider, error) { return p, nil }
	}

	registry, err := provider.NewRegistry(factories, settings.Static(active), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

type fakeRateLimiter struct {
	mu      sync.Mutex
	buckets []string
	waitErr error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	return f.waitErr == nil, f.waitErr
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	return f.waitErr
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.CallbackMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.CallbackMessage) error {
	if f.publishFn == nil {
		return nil
	}
	return f.publishFn(ctx, queueName, msg)
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		<-ctx.Done()
		return nil
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeReconciler struct {
	mu        sync.Mutex
	callbacks []domain.StatusCallback
	result    *ReconcileResult
	err       error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, callback domain.StatusCallback) (*ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
	return f.result, f.err
}

func (f *fakeReconciler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func submittedCall(id string, alias string, vendorID string, status domain.Status) domain.DeliveryRecord {
	return domain.DeliveryRecord{
		ID:                  id,
		Kind:                domain.KindCall,
		TargetNumber:        "+14155550100",
		ProviderAlias:       alias,
		VendorCorrelationID: vendorID,
		Status:              status,
		CreatedAt:           testNow.Add(-time.Hour),
		UpdatedAt:           testNow.Add(-time.Hour),
	}
}

type memoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]provider.Challenge
}

func newMemoryChallengeStore() *memoryChallengeStore {
	return &memoryChallengeStore{challenges: make(map[string]provider.Challenge)}
}

func (s *memoryChallengeStore) Save(ctx context.Context, number string, challenge provider.Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[number] = challenge
	return nil
}

func (s *memoryChallengeStore) Load(ctx context.Context, number string) (*provider.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[number]
	if !ok {
		return nil, nil
	}
	return &challenge, nil
}

func (s *memoryChallengeStore) ReserveAttempt(ctx context.Context, number string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[number]
	if !ok {
		return 0, nil
	}
	challenge.Attempts++
	s.challenges[number] = challenge
	return challenge.Attempts, nil
}

func (s *memoryChallengeStore) Delete(ctx context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, number)
	return nil
}
