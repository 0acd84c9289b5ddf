package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/joblock"
	"github.com/optoutly/removal-engine/internal/provider"
	"github.com/optoutly/removal-engine/internal/queue"
	"github.com/optoutly/removal-engine/internal/repository"
)

// fakeRemovalRepo is an in-memory RemovalRepository that enforces the same
// transition rules as the real one.
type fakeRemovalRepo struct {
	mu    sync.Mutex
	items map[string]*domain.RemovalRequest
	order []string

	transitionErr error
}

func newFakeRemovalRepo() *fakeRemovalRepo {
	return &fakeRemovalRepo{items: make(map[string]*domain.RemovalRequest)}
}

func (f *fakeRemovalRepo) add(req domain.RemovalRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	copied := req
	f.items[req.ID] = &copied
	f.order = append(f.order, req.ID)
}

func (f *fakeRemovalRepo) get(id string) domain.RemovalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeRemovalRepo) countByStatus(status domain.RemovalStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.items {
		if r.Status == status {
			n++
		}
	}
	return n
}

func (f *fakeRemovalRepo) Create(ctx context.Context, r *domain.RemovalRequest) error {
	f.add(*r)
	return nil
}

func (f *fakeRemovalRepo) GetByID(ctx context.Context, id string) (*domain.RemovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRemovalRepo) GetByExposureID(ctx context.Context, exposureID string) (*domain.RemovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if f.items[id].ExposureID == exposureID {
			copied := *f.items[id]
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRemovalRepo) List(ctx context.Context, params repository.ListParams) ([]domain.RemovalRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RemovalRequest
	for _, id := range f.order {
		r := f.items[id]
		if params.Status != nil && r.Status != *params.Status {
			continue
		}
		if params.UserID != nil && r.UserID != *params.UserID {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRemovalRepo) listWhere(limit int, match func(*domain.RemovalRequest) bool, less func(a, b *domain.RemovalRequest) bool) []domain.RemovalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RemovalRequest
	for _, id := range f.order {
		if match(f.items[id]) {
			out = append(out, *f.items[id])
		}
	}
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeRemovalRepo) ListPending(ctx context.Context, limit, perBroker int) ([]domain.RemovalRequest, error) {
	if perBroker < 1 {
		perBroker = limit
	}
	candidates := f.listWhere(0, func(r *domain.RemovalRequest) bool {
		return r.Status == domain.RemovalPending
	}, func(a, b *domain.RemovalRequest) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})

	perBrokerSeen := make(map[string]int)
	var out []domain.RemovalRequest
	for _, r := range candidates {
		if perBrokerSeen[r.BrokerKey] >= perBroker {
			continue
		}
		perBrokerSeen[r.BrokerKey]++
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRemovalRepo) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error) {
	return f.listWhere(limit, func(r *domain.RemovalRequest) bool {
		return r.Status == domain.RemovalFailed && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
	}, nil), nil
}

func (f *fakeRemovalRepo) ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]domain.RemovalRequest, error) {
	return f.listWhere(limit, func(r *domain.RemovalRequest) bool {
		switch r.Status {
		case domain.RemovalSubmitted, domain.RemovalInProgress, domain.RemovalAcknowledged:
			return r.VerifyAfter != nil && !r.VerifyAfter.After(now)
		}
		return false
	}, nil), nil
}

func (f *fakeRemovalRepo) Transition(ctx context.Context, id string, to domain.RemovalStatus, apply func(*domain.RemovalRequest)) (*domain.RemovalRequest, error) {
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	if apply != nil {
		apply(r)
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRemovalRepo) UpdateVerification(ctx context.Context, id string, verifiedAt, verifyAfter time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	at := verifiedAt
	after := verifyAfter
	r.LastVerifiedAt = &at
	r.VerifyAfter = &after
	r.VerifyCount++
	return nil
}

func (f *fakeRemovalRepo) CountByUserAndStatus(ctx context.Context, userID string, status domain.RemovalStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.items {
		if r.UserID == userID && r.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts []domain.RemovalAttempt
}

func (f *fakeAttemptStore) Create(ctx context.Context, a *domain.RemovalAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptStore) ListByRemoval(ctx context.Context, removalID string) ([]domain.RemovalAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RemovalAttempt
	for _, a := range f.attempts {
		if a.RemovalID == removalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) Outcomes(ctx context.Context, brokerKey string, from, to time.Time) (repository.BrokerOutcome, error) {
	return repository.BrokerOutcome{BrokerKey: brokerKey}, nil
}

func (f *fakeAttemptStore) OutcomesByBroker(ctx context.Context, from, to time.Time) ([]repository.BrokerOutcome, error) {
	return nil, nil
}

func (f *fakeAttemptStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeDirectory struct {
	brokers map[string]domain.BrokerInfo
}

func (f *fakeDirectory) GetBrokerInfo(key string) (domain.BrokerInfo, error) {
	b, ok := f.brokers[key]
	if !ok {
		return domain.BrokerInfo{}, domain.ErrNotFound
	}
	return b, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	submitFn func(ctx context.Context, req domain.RemovalRequest, broker domain.BrokerInfo) (*provider.SubmitResponse, error)
}

func (f *fakeSubmitter) Submit(ctx context.Context, req domain.RemovalRequest, broker domain.BrokerInfo) (*provider.SubmitResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(ctx, req, broker)
	}
	return &provider.SubmitResponse{StatusCode: 202, ConfirmationID: "ok"}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGate struct {
	blocked map[string]bool
	err     error
}

func (f *fakeGate) Check(ctx context.Context, email string) (bool, *domain.EmailSuppression, error) {
	if f.err != nil {
		return false, nil, f.err
	}
	if f.blocked[email] {
		return false, &domain.EmailSuppression{Email: email, Suppressed: true}, nil
	}
	return true, nil, nil
}

// fakeLimiter allows a fixed number of reservations per broker.
type fakeLimiter struct {
	mu    sync.Mutex
	cap   int
	taken map[string]int
	err   error
}

func newFakeLimiter(cap int) *fakeLimiter {
	return &fakeLimiter{cap: cap, taken: make(map[string]int)}
}

func (f *fakeLimiter) Reserve(ctx context.Context, broker string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken[broker] >= f.cap {
		return false, nil
	}
	f.taken[broker]++
	return true, nil
}

type fakeAnalyzer struct {
	predictions []domain.Prediction
	intel       map[string]*domain.BrokerIntelligence
	err         error
}

func (f *fakeAnalyzer) AnalyzePatterns(ctx context.Context) ([]domain.Prediction, error) {
	return f.predictions, f.err
}

func (f *fakeAnalyzer) GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error) {
	return f.intel[brokerKey], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	alerts []queue.AlertMessage
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.AlertMessage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []queue.AlertMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.AlertMessage(nil), f.alerts...)
}

type fakeMilestoneRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeMilestoneRepo() *fakeMilestoneRepo {
	return &fakeMilestoneRepo{seen: make(map[string]bool)}
}

func (f *fakeMilestoneRepo) InsertIfAbsent(ctx context.Context, userID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + name
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeRunLogRepo struct {
	mu   sync.Mutex
	runs []domain.JobRun
}

func (f *fakeRunLogRepo) Create(ctx context.Context, run *domain.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRunLogRepo) ListRecent(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.JobRun(nil), f.runs...), nil
}

func (f *fakeRunLogRepo) last() *domain.JobRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return nil
	}
	run := f.runs[len(f.runs)-1]
	return &run
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	contest  bool
	recover  bool
	releases int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(ctx context.Context, jobName string, lease time.Duration) (joblock.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contest || f.held[jobName] {
		return joblock.Lease{Acquired: false, HeldSince: time.Now().Add(-time.Minute)}, nil
	}
	f.held[jobName] = true
	return joblock.Lease{Acquired: true, Recovered: f.recover, HeldSince: time.Now()}, nil
}

func (f *fakeLocker) Release(ctx context.Context, jobName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, jobName)
	f.releases++
	return nil
}

type fakeVerifier struct {
	listedFn func(ctx context.Context, req domain.RemovalRequest, broker domain.BrokerInfo) (bool, error)
}

func (f *fakeVerifier) StillListed(ctx context.Context, req domain.RemovalRequest, broker domain.BrokerInfo) (bool, error) {
	if f.listedFn != nil {
		return f.listedFn(ctx, req, broker)
	}
	return false, nil
}

type fakeProfiler struct {
	risk domain.RiskLevel
	err  error
}

func (f *fakeProfiler) GetBrokerIntelligence(ctx context.Context, brokerKey string) (*domain.BrokerIntelligence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BrokerIntelligence{BrokerKey: brokerKey, Risk: f.risk}, nil
}

func testBrokers() map[string]domain.BrokerInfo {
	return map[string]domain.BrokerInfo{
		"RADARIS": {
			Key:          "RADARIS",
			Name:         "Radaris",
			Method:       domain.ChannelEmail,
			PrivacyEmail: "privacy@radaris.example",
		},
		"SPOKEO": {
			Key:       "SPOKEO",
			Name:      "Spokeo",
			Method:    domain.ChannelForm,
			OptOutURL: "https://spokeo.example/optout",
		},
		"WHITEPAGES": {
			Key:           "WHITEPAGES",
			Name:          "Whitepages",
			Method:        domain.ChannelBoth,
			PrivacyEmail:  "privacy@whitepages.example",
			OptOutURL:     "https://whitepages.example/optout",
			EstimatedDays: 10,
		},
		"MYLIFE": {
			Key:    "MYLIFE",
			Name:   "MyLife",
			Method: domain.ChannelNone,
		},
	}
}

func pendingRemoval(broker string, createdAt time.Time) domain.RemovalRequest {
	return domain.RemovalRequest{
		ID:         uuid.NewString(),
		UserID:     uuid.NewString(),
		ExposureID: uuid.NewString(),
		BrokerKey:  broker,
		Status:     domain.RemovalPending,
		Method:     domain.MethodAutoEmail,
		CreatedAt:  createdAt,
	}
}
