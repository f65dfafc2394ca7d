package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait-app/pawtrait/pkg/billing"
)

// memStore is an in-memory SubscriptionStore. Error injection fields let
// tests simulate storage failures without a mock expectation per call.
type memStore struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]billing.Subscription
	getErr    error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[uuid.UUID]billing.Subscription)}
}

func (s *memStore) put(sub *billing.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.TenantID] = *sub
}

func (s *memStore) get(tenantID uuid.UUID) billing.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[tenantID]
}

func (s *memStore) Get(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, billing.ErrTenantNotFound
	}
	out := sub
	return &out, nil
}

func (s *memStore) Create(ctx context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.TenantID] = *sub
	return nil
}

func (s *memStore) UpdateBilling(ctx context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.subs[sub.TenantID]; !ok {
		return billing.ErrTenantNotFound
	}
	s.subs[sub.TenantID] = *sub
	return nil
}

func (s *memStore) UpdateUsage(ctx context.Context, tenantID uuid.UUID, creditsUsed int, anchorAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	sub, ok := s.subs[tenantID]
	if !ok {
		return billing.ErrTenantNotFound
	}
	sub.CreditsUsed = creditsUsed
	sub.AnchorAt = anchorAt
	s.subs[tenantID] = sub
	return nil
}

func (s *memStore) List(ctx context.Context) ([]*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*billing.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		copied := sub
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) ListWithProviderSub(ctx context.Context) ([]*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*billing.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.ProviderSubID == "" {
			continue
		}
		copied := sub
		out = append(out, &copied)
	}
	return out, nil
}

// memEvents is an in-memory append-only event log.
type memEvents struct {
	mu        sync.Mutex
	events    map[uuid.UUID][]time.Time
	appendErr error
	countErr  error
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[uuid.UUID][]time.Time)}
}

func (e *memEvents) Append(ctx context.Context, tenantID uuid.UUID, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.appendErr != nil {
		return e.appendErr
	}
	e.events[tenantID] = append(e.events[tenantID], at)
	return nil
}

func (e *memEvents) CountInRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.countErr != nil {
		return 0, e.countErr
	}
	count := 0
	for _, at := range e.events[tenantID] {
		if !at.Before(from) && at.Before(to) {
			count++
		}
	}
	return count, nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, mode billing.Mode, tenantID uuid.UUID, email string) (string, error) {
	args := m.Called(ctx, mode, tenantID, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) RetrieveCustomer(ctx context.Context, mode billing.Mode, customerID string) (*billing.CustomerRecord, error) {
	args := m.Called(ctx, mode, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CustomerRecord), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, mode billing.Mode, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, mode, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) RetrieveCheckoutSession(ctx context.Context, mode billing.Mode, sessionID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, mode, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) RetrieveSubscription(ctx context.Context, mode billing.Mode, subID string) (*billing.SubscriptionSnapshot, error) {
	args := m.Called(ctx, mode, subID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.SubscriptionSnapshot), args.Error(1)
}

func (m *mockProvider) UpdateItemQuantity(ctx context.Context, mode billing.Mode, subID, priceID string, quantity int) error {
	args := m.Called(ctx, mode, subID, priceID, quantity)
	return args.Error(0)
}

func (m *mockProvider) ScheduleItemPriceChange(ctx context.Context, mode billing.Mode, subID, priceID string) (time.Time, error) {
	args := m.Called(ctx, mode, subID, priceID)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockProvider) ListPrices(ctx context.Context, mode billing.Mode) ([]billing.PriceRecord, error) {
	args := m.Called(ctx, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.PriceRecord), args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string, mode billing.Mode) (*billing.ProviderEvent, error) {
	args := m.Called(payload, signature, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderEvent), args.Error(1)
}

type mockMaintenance struct {
	mock.Mock
}

func (m *mockMaintenance) RepairSequences(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// hookLocker runs beforeHold when the lock is taken, standing in for a
// concurrent writer that got there first.
type hookLocker struct {
	beforeHold func(uuid.UUID)
}

func (l *hookLocker) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	if l.beforeHold != nil {
		l.beforeHold(tenantID)
	}
	return func() {}, nil
}

func intPtr(v int) *int { return &v }

// testPlans covers the shapes the engine must handle: a free trial plan, two
// paid tiers with finite limits, and an unlimited tier with overage billing.
func testPlans() []billing.Plan {
	return []billing.Plan{
		{
			ID:             "starter",
			Name:           "Starter",
			PetLimit:       intPtr(3),
			MonthlyCredits: 5,
			TrialDays:      14,
			Public:         true,
		},
		{
			ID:             "basic",
			Name:           "Basic",
			Price:          billing.Money{Amount: 1900, Currency: "USD"},
			PetLimit:       intPtr(10),
			MonthlyCredits: 25,
			PriceIDs: map[billing.Mode]string{
				billing.ModeLive: "pri_basic_live",
				billing.ModeTest: "pri_basic_test",
			},
			Public: true,
		},
		{
			ID:             "pro",
			Name:           "Pro",
			Price:          billing.Money{Amount: 3900, Currency: "USD"},
			PetLimit:       intPtr(15),
			MonthlyCredits: 50,
			PriceIDs: map[billing.Mode]string{
				billing.ModeLive: "pri_pro_live",
				billing.ModeTest: "pri_pro_test",
			},
			Public: true,
		},
		{
			ID:             "shelter",
			Name:           "Shelter",
			Price:          billing.Money{Amount: 9900, Currency: "USD"},
			MonthlyCredits: 200,
			OveragePrice:   &billing.Money{Amount: 50, Currency: "USD"},
			PriceIDs: map[billing.Mode]string{
				billing.ModeLive: "pri_shelter_live",
				billing.ModeTest: "pri_shelter_test",
			},
			Public: true,
		},
	}
}

func newTestCatalog(t *testing.T) *billing.Catalog {
	t.Helper()
	catalog, err := billing.NewCatalog(context.Background(), billing.NewInMemSource(testPlans()...), nil)
	require.NoError(t, err)
	return catalog
}

// fixedNow is the pinned clock used across the engine tests.
var fixedNow = time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *billing.Service
	store    *memStore
	events   *memEvents
	provider *mockProvider
	catalog  *billing.Catalog
}

func newTestEnv(t *testing.T, opts ...billing.ServiceOption) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    newMemStore(),
		events:   newMemEvents(),
		provider: &mockProvider{},
	}
	env.catalog = newTestCatalog(t)

	base := []billing.ServiceOption{
		billing.WithClock(func() time.Time { return fixedNow }),
		billing.WithAddOnPriceIDs(map[billing.Mode]string{
			billing.ModeLive: "pri_addon_live",
			billing.ModeTest: "pri_addon_test",
		}),
	}
	env.svc = billing.NewService(env.catalog, env.store, env.events, env.provider,
		append(base, opts...)...)
	return env
}

// activeSub seeds the store with a provider-billed active subscription on the
// pro plan and returns its tenant ID.
func (env *testEnv) activeSub(planID string) uuid.UUID {
	tenantID := uuid.New()
	sub := &billing.Subscription{
		TenantID:           tenantID,
		PlanID:             planID,
		Status:             billing.StatusActive,
		TrialUsed:          true,
		AnchorAt:           fixedNow.AddDate(0, 0, -9),
		ProviderCustomerID: "ctm_1",
		ProviderSubID:      "sub_1",
		ProviderSyncedAt:   fixedNow.Add(-time.Hour),
		Mode:               billing.ModeLive,
		CreatedAt:          fixedNow.AddDate(0, -3, 0),
		UpdatedAt:          fixedNow.Add(-time.Hour),
	}
	env.store.put(sub)
	return tenantID
}
