package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/payment"
)

type fakeChecker struct {
	mu      sync.Mutex
	results map[string]domain.HealthStatus
	errs    map[string]error
	calls   int
}

func (c *fakeChecker) Health(_ context.Context, processor string) (domain.HealthStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.errs[processor]; err != nil {
		return domain.HealthStatus{}, err
	}
	return c.results[processor], nil
}

func (c *fakeChecker) Processors() []string {
	return []string{domain.ProcessorDefault, domain.ProcessorFallback}
}

func (c *fakeChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeStore struct {
	mu       sync.Mutex
	owner    bool
	statuses map[string]domain.ProcessorHealth
}

func newFakeStore(owner bool) *fakeStore {
	return &fakeStore{owner: owner, statuses: make(map[string]domain.ProcessorHealth)}
}

func (s *fakeStore) SetProcessorStatus(_ context.Context, health domain.ProcessorHealth) error {
	s.mu.Lock()
	s.statuses[health.Name] = health
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) GetProcessorStatus(_ context.Context, name string) (domain.ProcessorHealth, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.statuses[name]
	return h, ok, nil
}

func (s *fakeStore) TryHealthLock(context.Context, time.Duration) (bool, error) {
	return s.owner, nil
}

func newChecker() *fakeChecker {
	return &fakeChecker{
		results: map[string]domain.HealthStatus{
			domain.ProcessorDefault:  {Failing: false, MinResponseTime: 10},
			domain.ProcessorFallback: {Failing: true, MinResponseTime: 0},
		},
		errs: map[string]error{},
	}
}

func TestCheckStoresLastKnownStatus(t *testing.T) {
	checker := newChecker()
	store := newFakeStore(true)
	clk := clock.NewManual(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	m := NewHealthMonitor(checker, store, 0, clk, nil)

	m.Check(context.Background())

	status := m.Status()
	require.Len(t, status, 2)
	require.Equal(t, domain.ProcessorDefault, status[0].Name)
	require.Equal(t, 10, status[0].Status.MinResponseTime)
	require.True(t, status[1].Status.Failing)
	require.Equal(t, clk.Now(), status[0].CheckedAt)
	require.Len(t, store.statuses, 2)
}

func TestRateLimitKeepsPreviousStatus(t *testing.T) {
	checker := newChecker()
	m := NewHealthMonitor(checker, nil, 0, nil, nil)
	m.Check(context.Background())

	checker.mu.Lock()
	checker.errs[domain.ProcessorDefault] = payment.ErrRateLimited
	checker.errs[domain.ProcessorFallback] = errors.New("connection refused")
	checker.mu.Unlock()
	m.Check(context.Background())

	status := m.Status()
	require.Len(t, status, 2)
	require.False(t, status[0].Status.Failing)
	require.True(t, status[1].Status.Failing)
}

func TestNonOwnerReadsSharedStatus(t *testing.T) {
	checker := newChecker()
	store := newFakeStore(false)
	shared := domain.ProcessorHealth{Name: domain.ProcessorDefault, Status: domain.HealthStatus{Failing: true}}
	require.NoError(t, store.SetProcessorStatus(context.Background(), shared))

	m := NewHealthMonitor(checker, store, 0, nil, nil)
	m.Check(context.Background())

	require.Equal(t, 0, checker.Calls())
	status := m.Status()
	require.Len(t, status, 1)
	require.True(t, status[0].Status.Failing)
}

func TestStartStop(t *testing.T) {
	checker := newChecker()
	m := NewHealthMonitor(checker, nil, 10*time.Millisecond, nil, nil)

	m.Start(context.Background())
	require.True(t, m.IsRunning())
	require.Eventually(t, func() bool { return checker.Calls() >= 4 }, time.Second, 5*time.Millisecond)

	m.Stop()
	require.False(t, m.IsRunning())
	m.Stop()
}
