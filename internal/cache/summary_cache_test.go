package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int
	summary domain.PaymentsSummary
	err     error
}

func (f *fakeSource) GetPaymentsSummary(_ context.Context, _, _ *time.Time) (domain.PaymentsSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.summary, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBus struct {
	published chan struct{}
}

func (b *fakeBus) PublishInvalidation(context.Context) error {
	b.published <- struct{}{}
	return nil
}

func sampleSummary() domain.PaymentsSummary {
	return domain.PaymentsSummary{
		Default: domain.ProcessorSummary{TotalRequests: 3, TotalAmount: decimal.RequireFromString("59.70")},
	}
}

func TestSummaryKey(t *testing.T) {
	from := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "payments_summary:null:null", SummaryKey(nil, nil))
	require.Equal(t, "payments_summary:2025-07-01T12:00:00Z:null", SummaryKey(&from, nil))
}

func TestHitWithinTTL(t *testing.T) {
	src := &fakeSource{summary: sampleSummary()}
	clk := clock.NewManual(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	c := NewSummaryCache(src, WithClock(clk))
	ctx := context.Background()

	first := c.GetSummary(ctx, nil, nil)
	clk.Advance(29 * time.Second)
	second := c.GetSummary(ctx, nil, nil)

	require.Equal(t, first, second)
	require.Equal(t, 1, src.Calls())

	stats := c.Stats()
	require.Equal(t, int64(1), stats.TotalHits)
	require.Equal(t, int64(1), stats.TotalMisses)
	require.Equal(t, 1, stats.CachedItems)
	require.InDelta(t, 0.5, stats.HitRatio, 0.0001)
}

func TestExpiresAfterTTL(t *testing.T) {
	src := &fakeSource{summary: sampleSummary()}
	clk := clock.NewManual(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	c := NewSummaryCache(src, WithClock(clk), WithTTL(time.Second))
	ctx := context.Background()

	c.GetSummary(ctx, nil, nil)
	clk.Advance(time.Second)
	c.GetSummary(ctx, nil, nil)

	require.Equal(t, 2, src.Calls())
}

func TestDistinctRangesAreSeparateEntries(t *testing.T) {
	src := &fakeSource{summary: sampleSummary()}
	c := NewSummaryCache(src)
	ctx := context.Background()
	from := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	c.GetSummary(ctx, nil, nil)
	c.GetSummary(ctx, &from, nil)
	c.GetSummary(ctx, &from, nil)

	require.Equal(t, 2, src.Calls())
	require.Equal(t, 2, c.Stats().CachedItems)
}

func TestInvalidateForcesMiss(t *testing.T) {
	src := &fakeSource{summary: sampleSummary()}
	c := NewSummaryCache(src)
	ctx := context.Background()

	c.GetSummary(ctx, nil, nil)
	c.Invalidate()
	require.Equal(t, 0, c.Stats().CachedItems)

	c.GetSummary(ctx, nil, nil)
	require.Equal(t, 2, src.Calls())
}

func TestSourceErrorReturnsEmptySummary(t *testing.T) {
	src := &fakeSource{err: errors.New("banco fora")}
	c := NewSummaryCache(src)

	got := c.GetSummary(context.Background(), nil, nil)
	require.Equal(t, domain.PaymentsSummary{}, got)
	require.Equal(t, 0, c.Stats().CachedItems)
}

func TestWarmupLoadsTwoEntries(t *testing.T) {
	src := &fakeSource{summary: sampleSummary()}
	c := NewSummaryCache(src)

	c.Warmup(context.Background())
	require.Equal(t, 2, src.Calls())
	require.Equal(t, 2, c.Stats().CachedItems)
}

func TestInvalidateIsBroadcast(t *testing.T) {
	bus := &fakeBus{published: make(chan struct{}, 4)}
	c := NewSummaryCache(&fakeSource{}, WithInvalidationBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunBroadcaster(ctx)

	c.Invalidate()
	select {
	case <-bus.published:
	case <-time.After(time.Second):
		t.Fatal("invalidação não foi publicada")
	}

	c.InvalidateLocal()
	select {
	case <-bus.published:
		t.Fatal("InvalidateLocal não deve publicar")
	case <-time.After(50 * time.Millisecond):
	}
}

type invalidatingSource struct {
	cache   *SummaryCache
	summary domain.PaymentsSummary
	calls   int
}

func (s *invalidatingSource) GetPaymentsSummary(context.Context, *time.Time, *time.Time) (domain.PaymentsSummary, error) {
	s.calls++
	if s.calls == 1 {
		// um pagamento foi gravado enquanto a consulta rodava
		s.cache.InvalidateLocal()
	}
	return s.summary, nil
}

func TestInvalidationDuringFetchIsNotCached(t *testing.T) {
	src := &invalidatingSource{summary: sampleSummary()}
	c := NewSummaryCache(src)
	src.cache = c
	ctx := context.Background()

	require.Equal(t, sampleSummary(), c.GetSummary(ctx, nil, nil))
	require.Equal(t, 0, c.Stats().CachedItems)

	c.GetSummary(ctx, nil, nil)
	require.Equal(t, 2, src.calls)
	require.Equal(t, 1, c.Stats().CachedItems)

	c.GetSummary(ctx, nil, nil)
	require.Equal(t, 2, src.calls)
}
