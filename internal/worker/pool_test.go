package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rinha-payment-gateway/internal/breaker"
	"rinha-payment-gateway/internal/cache"
	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/payment"
	"rinha-payment-gateway/internal/queue"
	"rinha-payment-gateway/internal/repository"
	"rinha-payment-gateway/internal/usecase"
)

type okSender struct {
	calls atomic.Int64
}

func (s *okSender) Send(context.Context, string, uuid.UUID, decimal.Decimal, time.Time) payment.Outcome {
	s.calls.Add(1)
	return payment.Success
}

type panicProcessor struct{}

func (panicProcessor) ProcessPayment(context.Context, domain.PaymentRequest) domain.PaymentResult {
	panic("boom")
}

type blockingProcessor struct{}

func (blockingProcessor) ProcessPayment(ctx context.Context, _ domain.PaymentRequest) domain.PaymentResult {
	<-ctx.Done()
	return domain.Failed(domain.ReasonAllUnavailable)
}

func TestPoolProcessesQueuedPayments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryPaymentRepository()
	sender := &okSender{}
	uc := usecase.NewPaymentUseCase(sender, repo, breaker.NewRegistry(breaker.DefaultConfig(), nil, nil), nil, nil, nil)
	q := queue.New(100, nil, nil)

	var successes atomic.Int64
	pool := NewPool(q, uc, WithWorkers(4), OnSuccess(func(domain.PaymentResult) { successes.Add(1) }))
	pool.Start(ctx)

	for i := 0; i < 50; i++ {
		require.True(t, q.EnqueueAsync(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.RequireFromString("19.90")}))
	}
	q.Close()
	pool.Wait()

	summary, err := repo.GetPaymentsSummary(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(50), summary.Default.TotalRequests)
	require.True(t, summary.Default.TotalAmount.Equal(decimal.RequireFromString("995")))
	require.Equal(t, int64(0), summary.Fallback.TotalRequests)

	m := q.Metrics()
	require.Equal(t, int64(50), m.TotalEnqueued)
	require.Equal(t, int64(50), m.TotalProcessed)
	require.Equal(t, 0, m.QueueLength)
	require.Equal(t, int64(50), successes.Load())
	require.Equal(t, int64(50), sender.calls.Load())
}

func TestPoolResolvesWaitingCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryPaymentRepository()
	uc := usecase.NewPaymentUseCase(&okSender{}, repo, breaker.NewRegistry(breaker.DefaultConfig(), nil, nil), nil, nil, nil)
	q := queue.New(10, nil, nil)
	NewPool(q, uc, WithWorkers(1)).Start(ctx)

	result := q.EnqueueAndWait(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(3)})
	require.True(t, result.Success)
	require.Equal(t, domain.ProcessorDefault, result.ProcessorUsed)
	require.NotNil(t, result.Record)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New(10, nil, nil)
	pool := NewPool(q, panicProcessor{}, WithWorkers(1))
	pool.Start(ctx)

	result := q.EnqueueAndWait(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(1)})
	require.False(t, result.Success)
	require.Contains(t, result.ErrorMessage, ErrWorkerPanic.Error())

	// o worker continua vivo depois do pânico
	result = q.EnqueueAndWait(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(1)})
	require.False(t, result.Success)
	require.Equal(t, int64(2), q.Metrics().TotalFailed)
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q := queue.New(10, nil, nil)
	pool := NewPool(q, blockingProcessor{}, WithWorkers(2))
	pool.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	done := make(chan domain.PaymentResult, 1)
	go func() {
		done <- q.EnqueueAndWait(waitCtx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(1)})
	}()

	require.Eventually(t, func() bool { return q.Metrics().TotalEnqueued == 1 && q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()

	result := <-done
	require.False(t, result.Success)
	require.Equal(t, domain.ReasonCancelled, result.ErrorMessage)
}

func TestSlowItemUsesClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	q := queue.New(1, clk, nil)
	pool := NewPool(q, slowProcessor{clk}, WithWorkers(1), WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	result := q.EnqueueAndWait(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(1)})
	require.True(t, result.Success)
	require.InDelta(t, 2000.0, q.Metrics().AverageProcessingTimeMs, 0.001)
}

type slowProcessor struct {
	clk *clock.Manual
}

func (p slowProcessor) ProcessPayment(_ context.Context, req domain.PaymentRequest) domain.PaymentResult {
	p.clk.Advance(2 * time.Second)
	return domain.Succeeded(domain.PaymentRecord{CorrelationID: req.CorrelationID, Amount: req.Amount, Processor: domain.ProcessorDefault})
}

func TestProcessedPaymentInvalidatesSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryPaymentRepository()
	summary := cache.NewSummaryCache(repo)
	uc := usecase.NewPaymentUseCase(&okSender{}, repo, breaker.NewRegistry(breaker.DefaultConfig(), nil, nil), nil, nil, nil)
	q := queue.New(10, nil, nil)

	require.Equal(t, int64(0), summary.GetSummary(ctx, nil, nil).Default.TotalRequests)

	pool := NewPool(q, uc, WithWorkers(1), OnSuccess(func(domain.PaymentResult) { summary.Invalidate() }))
	pool.Start(ctx)

	result := q.EnqueueAndWait(ctx, domain.PaymentRequest{CorrelationID: uuid.New(), Amount: decimal.NewFromInt(7)})
	require.True(t, result.Success)

	got := summary.GetSummary(ctx, nil, nil)
	require.Equal(t, int64(1), got.Default.TotalRequests)
	require.True(t, got.Default.TotalAmount.Equal(decimal.NewFromInt(7)))
}
