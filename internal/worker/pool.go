package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/queue"
)

const slowItemThreshold = time.Second

// ErrWorkerPanic marca o resultado de um item cujo processamento entrou em pânico
var ErrWorkerPanic = errors.New("worker panic")

// Processor é o roteamento executado para cada item da fila
type Processor interface {
	ProcessPayment(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult
}

// Source é de onde os workers consomem
type Source interface {
	Dequeue(ctx context.Context) (queue.Item, bool)
	RecordProcessed(success bool, elapsed time.Duration)
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(p *Pool) {
		if clk != nil {
			p.clock = clk
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// OnSuccess é chamado depois de cada pagamento processado com sucesso
func OnSuccess(fn func(domain.PaymentResult)) Option {
	return func(p *Pool) {
		p.onSuccess = fn
	}
}

// Pool mantém um número fixo de workers consumindo a fila de admissão
type Pool struct {
	source    Source
	processor Processor
	workers   int
	clock     clock.Clock
	logger    *zap.Logger
	onSuccess func(domain.PaymentResult)
	wg        sync.WaitGroup
	startOnce sync.Once
}

func NewPool(source Source, processor Processor, opts ...Option) *Pool {
	p := &Pool{
		source:    source,
		processor: processor,
		workers:   runtime.GOMAXPROCS(0),
		clock:     clock.System{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

// Start sobe os workers. Eles param quando ctx é cancelado ou a fila fecha e esvazia.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info("iniciando workers de pagamento", zap.Int("workers", p.workers))
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.run(ctx, i)
		}
	})
}

// Wait bloqueia até todos os workers terminarem
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		item, ok := p.source.Dequeue(ctx)
		if !ok {
			p.logger.Debug("worker encerrado", zap.Int("worker", id))
			return
		}
		p.handle(ctx, id, item)
	}
}

func (p *Pool) handle(ctx context.Context, id int, item queue.Item) {
	start := p.clock.Now()
	result := p.process(ctx, id, item)
	elapsed := p.clock.Now().Sub(start)

	p.source.RecordProcessed(result.Success, elapsed)
	if elapsed > slowItemThreshold {
		p.logger.Warn("pagamento lento",
			zap.Int("worker", id),
			zap.Stringer("correlationId", item.Request.CorrelationID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("queued", start.Sub(item.EnqueuedAt)))
	}
	if result.Success && p.onSuccess != nil {
		p.onSuccess(result)
	}

	if h := item.Handle(); h != nil {
		if ctx.Err() != nil && !result.Success {
			h.Cancel()
			return
		}
		h.Resolve(result)
	}
}

func (p *Pool) process(ctx context.Context, id int, item queue.Item) (result domain.PaymentResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pânico ao processar pagamento",
				zap.Int("worker", id),
				zap.Stringer("correlationId", item.Request.CorrelationID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result = domain.Failed(fmt.Sprintf("%v: %v", ErrWorkerPanic, r))
		}
	}()
	return p.processor.ProcessPayment(ctx, item.Request)
}
