package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
)

const DefaultCapacity = 10000

// ErrClosed é retornado quando a fila não aceita mais itens
var ErrClosed = errors.New("fila de pagamentos fechada")

// Metrics é a fotografia dos contadores da fila
type Metrics struct {
	QueueLength             int        `json:"queueLength"`
	Capacity                int        `json:"capacity"`
	TotalEnqueued           int64      `json:"totalEnqueued"`
	TotalProcessed          int64      `json:"totalProcessed"`
	TotalFailed             int64      `json:"totalFailed"`
	AverageProcessingTimeMs float64    `json:"averageProcessingTimeMs"`
	LastProcessedAt         *time.Time `json:"lastProcessedAt"`
}

// Queue é a fila de admissão: limitada, com backpressure. Quando cheia, quem
// enfileira fica suspenso até abrir espaço ou o contexto ser cancelado.
type Queue struct {
	items     chan Item
	closed    chan struct{}
	closeOnce sync.Once
	clock     clock.Clock
	logger    *zap.Logger

	totalEnqueued       atomic.Int64
	totalProcessed      atomic.Int64
	totalFailed         atomic.Int64
	totalProcessingTime atomic.Int64 // nanos
	lastProcessedAt     atomic.Int64 // unix nano
}

func New(capacity int, clk clock.Clock, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		items:  make(chan Item, capacity),
		closed: make(chan struct{}),
		clock:  clk,
		logger: logger,
	}
}

// EnqueueAsync enfileira sem aguardar o processamento. Retorna false apenas se
// o contexto for cancelado ou a fila estiver fechada.
func (q *Queue) EnqueueAsync(ctx context.Context, req domain.PaymentRequest) bool {
	item := Item{Request: req, EnqueuedAt: q.clock.Now(), Mode: NoWait}
	if err := q.enqueue(ctx, item); err != nil {
		q.logger.Warn("falha ao enfileirar pagamento",
			zap.Stringer("correlationId", req.CorrelationID),
			zap.Error(err))
		return false
	}
	return true
}

// EnqueueAndWait enfileira e aguarda o worker resolver o resultado
func (q *Queue) EnqueueAndWait(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult {
	h := newHandle()
	item := Item{Request: req, EnqueuedAt: q.clock.Now(), Mode: WaitForResult, handle: h}

	if err := q.enqueue(ctx, item); err != nil {
		if errors.Is(err, ErrClosed) {
			return domain.Failed(err.Error())
		}
		return domain.Failed(domain.ReasonCancelled)
	}

	select {
	case <-h.Done():
		return h.Result()
	case <-ctx.Done():
		// se o worker já entregou o resultado, ele vence o cancelamento
		h.Cancel()
		return h.Result()
	}
}

func (q *Queue) enqueue(ctx context.Context, item Item) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		q.totalEnqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	}
}

// Dequeue suspende até haver um item. Retorna false quando o contexto é
// cancelado ou a fila foi fechada e está vazia.
func (q *Queue) Dequeue(ctx context.Context) (Item, bool) {
	if ctx.Err() != nil {
		return Item{}, false
	}

	select {
	case item := <-q.items:
		return item, true
	default:
	}

	select {
	case item := <-q.items:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	case <-q.closed:
		select {
		case item := <-q.items:
			return item, true
		default:
			return Item{}, false
		}
	}
}

// RecordProcessed é chamado pelos workers ao concluir um item
func (q *Queue) RecordProcessed(success bool, elapsed time.Duration) {
	if success {
		q.totalProcessed.Add(1)
	} else {
		q.totalFailed.Add(1)
	}
	q.totalProcessingTime.Add(int64(elapsed))
	q.lastProcessedAt.Store(q.clock.Now().UnixNano())
}

func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Metrics() Metrics {
	processed := q.totalProcessed.Load()
	failed := q.totalFailed.Load()

	var avg float64
	if done := processed + failed; done > 0 {
		avg = float64(q.totalProcessingTime.Load()) / float64(done) / float64(time.Millisecond)
	}

	m := Metrics{
		QueueLength:             len(q.items),
		Capacity:                cap(q.items),
		TotalEnqueued:           q.totalEnqueued.Load(),
		TotalProcessed:          processed,
		TotalFailed:             failed,
		AverageProcessingTimeMs: avg,
	}
	if n := q.lastProcessedAt.Load(); n != 0 {
		t := time.Unix(0, n).UTC()
		m.LastProcessedAt = &t
	}
	return m
}

// Close para de aceitar itens; os workers drenam o que sobrou
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.logger.Info("fila de pagamentos fechada", zap.Int("pending", len(q.items)))
	})
}
