package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
)

const (
	DefaultSummaryTTL = 30 * time.Second
	summaryKeyPrefix  = "payments_summary"
)

// SummarySource é a consulta agregada do repositório
type SummarySource interface {
	GetPaymentsSummary(ctx context.Context, from, to *time.Time) (domain.PaymentsSummary, error)
}

// InvalidationBus propaga invalidações para outras instâncias
type InvalidationBus interface {
	PublishInvalidation(ctx context.Context) error
}

// Stats são as métricas do cache de resumo
type Stats struct {
	TotalHits   int64     `json:"totalHits"`
	TotalMisses int64     `json:"totalMisses"`
	CachedItems int       `json:"cachedItems"`
	HitRatio    float64   `json:"hitRatio"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type summaryEntry struct {
	summary   domain.PaymentsSummary
	expiresAt time.Time
}

type Option func(*SummaryCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *SummaryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *SummaryCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *SummaryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInvalidationBus publica cada invalidação local para as outras instâncias
func WithInvalidationBus(bus InvalidationBus) Option {
	return func(c *SummaryCache) {
		c.bus = bus
	}
}

// SummaryCache é um cache read-through do resumo de pagamentos
type SummaryCache struct {
	source SummarySource
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
	bus    InvalidationBus

	mu         sync.RWMutex
	entries    map[string]summaryEntry
	generation uint64

	hits        atomic.Int64
	misses      atomic.Int64
	lastUpdated atomic.Int64

	pending chan struct{}
}

func NewSummaryCache(source SummarySource, opts ...Option) *SummaryCache {
	c := &SummaryCache{
		source:  source,
		ttl:     DefaultSummaryTTL,
		clock:   clock.System{},
		logger:  zap.NewNop(),
		entries: make(map[string]summaryEntry),
		pending: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastUpdated.Store(c.clock.Now().UnixNano())
	return c
}

// SummaryKey gera a chave do cache a partir do período consultado
func SummaryKey(from, to *time.Time) string {
	return summaryKeyPrefix + ":" + formatBound(from) + ":" + formatBound(to)
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// GetSummary nunca falha: erro no repositório vira resumo vazio
func (c *SummaryCache) GetSummary(ctx context.Context, from, to *time.Time) domain.PaymentsSummary {
	key := SummaryKey(from, to)
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	generation := c.generation
	c.mu.RUnlock()

	if ok && now.Before(entry.expiresAt) {
		c.hits.Add(1)
		return entry.summary
	}
	c.misses.Add(1)

	summary, err := c.source.GetPaymentsSummary(ctx, from, to)
	if err != nil {
		c.logger.Error("erro ao buscar resumo para o cache", zap.String("key", key), zap.Error(err))
		return domain.PaymentsSummary{}
	}

	c.mu.Lock()
	// se houve invalidação durante a consulta, o valor pode estar velho
	if c.generation == generation {
		c.entries[key] = summaryEntry{summary: summary, expiresAt: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	c.lastUpdated.Store(c.clock.Now().UnixNano())

	return summary
}

// Invalidate descarta todas as entradas e avisa as outras instâncias
func (c *SummaryCache) Invalidate() {
	c.InvalidateLocal()
	if c.bus == nil {
		return
	}
	select {
	case c.pending <- struct{}{}:
	default:
		// já existe uma publicação pendente
	}
}

// InvalidateLocal descarta as entradas sem propagar
func (c *SummaryCache) InvalidateLocal() {
	c.mu.Lock()
	if len(c.entries) > 0 {
		c.entries = make(map[string]summaryEntry)
	}
	c.generation++
	c.mu.Unlock()
	c.lastUpdated.Store(c.clock.Now().UnixNano())
}

// RunBroadcaster publica as invalidações pendentes no barramento até ctx acabar.
// Invalidações em rajada são agrupadas em uma única publicação.
func (c *SummaryCache) RunBroadcaster(ctx context.Context) {
	if c.bus == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.pending:
			if err := c.bus.PublishInvalidation(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("falha ao propagar invalidação do resumo", zap.Error(err))
			}
		}
	}
}

// Warmup pré-carrega o resumo geral e o da última hora
func (c *SummaryCache) Warmup(ctx context.Context) {
	c.logger.Info("iniciando warmup do cache")
	c.GetSummary(ctx, nil, nil)
	lastHour := c.clock.Now().Add(-time.Hour)
	c.GetSummary(ctx, &lastHour, nil)
}

func (c *SummaryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	c.mu.RLock()
	items := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		TotalHits:   hits,
		TotalMisses: misses,
		CachedItems: items,
		HitRatio:    ratio,
		LastUpdated: time.Unix(0, c.lastUpdated.Load()).UTC(),
	}
}
