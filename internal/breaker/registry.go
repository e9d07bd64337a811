package breaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
)

// Registry mantém um breaker por processor, compartilhado por todos os workers
type Registry struct {
	config   Config
	clock    clock.Clock
	logger   *zap.Logger
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
}

func NewRegistry(config Config, clk clock.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config:   config.withDefaults(),
		clock:    clk,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get retorna o breaker do processor, criando na primeira chamada
func (r *Registry) Get(processorName string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[processorName]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[processorName]; exists {
		return cb
	}

	cb = NewCircuitBreaker(processorName, r.config, r.clock, r.logger)
	r.breakers[processorName] = cb

	r.logger.Debug("circuit breaker criado",
		zap.String("processor", processorName),
		zap.Int("threshold", r.config.FailureThreshold),
		zap.Duration("recovery", r.config.RecoveryWindow))

	return cb
}

// All retorna as métricas de todos os breakers ordenadas pelo nome
func (r *Registry) All() []Metrics {
	r.mu.RLock()
	out := make([]Metrics, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Metrics())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorName < out[j].ProcessorName })
	return out
}
