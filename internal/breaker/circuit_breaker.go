package breaker

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
)

type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText faz o estado aparecer como texto nas métricas
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Config struct {
	FailureThreshold int
	RecoveryWindow   time.Duration
}

// DefaultConfig abre após 3 falhas seguidas e tenta de novo após 10s
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryWindow:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = d.RecoveryWindow
	}
	return c
}

// Metrics é uma fotografia do breaker, pode estar levemente defasada sob concorrência
type Metrics struct {
	ProcessorName   string       `json:"processorName"`
	State           CircuitState `json:"state"`
	FailureCount    int64        `json:"failureCount"`
	SuccessCount    int64        `json:"successCount"`
	LastFailureTime *time.Time   `json:"lastFailureTime"`
	LastSuccessTime *time.Time   `json:"lastSuccessTime"`
}

// CircuitBreaker protege um processor. Todo o estado é atômico para que
// CanExecute nunca bloqueie no caminho quente.
type CircuitBreaker struct {
	name   string
	config Config
	clock  clock.Clock
	logger *zap.Logger

	state        atomic.Int32
	failureCount atomic.Int64
	successCount atomic.Int64
	lastFailure  atomic.Int64 // unix nano, 0 = nunca
	lastSuccess  atomic.Int64
	probeAt      atomic.Int64
}

func NewCircuitBreaker(name string, config Config, clk clock.Clock, logger *zap.Logger) *CircuitBreaker {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		clock:  clk,
		logger: logger,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanExecute informa se uma chamada ao processor é permitida. Depois da janela
// de recuperação, apenas o chamador que vence a transição Open→HalfOpen recebe true.
func (cb *CircuitBreaker) CanExecute() bool {
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		elapsed := cb.clock.Now().UnixNano() - cb.lastFailure.Load()
		if time.Duration(elapsed) <= cb.config.RecoveryWindow {
			return false
		}
		// probeAt antes do CAS: quem enxergar HalfOpen já vê o horário da sonda
		cb.probeAt.Store(cb.clock.Now().UnixNano())
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.logger.Info("circuit breaker meio aberto, liberando sonda",
				zap.String("processor", cb.name),
				zap.Duration("after", time.Duration(elapsed)))
			return true
		}
		return false
	default:
		// Sonda em andamento. Se ela não reportou nada dentro da janela
		// (erro 4xx, worker cancelado), libera outra.
		probeAt := cb.probeAt.Load()
		now := cb.clock.Now().UnixNano()
		if time.Duration(now-probeAt) <= cb.config.RecoveryWindow {
			return false
		}
		return cb.probeAt.CompareAndSwap(probeAt, now)
	}
}

// RecordSuccess zera as falhas e fecha o circuito a partir de qualquer estado
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failureCount.Store(0)
	cb.successCount.Add(1)
	cb.lastSuccess.Store(cb.clock.Now().UnixNano())

	if prev := CircuitState(cb.state.Swap(int32(CircuitClosed))); prev != CircuitClosed {
		cb.logger.Info("circuit breaker fechado",
			zap.String("processor", cb.name),
			zap.Stringer("from", prev))
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	failures := cb.failureCount.Add(1)
	cb.lastFailure.Store(cb.clock.Now().UnixNano())

	switch CircuitState(cb.state.Load()) {
	case CircuitHalfOpen:
		if cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitOpen)) {
			cb.logger.Warn("circuit breaker reaberto, sonda falhou",
				zap.String("processor", cb.name),
				zap.Int64("failures", failures))
		}
	case CircuitClosed:
		if failures >= int64(cb.config.FailureThreshold) &&
			cb.state.CompareAndSwap(int32(CircuitClosed), int32(CircuitOpen)) {
			cb.logger.Warn("circuit breaker aberto",
				zap.String("processor", cb.name),
				zap.Int64("failures", failures),
				zap.Int("threshold", cb.config.FailureThreshold))
		}
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

func (cb *CircuitBreaker) Metrics() Metrics {
	return Metrics{
		ProcessorName:   cb.name,
		State:           cb.State(),
		FailureCount:    cb.failureCount.Load(),
		SuccessCount:    cb.successCount.Load(),
		LastFailureTime: unixNanoToTime(cb.lastFailure.Load()),
		LastSuccessTime: unixNanoToTime(cb.lastSuccess.Load()),
	}
}

func unixNanoToTime(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
