package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/payment"
)

// os processors só aceitam um health check a cada 5s
const DefaultInterval = 5 * time.Second

// HealthChecker consulta o endpoint de saúde de um processor
type HealthChecker interface {
	Health(ctx context.Context, processor string) (domain.HealthStatus, error)
	Processors() []string
}

// StatusStore compartilha o status entre as instâncias da API
type StatusStore interface {
	SetProcessorStatus(ctx context.Context, health domain.ProcessorHealth) error
	GetProcessorStatus(ctx context.Context, processorName string) (domain.ProcessorHealth, bool, error)
	TryHealthLock(ctx context.Context, ttl time.Duration) (bool, error)
}

// HealthMonitor consulta periodicamente os processors e guarda o último status
// conhecido. É só informativo: o roteamento não depende dele.
type HealthMonitor struct {
	checker  HealthChecker
	store    StatusStore
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	status  map[string]domain.ProcessorHealth
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHealthMonitor cria o monitor; store pode ser nil quando não há redis
func NewHealthMonitor(checker HealthChecker, store StatusStore, interval time.Duration, clk clock.Clock, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		checker:  checker,
		store:    store,
		interval: interval,
		clock:    clk,
		logger:   logger,
		status:   make(map[string]domain.ProcessorHealth),
	}
}

func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("monitor de saúde já está rodando")
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.logger.Info("iniciando monitor de saúde dos processors",
		zap.Strings("processors", m.checker.Processors()),
		zap.Duration("interval", m.interval))

	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("monitor de saúde parado")
}

func (m *HealthMonitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check executa um ciclo. Se outra instância tem o lock, apenas lê o status compartilhado.
func (m *HealthMonitor) Check(ctx context.Context) {
	if m.store != nil {
		owner, err := m.store.TryHealthLock(ctx, m.interval)
		if err != nil {
			m.logger.Warn("erro ao adquirir lock, consultando localmente", zap.Error(err))
		} else if !owner {
			m.refreshFromStore(ctx)
			return
		}
	}

	for _, name := range m.checker.Processors() {
		m.poll(ctx, name)
	}
}

func (m *HealthMonitor) poll(ctx context.Context, name string) {
	status, err := m.checker.Health(ctx, name)
	if err != nil {
		// 429 ou erro de rede: mantém o último status conhecido
		level := zap.WarnLevel
		if errors.Is(err, payment.ErrRateLimited) {
			level = zap.DebugLevel
		}
		if ce := m.logger.Check(level, "health check falhou"); ce != nil {
			ce.Write(zap.String("processor", name), zap.Error(err))
		}
		return
	}

	health := domain.ProcessorHealth{Name: name, Status: status, CheckedAt: m.clock.Now()}
	m.set(health)

	if m.store != nil {
		if err := m.store.SetProcessorStatus(ctx, health); err != nil {
			m.logger.Warn("erro ao compartilhar status do processor", zap.String("processor", name), zap.Error(err))
		}
	}
	m.logger.Debug("health check concluído",
		zap.String("processor", name),
		zap.Bool("failing", status.Failing),
		zap.Int("minResponseTime", status.MinResponseTime))
}

func (m *HealthMonitor) refreshFromStore(ctx context.Context) {
	for _, name := range m.checker.Processors() {
		health, ok, err := m.store.GetProcessorStatus(ctx, name)
		if err != nil {
			m.logger.Warn("erro ao ler status compartilhado", zap.String("processor", name), zap.Error(err))
			continue
		}
		if ok {
			m.set(health)
		}
	}
}

func (m *HealthMonitor) set(health domain.ProcessorHealth) {
	m.mu.Lock()
	m.status[health.Name] = health
	m.mu.Unlock()
}

// Status retorna o último status conhecido de cada processor, ordenado por nome
func (m *HealthMonitor) Status() []domain.ProcessorHealth {
	m.mu.RLock()
	out := make([]domain.ProcessorHealth, 0, len(m.status))
	for _, h := range m.status {
		out = append(out, h)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
