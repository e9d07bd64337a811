package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/breaker"
	"rinha-payment-gateway/internal/cache"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/queue"
	"rinha-payment-gateway/internal/repository"
)

const DefaultEnqueueTimeout = 5 * time.Second

type PaymentQueue interface {
	EnqueueAsync(ctx context.Context, req domain.PaymentRequest) bool
	EnqueueAndWait(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult
	Metrics() queue.Metrics
}

type SummaryCache interface {
	GetSummary(ctx context.Context, from, to *time.Time) domain.PaymentsSummary
	Invalidate()
	Warmup(ctx context.Context)
	Stats() cache.Stats
}

type PaymentReader interface {
	GetStats(ctx context.Context) (domain.Stats, error)
	FindPayment(ctx context.Context, correlationID uuid.UUID) (*domain.PaymentRecord, error)
}

type HealthReporter interface {
	Status() []domain.ProcessorHealth
}

type Handler struct {
	queue          PaymentQueue
	summary        SummaryCache
	payments       PaymentReader
	breakers       *breaker.Registry
	health         HealthReporter
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// New monta o handler; health pode ser nil quando o monitor está desligado
func New(
	q PaymentQueue,
	summary SummaryCache,
	payments PaymentReader,
	breakers *breaker.Registry,
	health HealthReporter,
	enqueueTimeout time.Duration,
	logger *zap.Logger,
) *Handler {
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		queue:          q,
		summary:        summary,
		payments:       payments,
		breakers:       breakers,
		health:         health,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// ProcessPayment sempre responde 200. O pagamento é processado em background.
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req domain.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("corpo de pagamento inválido", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.Debug("pagamento rejeitado na entrada", zap.Stringer("correlationId", req.CorrelationID), zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.enqueueTimeout)
	defer cancel()

	if h.queue.EnqueueAsync(ctx, req) {
		h.summary.Invalidate()
	}
	c.Status(http.StatusOK)
}

// ProcessPaymentSync aguarda o resultado do worker; usado para depuração
func (h *Handler) ProcessPaymentSync(c *gin.Context) {
	var req domain.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.queue.EnqueueAndWait(c.Request.Context(), req)
	if result.Success {
		h.summary.Invalidate()
	}
	c.JSON(http.StatusOK, result)
}

// PaymentsSummary aceita from/to opcionais em RFC3339; valores inválidos são ignorados
func (h *Handler) PaymentsSummary(c *gin.Context) {
	from := parseTime(c.Query("from"))
	to := parseTime(c.Query("to"))

	c.JSON(http.StatusOK, h.summary.GetSummary(c.Request.Context(), from, to))
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (h *Handler) QueueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Metrics())
}

func (h *Handler) CircuitBreakerMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.breakers.All())
}

func (h *Handler) CacheMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.summary.Stats())
}

func (h *Handler) InvalidateCache(c *gin.Context) {
	h.summary.Invalidate()
	h.logger.Info("cache de resumo invalidado manualmente")
	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}

func (h *Handler) WarmupCache(c *gin.Context) {
	h.summary.Warmup(c.Request.Context())
	c.JSON(http.StatusOK, h.summary.Stats())
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.payments.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("erro ao buscar estatísticas", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao buscar estatísticas"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) DebugPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correlationId inválido"})
		return
	}

	record, err := h.payments.FindPayment(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pagamento não encontrado"})
		return
	}
	if err != nil {
		h.logger.Error("erro ao buscar pagamento", zap.Stringer("correlationId", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao buscar pagamento"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) Health(c *gin.Context) {
	processors := []domain.ProcessorHealth{}
	if h.health != nil {
		processors = h.health.Status()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"processors": processors,
	})
}
