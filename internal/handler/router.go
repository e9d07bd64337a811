package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.POST("/payments", h.ProcessPayment)
	router.POST("/payments/sync", h.ProcessPaymentSync)
	router.GET("/payments-summary", h.PaymentsSummary)

	metrics := router.Group("/metrics")
	metrics.GET("/queue", h.QueueMetrics)
	metrics.GET("/circuit-breakers", h.CircuitBreakerMetrics)
	metrics.GET("/cache", h.CacheMetrics)

	admin := router.Group("/admin/cache")
	admin.POST("/invalidate", h.InvalidateCache)
	admin.POST("/warmup", h.WarmupCache)

	router.GET("/stats", h.Stats)
	router.GET("/debug/payment/:correlationId", h.DebugPayment)
	router.GET("/health", h.Health)

	return router
}

// requestLogger registra erros sempre e o resto só em debug
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= 400 {
			logger.Warn("HTTP_ERROR", append(fields, zap.String("ip", c.ClientIP()))...)
			return
		}
		logger.Debug("HTTP_OK", fields...)
	}
}
