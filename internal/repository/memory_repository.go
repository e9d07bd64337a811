package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"rinha-payment-gateway/internal/domain"
)

// MemoryPaymentRepository guarda os pagamentos em memória. Usado com STORAGE=memory.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]domain.PaymentRecord
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[uuid.UUID]domain.PaymentRecord)}
}

func (r *MemoryPaymentRepository) SavePayment(_ context.Context, record domain.PaymentRecord) error {
	r.mu.Lock()
	r.payments[record.CorrelationID] = record
	r.mu.Unlock()
	return nil
}

func (r *MemoryPaymentRepository) PaymentExists(_ context.Context, correlationID uuid.UUID) (bool, error) {
	r.mu.RLock()
	_, ok := r.payments[correlationID]
	r.mu.RUnlock()
	return ok, nil
}

func (r *MemoryPaymentRepository) FindPayment(_ context.Context, correlationID uuid.UUID) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	record, ok := r.payments[correlationID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (r *MemoryPaymentRepository) GetPaymentsSummary(_ context.Context, from, to *time.Time) (domain.PaymentsSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var summary domain.PaymentsSummary
	for _, p := range r.payments {
		if from != nil && p.ProcessedAt.Before(*from) {
			continue
		}
		if to != nil && !p.ProcessedAt.Before(*to) {
			continue
		}
		summary.Add(p.Processor, p.Amount)
	}
	return summary, nil
}

func (r *MemoryPaymentRepository) GetStats(_ context.Context) (domain.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.Stats
	for _, p := range r.payments {
		stats.TotalPayments++
		stats.TotalAmount = stats.TotalAmount.Add(p.Amount)
		switch p.Processor {
		case domain.ProcessorDefault:
			stats.DefaultPayments++
		case domain.ProcessorFallback:
			stats.FallbackPayments++
		}
	}
	return stats, nil
}
