package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"rinha-payment-gateway/internal/domain"
)

// ErrNotFound indica que não existe pagamento com o correlationId
var ErrNotFound = errors.New("pagamento não encontrado")

// PaymentRepository interface para operações de pagamento
type PaymentRepository interface {
	// SavePayment grava o registro; idempotente por correlationId
	SavePayment(ctx context.Context, record domain.PaymentRecord) error
	PaymentExists(ctx context.Context, correlationID uuid.UUID) (bool, error)
	// GetPaymentsSummary agrega por processor no intervalo [from, to); nil = sem limite
	GetPaymentsSummary(ctx context.Context, from, to *time.Time) (domain.PaymentsSummary, error)
	GetStats(ctx context.Context) (domain.Stats, error)
	FindPayment(ctx context.Context, correlationID uuid.UUID) (*domain.PaymentRecord, error)
}
