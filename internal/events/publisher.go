package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rinha-payment-gateway/internal/domain"
)

const (
	TypePaymentProcessed = "payment.processed"
	TypePaymentFailed    = "payment.failed"
)

// Event é publicado após o desfecho de um pagamento
type Event struct {
	Type          string          `json:"type"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	Processor     string          `json:"processor,omitempty"`
	RequestedAt   time.Time       `json:"requestedAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func Processed(record domain.PaymentRecord) Event {
	processedAt := record.ProcessedAt
	return Event{
		Type:          TypePaymentProcessed,
		CorrelationID: record.CorrelationID,
		Amount:        record.Amount,
		Processor:     record.Processor,
		RequestedAt:   record.RequestedAt,
		ProcessedAt:   &processedAt,
	}
}

func Failed(req domain.PaymentRequest, requestedAt time.Time, reason string) Event {
	return Event{
		Type:          TypePaymentFailed,
		CorrelationID: req.CorrelationID,
		Amount:        req.Amount,
		RequestedAt:   requestedAt,
		Reason:        reason,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher descarta os eventos; usado quando não há brokers configurados
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
