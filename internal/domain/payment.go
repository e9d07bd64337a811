package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Nomes dos processors
const (
	ProcessorDefault  = "default"
	ProcessorFallback = "fallback"
	ProcessorNone     = "none"
)

// Motivos de falha reportados no PaymentResult
const (
	ReasonInvalidRequest   = "invalid payment request"
	ReasonAlreadyProcessed = "payment already processed"
	ReasonAllUnavailable   = "all payment processors unavailable"
	ReasonCancelled        = "cancelled"
)

var (
	ErrInvalidCorrelationID = errors.New("correlationId obrigatório")
	ErrInvalidAmount        = errors.New("amount deve ser maior que zero")
)

// PaymentRequest é o pedido recebido do cliente
type PaymentRequest struct {
	CorrelationID uuid.UUID       `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

// Validate checa as invariantes do pedido
func (r PaymentRequest) Validate() error {
	if r.CorrelationID == uuid.Nil {
		return ErrInvalidCorrelationID
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// PaymentProcessorRequest é o corpo enviado aos payment processors
type PaymentProcessorRequest struct {
	CorrelationID uuid.UUID       `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	RequestedAt   string          `json:"requestedAt"`
}

// PaymentRecord é o registro durável de um pagamento processado
type PaymentRecord struct {
	CorrelationID uuid.UUID       `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	Processor     string          `json:"processor"`
	RequestedAt   time.Time       `json:"requestedAt"`
	ProcessedAt   time.Time       `json:"processedAt"`
}

// PaymentResult é o resultado transitório do roteamento
type PaymentResult struct {
	Success       bool           `json:"success"`
	ProcessorUsed string         `json:"processorUsed"`
	Record        *PaymentRecord `json:"record,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

func Succeeded(record PaymentRecord) PaymentResult {
	return PaymentResult{Success: true, ProcessorUsed: record.Processor, Record: &record}
}

func Failed(reason string) PaymentResult {
	return PaymentResult{ProcessorUsed: ProcessorNone, ErrorMessage: reason}
}

// HealthStatus é a resposta de /payments/service-health
type HealthStatus struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

// ProcessorHealth é o último status conhecido de um processor
type ProcessorHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	CheckedAt time.Time    `json:"checkedAt"`
}
