package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/breaker"
	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/events"
	"rinha-payment-gateway/internal/payment"
)

// Sender envia um pagamento a um processor
type Sender interface {
	Send(ctx context.Context, processor string, correlationID uuid.UUID, amount decimal.Decimal, requestedAt time.Time) payment.Outcome
}

// PaymentStore é o que o roteamento precisa do repositório
type PaymentStore interface {
	SavePayment(ctx context.Context, record domain.PaymentRecord) error
	PaymentExists(ctx context.Context, correlationID uuid.UUID) (bool, error)
}

// processors em ordem de preferência: o default tem a menor taxa
var processorOrder = []string{domain.ProcessorDefault, domain.ProcessorFallback}

// PaymentUseCase roteia cada pagamento entre default e fallback
type PaymentUseCase struct {
	sender    Sender
	store     PaymentStore
	breakers  *breaker.Registry
	publisher events.Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

func NewPaymentUseCase(
	sender Sender,
	store PaymentStore,
	breakers *breaker.Registry,
	publisher events.Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *PaymentUseCase {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentUseCase{
		sender:    sender,
		store:     store,
		breakers:  breakers,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// attempt é o desfecho da tentativa em um processor
type attempt int

const (
	attemptSkipped attempt = iota
	attemptFailed
	attemptSucceeded
	// o processor cobrou mas o registro não foi salvo, ou o envio foi
	// cancelado; não tenta o outro
	attemptAborted
)

// ProcessPayment executa o fluxo: validação, idempotência, default, fallback
func (uc *PaymentUseCase) ProcessPayment(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult {
	if err := req.Validate(); err != nil {
		uc.logger.Debug("pagamento inválido", zap.Stringer("correlationId", req.CorrelationID), zap.Error(err))
		return domain.Failed(domain.ReasonInvalidRequest)
	}

	exists, err := uc.store.PaymentExists(ctx, req.CorrelationID)
	if err != nil {
		uc.logger.Error("erro ao verificar idempotência", zap.Stringer("correlationId", req.CorrelationID), zap.Error(err))
		return domain.Failed(internalError(err))
	}
	if exists {
		uc.logger.Info("pagamento já processado", zap.Stringer("correlationId", req.CorrelationID))
		return domain.Failed(domain.ReasonAlreadyProcessed)
	}

	for _, processor := range processorOrder {
		result, outcome := uc.tryProcessor(ctx, processor, req)
		if outcome == attemptSucceeded || outcome == attemptAborted {
			return result
		}
		if processor == domain.ProcessorDefault {
			uc.logger.Debug("default indisponível, tentando fallback", zap.Stringer("correlationId", req.CorrelationID))
		}
	}

	uc.logger.Warn("todos os processors falharam", zap.Stringer("correlationId", req.CorrelationID))
	uc.publish(ctx, events.Failed(req, uc.clock.Now(), domain.ReasonAllUnavailable))
	return domain.Failed(domain.ReasonAllUnavailable)
}

// tryProcessor tenta um processor; o PaymentResult só é usado em attemptSucceeded e attemptAborted
func (uc *PaymentUseCase) tryProcessor(ctx context.Context, processor string, req domain.PaymentRequest) (domain.PaymentResult, attempt) {
	cb := uc.breakers.Get(processor)
	if !cb.CanExecute() {
		uc.logger.Debug("circuit breaker aberto", zap.String("processor", processor))
		return domain.PaymentResult{}, attemptSkipped
	}

	requestedAt := uc.clock.Now().Truncate(time.Millisecond)
	outcome := uc.sender.Send(ctx, processor, req.CorrelationID, req.Amount, requestedAt)

	switch {
	case outcome == payment.Success:
		cb.RecordSuccess()
	case outcome == payment.Cancelled:
		// o worker foi cancelado; o processor não falhou e o fallback não deve ser tentado
		uc.logger.Debug("envio cancelado",
			zap.String("processor", processor),
			zap.Stringer("correlationId", req.CorrelationID))
		return domain.Failed(domain.ReasonCancelled), attemptAborted
	case outcome.CountsAsFailure():
		cb.RecordFailure()
		return domain.PaymentResult{}, attemptFailed
	default:
		uc.logger.Warn("processor recusou o pagamento",
			zap.String("processor", processor),
			zap.Stringer("correlationId", req.CorrelationID),
			zap.Stringer("outcome", outcome))
		return domain.PaymentResult{}, attemptFailed
	}

	record := domain.PaymentRecord{
		CorrelationID: req.CorrelationID,
		Amount:        req.Amount,
		Processor:     processor,
		RequestedAt:   requestedAt,
		ProcessedAt:   uc.clock.Now(),
	}
	if err := uc.store.SavePayment(ctx, record); err != nil {
		uc.logger.Error("erro ao salvar pagamento",
			zap.String("processor", processor),
			zap.Stringer("correlationId", req.CorrelationID),
			zap.Error(err))
		return domain.Failed(internalError(err)), attemptAborted
	}

	uc.logger.Debug("pagamento processado",
		zap.String("processor", processor),
		zap.Stringer("correlationId", req.CorrelationID))
	uc.publish(ctx, events.Processed(record))

	return domain.Succeeded(record), attemptSucceeded
}

func (uc *PaymentUseCase) publish(ctx context.Context, event events.Event) {
	if err := uc.publisher.Publish(ctx, event); err != nil {
		uc.logger.Warn("falha ao publicar evento",
			zap.String("type", event.Type),
			zap.Stringer("correlationId", event.CorrelationID),
			zap.Error(err))
	}
}

func internalError(err error) string {
	return fmt.Sprintf("internal error: %v", err)
}
