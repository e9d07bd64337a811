package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/domain"
)

// Outcome é o resultado de uma chamada a um payment processor
type Outcome int

const (
	Success Outcome = iota
	ServerError
	ClientError
	TimedOut
	ConnectionError
	// Cancelled: quem chamou desistiu, não diz nada sobre o processor
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case TimedOut:
		return "timeout"
	case ConnectionError:
		return "connection_error"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CountsAsFailure indica se o circuit breaker deve registrar falha.
// Erros 4xx não indicam processor doente.
func (o Outcome) CountsAsFailure() bool {
	return o == ServerError || o == TimedOut || o == ConnectionError
}

var (
	ErrRateLimited      = errors.New("health check limitado pelo processor (429)")
	ErrUnknownProcessor = errors.New("processor desconhecido")
)

// ProcessorConfig descreve um processor remoto
type ProcessorConfig struct {
	URL     string
	Timeout time.Duration
}

type Config struct {
	Processors    map[string]ProcessorConfig
	HealthTimeout time.Duration
	Token         string
}

// Client envia pagamentos aos processors com timeout próprio de cada um
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *zap.Logger
}

// NewTransport cria o transporte compartilhado com pool de conexões
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

func NewClient(config Config, transport http.RoundTripper, logger *zap.Logger) *Client {
	if transport == nil {
		transport = NewTransport()
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		// os timeouts são aplicados por requisição via contexto
		httpClient: &http.Client{Transport: transport},
		config:     config,
		logger:     logger,
	}
}

// Send envia um pagamento ao processor e classifica o resultado
func (c *Client) Send(
	ctx context.Context,
	processor string,
	correlationID uuid.UUID,
	amount decimal.Decimal,
	requestedAt time.Time,
) Outcome {
	pc, ok := c.config.Processors[processor]
	if !ok {
		c.logger.Error("processor desconhecido", zap.String("processor", processor))
		return ConnectionError
	}

	body, err := json.Marshal(domain.PaymentProcessorRequest{
		CorrelationID: correlationID,
		Amount:        amount,
		RequestedAt:   requestedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		c.logger.Error("erro ao serializar request", zap.Error(err))
		return ClientError
	}

	reqCtx := ctx
	if pc.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, pc.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, pc.URL+"/payments", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("erro ao criar request", zap.String("processor", processor), zap.Error(err))
		return ConnectionError
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		httpReq.Header.Set("X-Rinha-Token", c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome := classifyError(ctx, err)
		c.logger.Debug("falha na requisição ao processor",
			zap.String("processor", processor),
			zap.Stringer("correlationId", correlationID),
			zap.Stringer("outcome", outcome),
			zap.Error(err))
		return outcome
	}
	defer resp.Body.Close()
	// drena o corpo para reaproveitar a conexão
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success
	case resp.StatusCode >= 500:
		return ServerError
	default:
		c.logger.Debug("processor recusou o pagamento",
			zap.String("processor", processor),
			zap.Stringer("correlationId", correlationID),
			zap.Int("status", resp.StatusCode))
		return ClientError
	}
}

func classifyError(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}
	return ConnectionError
}

// Health consulta /payments/service-health do processor
func (c *Client) Health(ctx context.Context, processor string) (domain.HealthStatus, error) {
	pc, ok := c.config.Processors[processor]
	if !ok {
		return domain.HealthStatus{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, processor)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pc.URL+"/payments/service-health", nil)
	if err != nil {
		return domain.HealthStatus{}, fmt.Errorf("erro ao criar health check: %w", err)
	}
	if c.config.Token != "" {
		httpReq.Header.Set("X-Rinha-Token", c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.HealthStatus{}, fmt.Errorf("health check falhou para %s: %w", processor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.HealthStatus{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return domain.HealthStatus{}, fmt.Errorf("health check de %s retornou status %d", processor, resp.StatusCode)
	}

	var status domain.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.HealthStatus{}, fmt.Errorf("erro ao deserializar health check: %w", err)
	}
	return status, nil
}

// Processors lista os processors configurados
func (c *Client) Processors() []string {
	out := make([]string, 0, len(c.config.Processors))
	for _, name := range []string{domain.ProcessorDefault, domain.ProcessorFallback} {
		if _, ok := c.config.Processors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
