package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/domain"
)

// PostgresPaymentRepository implementação PostgreSQL
type PostgresPaymentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresPaymentRepository(db *sql.DB, logger *zap.Logger) *PostgresPaymentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresPaymentRepository{db: db, logger: logger}
}

// OpenDatabase abre o pool de conexões e testa com ping
func OpenDatabase(ctx context.Context, databaseURL string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("erro ao conectar com banco: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("erro ao pingar banco: %w", err)
	}
	return db, nil
}

// SavePayment faz upsert pelo correlation_id
func (r *PostgresPaymentRepository) SavePayment(ctx context.Context, record domain.PaymentRecord) error {
	query := `
		INSERT INTO payments (correlation_id, amount, processor, requested_at, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			processor = EXCLUDED.processor,
			requested_at = EXCLUDED.requested_at,
			processed_at = EXCLUDED.processed_at`

	_, err := r.db.ExecContext(ctx, query,
		record.CorrelationID,
		record.Amount,
		record.Processor,
		record.RequestedAt.UTC(),
		record.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("erro ao salvar pagamento %s: %w", record.CorrelationID, err)
	}
	return nil
}

func (r *PostgresPaymentRepository) PaymentExists(ctx context.Context, correlationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE correlation_id = $1)`,
		correlationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("erro ao verificar pagamento %s: %w", correlationID, err)
	}
	return exists, nil
}

func (r *PostgresPaymentRepository) FindPayment(ctx context.Context, correlationID uuid.UUID) (*domain.PaymentRecord, error) {
	query := `
		SELECT correlation_id, amount, processor, requested_at, processed_at
		FROM payments
		WHERE correlation_id = $1`

	var record domain.PaymentRecord
	err := r.db.QueryRowContext(ctx, query, correlationID).Scan(
		&record.CorrelationID,
		&record.Amount,
		&record.Processor,
		&record.RequestedAt,
		&record.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar pagamento %s: %w", correlationID, err)
	}
	return &record, nil
}

// GetPaymentsSummary retorna estatísticas de pagamentos por processor em um período
func (r *PostgresPaymentRepository) GetPaymentsSummary(ctx context.Context, from, to *time.Time) (domain.PaymentsSummary, error) {
	var (
		conditions []string
		args       []any
	)
	if from != nil {
		args = append(args, from.UTC())
		conditions = append(conditions, fmt.Sprintf("processed_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, to.UTC())
		conditions = append(conditions, fmt.Sprintf("processed_at < $%d", len(args)))
	}

	query := `
		SELECT processor, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\t\tGROUP BY processor"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaymentsSummary{}, fmt.Errorf("erro ao buscar resumo de pagamentos: %w", err)
	}
	defer rows.Close()

	var summary domain.PaymentsSummary
	for rows.Next() {
		var (
			processor     string
			totalRequests int64
			totalAmount   decimal.Decimal
		)
		if err := rows.Scan(&processor, &totalRequests, &totalAmount); err != nil {
			return domain.PaymentsSummary{}, fmt.Errorf("erro ao escanear resumo: %w", err)
		}

		switch processor {
		case domain.ProcessorDefault:
			summary.Default = domain.ProcessorSummary{TotalRequests: totalRequests, TotalAmount: totalAmount}
		case domain.ProcessorFallback:
			summary.Fallback = domain.ProcessorSummary{TotalRequests: totalRequests, TotalAmount: totalAmount}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.PaymentsSummary{}, fmt.Errorf("erro ao iterar resultados: %w", err)
	}

	return summary, nil
}

// GetStats retorna os números gerais usados no diagnóstico
func (r *PostgresPaymentRepository) GetStats(ctx context.Context) (domain.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE processor = 'default'),
			COUNT(*) FILTER (WHERE processor = 'fallback'),
			COALESCE(SUM(amount), 0)
		FROM payments`

	var stats domain.Stats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalPayments,
		&stats.DefaultPayments,
		&stats.FallbackPayments,
		&stats.TotalAmount,
	)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("erro ao buscar estatísticas: %w", err)
	}
	return stats, nil
}
