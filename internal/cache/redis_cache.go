package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/domain"
)

const (
	// Chaves do Redis
	keyProcessorStatusPrefix = "rinha:"
	keyHealthLock            = "rinha:health_lock"
	channelSummaryInvalidate = "rinha:summary_invalidate"

	// TTL do status dos processors
	statusTTL = 30 * time.Second
)

// RedisCache guarda o status dos processors e distribui invalidações do
// resumo entre as instâncias da API
type RedisCache struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

// NewRedisCache cria uma nova instância do cache Redis
func NewRedisCache(ctx context.Context, redisURL, instanceID string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("erro ao parsear Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("erro ao conectar com Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, instanceID, logger), nil
}

func NewRedisCacheFromClient(client *redis.Client, instanceID string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, instanceID: instanceID, logger: logger}
}

// SetProcessorStatus armazena o último health check de um processor
func (r *RedisCache) SetProcessorStatus(ctx context.Context, health domain.ProcessorHealth) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("erro ao serializar status do processor: %w", err)
	}

	if err := r.client.Set(ctx, processorStatusKey(health.Name), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("erro ao salvar status do processor no cache: %w", err)
	}
	return nil
}

// GetProcessorStatus retorna o status de um processor; ok=false em cache miss
func (r *RedisCache) GetProcessorStatus(ctx context.Context, processorName string) (domain.ProcessorHealth, bool, error) {
	data, err := r.client.Get(ctx, processorStatusKey(processorName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProcessorHealth{}, false, nil
	}
	if err != nil {
		return domain.ProcessorHealth{}, false, fmt.Errorf("erro ao buscar status do processor: %w", err)
	}

	var health domain.ProcessorHealth
	if err := json.Unmarshal(data, &health); err != nil {
		return domain.ProcessorHealth{}, false, fmt.Errorf("erro ao deserializar status do processor: %w", err)
	}
	return health, true, nil
}

// TryHealthLock garante que só uma instância consulte os processors por intervalo
func (r *RedisCache) TryHealthLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyHealthLock, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("erro ao adquirir lock de health check: %w", err)
	}
	return ok, nil
}

// PublishInvalidation avisa as outras instâncias que o resumo mudou
func (r *RedisCache) PublishInvalidation(ctx context.Context) error {
	if err := r.client.Publish(ctx, channelSummaryInvalidate, r.instanceID).Err(); err != nil {
		return fmt.Errorf("erro ao publicar invalidação: %w", err)
	}
	return nil
}

// SubscribeInvalidations chama onInvalidate para cada invalidação publicada por
// outra instância, até o contexto ser cancelado
func (r *RedisCache) SubscribeInvalidations(ctx context.Context, onInvalidate func()) error {
	sub := r.client.Subscribe(ctx, channelSummaryInvalidate)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("erro ao assinar invalidações: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == r.instanceID {
				continue
			}
			onInvalidate()
		}
	}
}

// Close fecha a conexão com o Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func processorStatusKey(processorName string) string {
	return fmt.Sprintf("%s%s_status", keyProcessorStatusPrefix, processorName)
}
