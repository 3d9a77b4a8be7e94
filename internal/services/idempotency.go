package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/redis"
)

const defaultIdempotencyTTL = time.Hour

// IdempotencyGuard резервирует ключи Idempotency-Key в Redis.
// Повторный запрос с тем же ключом в пределах TTL отклоняется.
type IdempotencyGuard struct {
	redis   idempotencyRedis
	log     *logger.Logger
	enabled bool
	ttl     time.Duration
	prefix  string
}

type idempotencyRedis interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// NewIdempotencyGuard создаёт guard. Без Redis или при выключенной настройке пропускает всё.
func NewIdempotencyGuard(redisClient *redis.Client, log *logger.Logger, cfg *config.IdempotencyConfig) *IdempotencyGuard {
	if redisClient == nil || cfg == nil || !cfg.Enabled {
		return &IdempotencyGuard{enabled: false}
	}

	ttl := defaultIdempotencyTTL
	if cfg.TTLMinutes > 0 {
		ttl = time.Duration(cfg.TTLMinutes) * time.Minute
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = redis.KeyPrefixIdempotency
	}

	return &IdempotencyGuard{
		redis:   redisClient,
		log:     log,
		enabled: true,
		ttl:     ttl,
		prefix:  prefix,
	}
}

// Reserve возвращает false, если ключ уже использован этим вызывающим.
func (g *IdempotencyGuard) Reserve(ctx context.Context, owner, key string) (bool, error) {
	if !g.enabled {
		return true, nil
	}

	redisKey := g.makeKey(owner, key)
	ok, err := g.redis.SetNX(ctx, redisKey, time.Now().Unix(), g.ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	return ok, nil
}

// Release освобождает ключ, чтобы неуспешный запрос можно было повторить.
func (g *IdempotencyGuard) Release(ctx context.Context, owner, key string) {
	if !g.enabled {
		return
	}

	redisKey := g.makeKey(owner, key)
	if err := g.redis.Delete(ctx, redisKey); err != nil {
		g.log.WithError(err).WithField("key", redisKey).Warn("failed to release idempotency key")
	}
}

// Enabled сообщает, включена ли проверка.
func (g *IdempotencyGuard) Enabled() bool {
	return g.enabled
}

func (g *IdempotencyGuard) makeKey(owner, key string) string {
	safeKey := strings.ReplaceAll(strings.TrimSpace(key), ":", "_")
	return fmt.Sprintf("%s:%s:%s", g.prefix, owner, safeKey)
}
