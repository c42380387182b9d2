package emergency

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/infra"
)

// RedisBroadcaster зеркалит состояние окна в Redis: ключ с JSON-снимком для
// read-only реплик и сигнальный канал для дашбордов. Зеркало advisory:
// источник правды — менеджер + Postgres, поэтому любые отказы Redis здесь
// только логируются.
type RedisBroadcaster struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, logger: logger.Named("statesync")}
}

func (b *RedisBroadcaster) BroadcastStatus(ctx context.Context, act *domain.Activation) {
	snapshot, _ := json.Marshal(act)

	// TTL по остатку окна: даже если сигнал закрытия потеряется,
	// зеркало само исчезнет к моменту истечения
	ttl := act.EndAt.Sub(act.StartAt)
	if err := b.rdb.Set(ctx, infra.RedisKeyActiveWindow, snapshot, ttl).Err(); err != nil {
		b.logger.Warn("status mirror write failed", zap.Error(err))
	}

	b.publish(ctx, fmt.Sprintf("%s:%s", act.ID, domain.ActivationActive))
}

func (b *RedisBroadcaster) BroadcastClosed(ctx context.Context, act *domain.Activation) {
	if err := b.rdb.Del(ctx, infra.RedisKeyActiveWindow).Err(); err != nil {
		b.logger.Warn("status mirror delete failed", zap.Error(err))
	}
	b.publish(ctx, fmt.Sprintf("%s:%s", act.ID, act.Status))
}

func (b *RedisBroadcaster) publish(ctx context.Context, payload string) {
	if err := b.rdb.Publish(ctx, infra.RedisChanStatus, payload).Err(); err != nil {
		b.logger.Warn("status signal delivery failed", zap.Error(err))
	}
}

// NopBroadcaster — для конфигураций без Redis (dev-режим, тесты).
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastStatus(context.Context, *domain.Activation) {}
func (NopBroadcaster) BroadcastClosed(context.Context, *domain.Activation) {}
