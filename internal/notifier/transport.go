package notifier

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ndjobi-platform/emergency-access/internal/infra"
)

// RedisTransport публикует уведомления в канал органа. Шлюзы надзорных
// органов подписаны на свои каналы и подтверждают получение в канал acks
// (см. acks.go).
type RedisTransport struct {
	rdb *redis.Client
}

func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

func (t *RedisTransport) Send(ctx context.Context, authority string, payload []byte) error {
	channel := infra.AuthorityChannel(authority)

	// Publish с нулем подписчиков — не ошибка: орган мог быть временно
	// офлайн, его шлюз дочитает состояние из NotificationRecord
	if err := t.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", channel, err)
	}
	return nil
}
