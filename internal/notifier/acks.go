package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/infra"
)

// StartAckListener — «живучая» подписка на подтверждения органов.
// Формат сообщения: "activation_id:authority". Подтверждение дописывается
// в NotificationRecord по мере поступления; цикл переживает обрывы Redis.
func (n *Notifier) StartAckListener(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanAuthorityAcks)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			n.logger.Error("failed to subscribe to ack channel", zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				n.processAck(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func (n *Notifier) processAck(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		n.logger.Warn("invalid ack format", zap.String("payload", payload))
		return
	}

	activationID, authority := parts[0], parts[1]
	if err := n.store.Acknowledge(ctx, activationID, authority, time.Now().UTC()); err != nil {
		n.logger.Error("failed to persist authority ack",
			zap.String("activation_id", activationID),
			zap.String("authority", authority),
			zap.Error(err))
		return
	}

	n.logger.Info("authority acknowledged notification",
		zap.String("activation_id", activationID),
		zap.String("authority", authority))
}
