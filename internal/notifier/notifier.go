package notifier

/*
Файл notifier.go реализует Authority Notifier — доставку фактов активации
и эскалаций фиксированному списку надзорных органов.

Два режима доставки:
- Notify (активация/деактивация): асинхронно, с ретраями и бэкоффом.
  Доставка никогда не блокирует запись Activation или события аудита.
- Escalate (UNAUTHORIZED_*): синхронно, вызывается журналом до возврата
  из Record — тревога не может потеряться из-за краша после записи.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// Transport доставляет полезную нагрузку конкретному органу.
// Реализация по умолчанию — Redis Pub/Sub (см. transport.go).
type Transport interface {
	Send(ctx context.Context, authority string, payload []byte) error
}

// NotificationStore персистит NotificationRecord и поздние подтверждения.
type NotificationStore interface {
	CreateNotification(ctx context.Context, rec domain.NotificationRecord) error
	Acknowledge(ctx context.Context, activationID, authority string, at time.Time) error
}

type Notifier struct {
	authorities []string // Фиксированный список из конфигурации
	transport   Transport
	store       NotificationStore
	logger      *zap.Logger

	retryDelay time.Duration // База экспоненциального бэкоффа
	wg         sync.WaitGroup
}

func NewNotifier(authorities []string, transport Transport, store NotificationStore, logger *zap.Logger) *Notifier {
	return &Notifier{
		authorities: authorities,
		transport:   transport,
		store:       store,
		logger:      logger.Named("notifier"),
		retryDelay:  200 * time.Millisecond,
	}
}

// NotifyActivation фиксирует NotificationRecord (ровно один на активацию)
// и рассылает сводку всем органам в фоне. Ошибка персистентности записи
// возвращается вызывающему, сама доставка caller'а не блокирует.
func (n *Notifier) NotifyActivation(ctx context.Context, act *domain.Activation) error {
	payload := map[string]any{
		"event":                  "EMERGENCY_ACTIVATION",
		"activation_id":          act.ID,
		"activated_by":           act.ActivatedBy,
		"legal_reference":        act.LegalReference,
		"judicial_authorization": act.JudicialAuthNo,
		"start_at":               act.StartAt,
		"end_at":                 act.EndAt,
	}

	rec := domain.NotificationRecord{
		ID:                  uuid.New().String(),
		ActivationID:        act.ID,
		NotifiedAuthorities: n.authorities,
		Payload:             payload,
		SentAt:              time.Now().UTC(),
	}
	if err := n.store.CreateNotification(ctx, rec); err != nil {
		return fmt.Errorf("notification record not persisted: %w", err)
	}

	body, _ := json.Marshal(payload)
	n.dispatchAsync(act.ID, body)
	return nil
}

// NotifyDeactivation рассылает факт закрытия окна. Отдельный NotificationRecord
// не создается: запись принадлежит активации и уже существует.
func (n *Notifier) NotifyDeactivation(act *domain.Activation) {
	body, _ := json.Marshal(map[string]any{
		"event":         "EMERGENCY_DEACTIVATION",
		"activation_id": act.ID,
		"status":        act.Status,
		"reason":        act.DeactivationReason,
	})
	n.dispatchAsync(act.ID, body)
}

// Escalate — синхронная тревога. Ретраи короткие: вызов стоит на критическом
// пути Record, но и молча проглотить недоставку нельзя.
func (n *Notifier) Escalate(ctx context.Context, e audit.Event) error {
	body, _ := json.Marshal(map[string]any{
		"event":         "SECURITY_ESCALATION",
		"kind":          e.Kind,
		"audit_id":      e.ID,
		"activation_id": e.ActivationID,
		"details":       e.Details,
		"timestamp":     e.Timestamp,
	})

	var firstErr error
	for _, authority := range n.authorities {
		if err := n.send(ctx, authority, body, 3); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("escalation to %s failed: %w", authority, err)
		}
	}
	return firstErr
}

// dispatchAsync доставляет payload каждому органу в отдельной горутине
// с экспоненциальным бэкоффом. Отказ по одному органу не мешает остальным.
func (n *Notifier) dispatchAsync(activationID string, body []byte) {
	for _, authority := range n.authorities {
		n.wg.Add(1)
		go func(authority string) {
			defer n.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := n.send(ctx, authority, body, 8); err != nil {
				n.logger.Error("authority notification undeliverable",
					zap.String("authority", authority),
					zap.String("activation_id", activationID),
					zap.Error(err))
			}
		}(authority)
	}
}

func (n *Notifier) send(ctx context.Context, authority string, body []byte, attempts uint) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(n.retryDelay),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(func() error {
		return n.transport.Send(ctx, authority, body)
	})
}

// Drain дожидается фоновых доставок (graceful shutdown).
func (n *Notifier) Drain() {
	n.wg.Wait()
}
