package emergency

/*
Файл manager.go реализует Activation Manager — единственного владельца
глобального состояния break-glass окна.

Инварианты:
- В любой момент времени активно не более одного окна. Проверка и установка
  состояния идут под одним эксклюзивным мьютексом; конкурирующая активация
  получает ErrAlreadyActive сразу, без очереди.
- Переходы только active -> {expired | revoked}; и таймер авто-истечения,
  и ручная деактивация проходят через одну функцию перехода под тем же
  мьютексом, поэтому побеждает ровно один.
- Ключ окна уничтожается (затирается) при любом выходе из active.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/keys"
)

// AutoExpirationReason — причина деактивации, с которой приходит таймер.
const AutoExpirationReason = "AUTO_EXPIRATION"

// Authorizer — Authorization Gate (вызывается только при активации).
type Authorizer interface {
	AuthorizeActivation(ctx context.Context, req domain.ActivationRequest) (*domain.AuthorizationProof, error)
}

// ActivationStore персистит активации (таблица коллаборатора).
type ActivationStore interface {
	CreateActivation(ctx context.Context, act *domain.Activation) error
	CloseActivation(ctx context.Context, id string, status domain.ActivationStatus, at time.Time, reason string) error
	// GetActiveActivation нужен для восстановления окна после рестарта
	GetActiveActivation(ctx context.Context) (*domain.Activation, error)
}

// Ledger — журнал аудита (fail-closed запись + rollup при закрытии окна).
type Ledger interface {
	Record(ctx context.Context, e audit.Event) (string, error)
	Rollup(ctx context.Context, activationID string, startAt time.Time) error
}

// AuthorityNotifier — уведомление надзорных органов.
type AuthorityNotifier interface {
	NotifyActivation(ctx context.Context, act *domain.Activation) error
	NotifyDeactivation(act *domain.Activation)
}

// StatusBroadcaster транслирует переходы состояния репликам и дашбордам
// (advisory, см. statesync.go).
type StatusBroadcaster interface {
	BroadcastStatus(ctx context.Context, act *domain.Activation)
	BroadcastClosed(ctx context.Context, act *domain.Activation)
}

type Manager struct {
	mu sync.Mutex

	current *domain.Activation
	key     *keys.DerivedKey
	timer   *time.Timer

	gate      Authorizer
	repo      ActivationStore
	ledger    Ledger
	notifier  AuthorityNotifier
	broadcast StatusBroadcaster
	fragments keys.Fragments
	metrics   *Metrics
	logger    *zap.Logger

	maxWindow time.Duration
	now       func() time.Time
}

func NewManager(
	gate Authorizer,
	repo ActivationStore,
	ledger Ledger,
	notifier AuthorityNotifier,
	broadcast StatusBroadcaster,
	fragments keys.Fragments,
	metrics *Metrics,
	logger *zap.Logger,
	maxWindow time.Duration,
) *Manager {
	if maxWindow <= 0 || maxWindow > domain.MaxActivationWindow {
		maxWindow = domain.MaxActivationWindow
	}
	return &Manager{
		gate:      gate,
		repo:      repo,
		ledger:    ledger,
		notifier:  notifier,
		broadcast: broadcast,
		fragments: fragments,
		metrics:   metrics,
		logger:    logger.Named("activation-manager"),
		maxWindow: maxWindow,
		now:       time.Now,
	}
}

// Activate открывает окно экстренного доступа. Мьютекс держится на всю
// последовательность check-then-set: это единственная операция подсистемы,
// которой разрешено блокировать остальных.
func (m *Manager) Activate(ctx context.Context, req domain.ActivationRequest) (string, error) {
	if req.Duration <= 0 {
		return "", fmt.Errorf("activation duration must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Инвариант одного окна. Без очереди: конкурент получает отказ сразу
	if m.current != nil && m.current.Status == domain.ActivationActive {
		m.metrics.ActivationsTotal.WithLabelValues("rejected").Inc()
		return "", domain.ErrAlreadyActive
	}

	// 2. Три фактора (Gate сам пишет аудит отказов)
	proof, err := m.gate.AuthorizeActivation(ctx, req)
	if err != nil {
		m.metrics.ActivationsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	// 3. Собираем активацию; запрошенная длительность обрезается потолком
	duration := req.Duration
	if duration > m.maxWindow {
		duration = m.maxWindow
	}

	nowTS := m.now()
	act := &domain.Activation{
		ID:             uuid.New().String(),
		ActivatedBy:    proof.OperatorID,
		Reason:         req.Reason,
		LegalReference: req.LegalReference,
		JudicialAuthNo: proof.JudicialAuthNo,
		StartAt:        nowTS,
		EndAt:          nowTS.Add(duration),
		Status:         domain.ActivationActive,
		SecondFactorOK: proof.SecondFactorOK,
		Metadata:       req.Metadata,
	}

	// 4. Персистентность (PersistenceError фатальна для активации)
	if err := m.repo.CreateActivation(ctx, act); err != nil {
		m.metrics.ActivationsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("activation not persisted: %w", err)
	}

	// 5. Выводим ключ окна
	key, err := keys.Derive(m.fragments, *proof, act.ID)
	if err != nil {
		m.rollbackActivation(ctx, act, "KEY_DERIVATION_FAILED")
		m.metrics.ActivationsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("key derivation failed: %w", err)
	}

	// 6. Fail-closed аудит: активация без записи в журнале не существует
	if _, err := m.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindEmergencyActivated,
		ActivationID: act.ID,
		Details: map[string]interface{}{
			"operator_id":            act.ActivatedBy,
			"reason":                 act.Reason,
			"legal_reference":        act.LegalReference,
			"judicial_authorization": act.JudicialAuthNo,
			"end_at":                 act.EndAt,
		},
	}); err != nil {
		key.Destroy()
		m.rollbackActivation(ctx, act, "AUDIT_WRITE_FAILED")
		m.metrics.ActivationsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	// 7. Фиксируем состояние и взводим отменяемый таймер авто-истечения
	m.current = act
	m.key = key
	m.timer = time.AfterFunc(duration, func() { m.autoExpire(act.ID) })

	// 8. Уведомление органов: отказ доставки не блокирует активацию
	if err := m.notifier.NotifyActivation(ctx, act); err != nil {
		m.logger.Error("authority notification failed", zap.Error(err))
	}
	m.broadcast.BroadcastStatus(ctx, act)

	m.metrics.ActivationsTotal.WithLabelValues("activated").Inc()
	m.metrics.WindowActive.Set(1)
	m.metrics.WindowRemaining.Set(duration.Seconds())

	m.logger.Warn("EMERGENCY MODE ACTIVATED",
		zap.String("activation_id", act.ID),
		zap.String("operator_id", act.ActivatedBy),
		zap.Time("end_at", act.EndAt))

	return act.ID, nil
}

// Deactivate закрывает окно. Идемпотентна: повторный вызов после закрытия —
// no-op. Причина AUTO_EXPIRATION переводит в expired, остальные — в revoked.
func (m *Manager) Deactivate(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(ctx, reason)
}

// autoExpire — callback таймера. Проверяет, что закрывает именно свое окно:
// отмененный таймер, успевший сработать, увидит чужой/пустой current и выйдет.
func (m *Manager) autoExpire(activationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != activationID {
		return // Окно уже закрыто вручную, таймер опоздал
	}
	m.transitionLocked(context.Background(), AutoExpirationReason)
}

// transitionLocked — единственная точка выхода из active. Вызывается только
// под мьютексом; и таймер, и ручная деактивация сходятся здесь.
func (m *Manager) transitionLocked(ctx context.Context, reason string) {
	if m.current == nil || m.current.Status != domain.ActivationActive {
		return // Идемпотентность: состояние уже терминальное
	}

	next := domain.ActivationRevoked
	if reason == AutoExpirationReason {
		next = domain.ActivationExpired
	}
	if err := m.current.CanTransitionTo(next); err != nil {
		m.logger.Error("refused activation transition", zap.Error(err))
		return
	}

	// 1. Гасим таймер (если закрываемся вручную до истечения)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	act := m.current
	nowTS := m.now()
	act.Status = next
	act.DeactivatedAt = &nowTS
	act.DeactivationReason = reason

	// 2. Персистентность закрытия. Отказ БД не оставляет окно открытым:
	// локальное состояние уже терминальное (fail-safe в сторону закрытия)
	if err := m.repo.CloseActivation(ctx, act.ID, next, nowTS, reason); err != nil {
		m.logger.Error("failed to persist activation close",
			zap.String("activation_id", act.ID),
			zap.Error(err))
	}

	// 3. Журнал + итоговая сводка окна
	if _, err := m.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindEmergencyDeactivated,
		ActivationID: act.ID,
		Details: map[string]interface{}{
			"reason": reason,
			"status": string(next),
		},
	}); err != nil {
		m.logger.Error("deactivation event not audited", zap.Error(err))
	}
	if err := m.ledger.Rollup(ctx, act.ID, act.StartAt); err != nil {
		m.logger.Error("audit rollup failed", zap.Error(err))
	}

	// 4. Уничтожаем ключ окна (затирание, не просто потеря ссылки)
	if m.key != nil {
		m.key.Destroy()
		m.key = nil
	}

	m.notifier.NotifyDeactivation(act)
	m.broadcast.BroadcastClosed(ctx, act)

	m.current = nil
	m.metrics.WindowActive.Set(0)
	m.metrics.WindowRemaining.Set(0)

	m.logger.Warn("emergency mode deactivated",
		zap.String("activation_id", act.ID),
		zap.String("reason", reason),
		zap.String("status", string(next)))
}

// Status — read-only снимок для внешних потребителей. Окно, чей срок вышел,
// а таймер еще не успел сработать, уже отражается как неактивное.
func (m *Manager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != domain.ActivationActive || m.current.ExpiredAt(m.now()) {
		return domain.Status{Active: false}
	}

	snapshot := *m.current
	remaining := snapshot.Remaining(m.now())
	m.metrics.WindowRemaining.Set(remaining.Seconds())

	return domain.Status{
		Active:     true,
		Activation: &snapshot,
		Remaining:  int64(remaining.Seconds()),
	}
}

// Snapshot отдает копию активного окна и его ключ для декодера/монитора.
// Ключ остается во владении менеджера; после закрытия окна все операции
// с ним вернут ErrKeyDestroyed.
func (m *Manager) Snapshot() (*domain.Activation, *keys.DerivedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != domain.ActivationActive || m.current.ExpiredAt(m.now()) {
		return nil, nil, domain.ErrNoActiveAuthorization
	}

	snapshot := *m.current
	return &snapshot, m.key, nil
}

// Resume восстанавливает окно после рестарта сервиса: если в БД есть
// незакрытая активация, чей срок не вышел, менеджер заново выводит ключ
// (вывод детерминирован) и взводит таймер на остаток. Просроченная при
// рестарте активация сразу закрывается как expired.
func (m *Manager) Resume(ctx context.Context) error {
	act, err := m.repo.GetActiveActivation(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active activation: %w", err)
	}
	if act == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	nowTS := m.now()
	proof := domain.AuthorizationProof{
		OperatorID:     act.ActivatedBy,
		JudicialAuthNo: act.JudicialAuthNo,
		SecondFactorOK: act.SecondFactorOK,
	}

	if act.ExpiredAt(nowTS) {
		m.current = act
		m.transitionLocked(ctx, AutoExpirationReason)
		return nil
	}

	key, err := keys.Derive(m.fragments, proof, act.ID)
	if err != nil {
		return fmt.Errorf("key re-derivation on resume failed: %w", err)
	}

	m.current = act
	m.key = key
	m.timer = time.AfterFunc(act.EndAt.Sub(nowTS), func() { m.autoExpire(act.ID) })
	m.metrics.WindowActive.Set(1)

	m.logger.Warn("resumed active emergency window after restart",
		zap.String("activation_id", act.ID),
		zap.Time("end_at", act.EndAt))
	return nil
}

// rollbackActivation закрывает только что созданную, но не вступившую в силу
// запись, чтобы в БД не остался висящий status=active.
func (m *Manager) rollbackActivation(ctx context.Context, act *domain.Activation, cause string) {
	if err := m.repo.CloseActivation(ctx, act.ID, domain.ActivationRevoked, m.now(), cause); err != nil {
		m.logger.Error("activation rollback failed",
			zap.String("activation_id", act.ID),
			zap.String("cause", cause),
			zap.Error(err))
	}
}
