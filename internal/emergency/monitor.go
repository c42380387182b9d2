package emergency

/*
Файл monitor.go реализует Audio Monitor — строго ограниченный по времени
сеанс аудиозахвата, привязанный к активному окну.

Гарантии:
- Запрошенная длительность клампится жестким потолком (60с) независимо
  от входа.
- Остановка таймерная, а не по воле вызывающего: сеанс завершится по
  дедлайну контекста, даже если явный Stop так и не пришел.
- Полезная нагрузка сохраняется только зашифрованной ключом окна; запись
  неизменяема после сохранения.
- Событие AUDIO_MONITORING_ACTIVATED пишется на старте (fail-closed);
  артефакт завершения — сама сохраненная сессия.
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

// CaptureSource — внешний медиашлюз, отдающий сырой аудиопоток субъекта.
// Обязан уважать дедлайн контекста: по нему и происходит авто-стоп.
type CaptureSource interface {
	Capture(ctx context.Context, subjectID string) ([]byte, error)
}

// AudioStore персистит завершенные сеансы.
type AudioStore interface {
	CreateRecordingSession(ctx context.Context, s *domain.AudioRecordingSession) error
}

type Monitor struct {
	window  WindowProvider
	source  CaptureSource
	store   AudioStore
	ledger  Ledger
	metrics *Metrics
	logger  *zap.Logger

	cap time.Duration // Жесткий потолок длительности

	mu     sync.Mutex
	active map[string]context.CancelFunc // recording_id -> ранняя остановка
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewMonitor(
	window WindowProvider,
	source CaptureSource,
	store AudioStore,
	ledger Ledger,
	metrics *Metrics,
	logger *zap.Logger,
	capDuration time.Duration,
) *Monitor {
	if capDuration <= 0 || capDuration > domain.MaxAudioCaptureWindow {
		capDuration = domain.MaxAudioCaptureWindow
	}
	return &Monitor{
		window:  window,
		source:  source,
		store:   store,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger.Named("audio-monitor"),
		cap:     capDuration,
		active:  make(map[string]context.CancelFunc),
		now:     time.Now,
	}
}

// Start открывает сеанс захвата. Возвращает дескриптор сразу; сам захват
// идет в фоне и гарантированно остановится не позже клампа.
func (m *Monitor) Start(ctx context.Context, subjectID, operatorID string, requestedSeconds int) (*domain.SessionHandle, error) {
	// 1. Требуется активное окно (тот же критерий, что у декодера)
	act, key, err := m.window.Snapshot()
	if err != nil {
		m.metrics.MonitorsTotal.WithLabelValues("denied").Inc()
		if _, recErr := m.ledger.Record(ctx, audit.Event{
			Kind: audit.KindMonitorWithoutMode,
			Details: map[string]interface{}{
				"subject_id":  subjectID,
				"operator_id": operatorID,
			},
		}); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrNoActiveAuthorization
	}

	// 2. Кламп длительности, вход не обсуждается
	duration := time.Duration(requestedSeconds) * time.Second
	if duration <= 0 || duration > m.cap {
		duration = m.cap
	}

	recordingID := fmt.Sprintf("AUDIO_%s", uuid.New().String())
	startedAt := m.now()

	// 3. Fail-closed аудит на старте: без записи в журнале захват не начинается
	if _, err := m.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindAudioActivated,
		ActivationID: act.ID,
		Details: map[string]interface{}{
			"recording_id":     recordingID,
			"subject_id":       subjectID,
			"operator_id":      operatorID,
			"duration_seconds": int(duration.Seconds()),
		},
	}); err != nil {
		m.metrics.MonitorsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// 4. Таймерная остановка: дедлайн контекста — закон для источника.
	// Cancel сохраняем для опционального раннего Stop
	captureCtx, cancel := context.WithTimeout(context.Background(), duration)

	m.mu.Lock()
	m.active[recordingID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(captureCtx, cancel, recordingID, subjectID, operatorID, act.ID, key, startedAt, duration)

	m.metrics.MonitorsTotal.WithLabelValues("started").Inc()
	m.logger.Warn("audio monitoring started",
		zap.String("recording_id", recordingID),
		zap.String("subject_id", subjectID),
		zap.Duration("duration", duration))

	return &domain.SessionHandle{
		RecordingID:     recordingID,
		DurationSeconds: int(duration.Seconds()),
		StartedAt:       startedAt,
	}, nil
}

// Stop досрочно завершает сеанс. Захваченное к этому моменту сохраняется
// обычным путем. Неизвестный id — no-op (сеанс уже завершился таймером).
func (m *Monitor) Stop(recordingID string) {
	m.mu.Lock()
	cancel, ok := m.active[recordingID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Drain дожидается завершения фоновых сеансов (graceful shutdown).
func (m *Monitor) Drain() {
	m.wg.Wait()
}

func (m *Monitor) run(
	ctx context.Context,
	cancel context.CancelFunc,
	recordingID, subjectID, operatorID, activationID string,
	key *keys.DerivedKey,
	startedAt time.Time,
	duration time.Duration,
) {
	defer m.wg.Done()
	defer cancel()
	defer func() {
		m.mu.Lock()
		delete(m.active, recordingID)
		m.mu.Unlock()
	}()

	// Источник обязан вернуться не позже дедлайна; истекший контекст
	// с частичной записью — штатное завершение, а не ошибка
	payload, err := m.source.Capture(ctx, subjectID)
	if err != nil && len(payload) == 0 {
		m.recordFailure(recordingID, activationID, fmt.Errorf("capture failed: %w", err))
		return
	}

	stoppedAt := m.now()
	elapsed := stoppedAt.Sub(startedAt)
	if elapsed > duration {
		elapsed = duration
	}

	// Шифруем под ключом окна. Закрывшееся во время захвата окно уничтожает
	// ключ — тогда запись не сохраняется вовсе (ключа для нее больше нет)
	encrypted, err := key.Seal(payload)
	if err != nil {
		m.recordFailure(recordingID, activationID, fmt.Errorf("payload encryption failed: %w", err))
		return
	}

	session := &domain.AudioRecordingSession{
		RecordingID:      recordingID,
		ActivationID:     activationID,
		TargetSubjectID:  subjectID,
		OperatorID:       operatorID,
		EncryptedPayload: encrypted,
		DurationSeconds:  int(elapsed.Seconds()),
		StartedAt:        startedAt,
		StoppedAt:        stoppedAt,
	}

	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()

	if err := m.store.CreateRecordingSession(persistCtx, session); err != nil {
		m.recordFailure(recordingID, activationID, fmt.Errorf("recording session not persisted: %w", err))
		return
	}

	m.logger.Info("audio monitoring session persisted",
		zap.String("recording_id", recordingID),
		zap.Int("duration_seconds", session.DurationSeconds))
}

func (m *Monitor) recordFailure(recordingID, activationID string, cause error) {
	m.metrics.MonitorsTotal.WithLabelValues("failed").Inc()
	m.logger.Error("audio monitoring session failed",
		zap.String("recording_id", recordingID),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindAudioFailed,
		ActivationID: activationID,
		Details: map[string]interface{}{
			"recording_id": recordingID,
			"error":        cause.Error(),
		},
	}); err != nil {
		m.logger.Error("audio failure not audited", zap.Error(err))
	}
}
