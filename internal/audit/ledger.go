package audit

/*
Файл ledger.go реализует Audit Ledger — append-only журнал привилегированных действий.

Ключевые свойства:
- Fail-closed: запись в журнал синхронная. Если INSERT не прошел — Record возвращает
  ошибку, и вызывающая сторона обязана считать само привилегированное действие
  несостоявшимся. Инвариант «каждое действие залогировано» важнее доступности.
- Tamper-evidence: каждое событие несет ChainHash = blake3(prev_hash || canonical_json).
  Пропуск, подмена или переупорядочивание записей рвет цепочку при верификации.
- Escalation: для видов UNAUTHORIZED_* эскалация вызывается синхронно после успешного
  INSERT и до возврата из Record — краш сразу после записи не потеряет тревогу.
- Rollup: события текущего окна копятся в памяти и при деактивации сбрасываются
  одной сводкой (Report) в отдельную таблицу.
*/

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически пишутся события и сводки
type StorageInterface interface {
	WriteEvent(ctx context.Context, e Event) error
	WriteReport(ctx context.Context, r Report) error
	// LastChainHash возвращает хвост цепочки после рестарта ("" для пустого журнала)
	LastChainHash(ctx context.Context) (string, error)
}

// Escalator — синхронный канал тревоги для критичных событий.
// Реализуется Authority Notifier.
type Escalator interface {
	Escalate(ctx context.Context, e Event) error
}

type Ledger struct {
	mu       sync.Mutex
	repo     StorageInterface
	escalate Escalator
	logger   *zap.Logger

	lastHash string
	buffer   []Event // События текущего окна для rollup-сводки

	// Счетчики для метрик; журнал не знает о prometheus напрямую
	onEvent      func(kind EventKind)
	onEscalation func()
}

func NewLedger(repo StorageInterface, esc Escalator, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		escalate: esc,
		logger:   logger.Named("ledger"),
		buffer:   make([]Event, 0, 64),
	}
}

// SetObserver подключает счетчики записанных событий и отправленных эскалаций.
// Вызывается при сборке сервиса, до первого Record.
func (l *Ledger) SetObserver(onEvent func(EventKind), onEscalation func()) {
	l.onEvent = onEvent
	l.onEscalation = onEscalation
}

// Init восстанавливает хвост hash-цепочки из хранилища при старте сервиса.
func (l *Ledger) Init(ctx context.Context) error {
	tail, err := l.repo.LastChainHash(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to restore chain tail: %w", err)
	}
	l.mu.Lock()
	l.lastHash = tail
	l.mu.Unlock()
	return nil
}

// Record добавляет ровно одну запись в журнал. Мьютекс держится на все время
// INSERT: цепочка хэшей требует строгого порядка записей, а поток событий
// этой подсистемы заведомо низкочастотный.
func (l *Ledger) Record(ctx context.Context, e Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	e.PrevHash = l.lastHash
	e.ChainHash = chainHash(l.lastHash, e)

	if err := l.repo.WriteEvent(ctx, e); err != nil {
		// Fail-closed: цепочку не продвигаем, буфер не трогаем
		l.logger.Error("audit write failed, action must be rejected",
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
		return "", fmt.Errorf("audit persistence failed: %w", err)
	}

	l.lastHash = e.ChainHash
	l.buffer = append(l.buffer, e)
	if l.onEvent != nil {
		l.onEvent(e.Kind)
	}

	if e.Kind.Escalates() {
		// Синхронная эскалация до возврата: тревога не может потеряться
		// из-за краша сразу после записи
		if err := l.escalate.Escalate(ctx, e); err != nil {
			l.logger.Error("escalation delivery failed",
				zap.String("event_id", e.ID),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
			return e.ID, fmt.Errorf("escalation failed: %w", err)
		}
		if l.onEscalation != nil {
			l.onEscalation()
		}
	}

	return e.ID, nil
}

// Rollup формирует итоговую сводку по закрытому окну и очищает буфер.
// Вызывается менеджером активаций при деактивации (ручной или авто).
func (l *Ledger) Rollup(ctx context.Context, activationID string, startAt time.Time) error {
	l.mu.Lock()
	events := l.buffer
	l.buffer = make([]Event, 0, 64)
	tail := l.lastHash
	l.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	report := Report{
		ID:           uuid.New().String(),
		ActivationID: activationID,
		StartAt:      startAt,
		EndAt:        time.Now().UTC(),
		TotalEvents:  len(events),
		Events:       events,
		FinalHash:    tail,
		GeneratedAt:  time.Now().UTC(),
	}

	if err := l.repo.WriteReport(ctx, report); err != nil {
		// Сводка вторична: сами события уже в журнале, поэтому не fail-closed
		l.logger.Error("audit report rollup failed",
			zap.String("activation_id", activationID),
			zap.Error(err))
		return fmt.Errorf("audit report rollup failed: %w", err)
	}

	l.logger.Info("audit report generated",
		zap.String("activation_id", activationID),
		zap.Int("events", len(events)))
	return nil
}

// chainHash считает blake3(prev_hash || canonical_json(event без ChainHash)).
func chainHash(prev string, e Event) string {
	e.ChainHash = "" // Хэш не включает сам себя
	canonical, _ := json.Marshal(e)

	h := blake3.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain проверяет непрерывность цепочки на отрезке событий.
// Используется офлайн-проверками и тестами целостности.
func VerifyChain(events []Event) error {
	prev := ""
	if len(events) > 0 {
		prev = events[0].PrevHash
	}
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("chain broken at %d (event %s): prev_hash mismatch", i, e.ID)
		}
		if chainHash(prev, e) != e.ChainHash {
			return fmt.Errorf("chain broken at %d (event %s): hash mismatch", i, e.ID)
		}
		prev = e.ChainHash
	}
	return nil
}
