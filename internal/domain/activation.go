package domain

import (
	"errors"
	"time"
)

// Статусы State Machine окна экстренного доступа
type ActivationStatus string

const (
	ActivationActive  ActivationStatus = "active"  // Окно открыто, операции разрешены
	ActivationExpired ActivationStatus = "expired" // Авто-истечение по таймеру
	ActivationRevoked ActivationStatus = "revoked" // Ручной отзыв оператором
)

var (
	ErrAlreadyActive         = errors.New("emergency activation already in progress")
	ErrNoActiveAuthorization = errors.New("no active emergency authorization")
	ErrRequesterMismatch     = errors.New("requester is not the activating operator")
	ErrInvalidTransition     = errors.New("invalid activation status transition")
)

// MaxActivationWindow — жесткий законодательный потолок длительности окна.
// Запрошенная длительность всегда обрезается до этого значения.
const MaxActivationWindow = 72 * time.Hour

// Activation — единственная запись «вскрытого стекла» (break-glass).
// Создается только после успешного прохождения Authorization Gate,
// мутируется только менеджером активаций, никогда не удаляется.
type Activation struct {
	ID             string           `json:"id"`
	ActivatedBy    string           `json:"activated_by"`    // Оператор, открывший окно
	Reason         string           `json:"reason"`          // Основание (свободный текст)
	LegalReference string           `json:"legal_reference"` // Номер декрета/решения
	JudicialAuthNo string           `json:"judicial_authorization"`
	StartAt        time.Time        `json:"start_at"`
	EndAt          time.Time        `json:"end_at"` // StartAt + min(запрошенное, 72h)
	Status         ActivationStatus `json:"status"`

	// Флаги пройденных факторов (фиксируются при активации)
	SecondFactorOK bool `json:"second_factor_ok"`
	BiometricOK    bool `json:"biometric_ok"`

	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`

	// Метаданные источника запроса (IP, User-Agent), как требует регулятор
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата:
// active -> {expired | revoked}, терминальные состояния неизменны.
func (a *Activation) CanTransitionTo(next ActivationStatus) error {
	if a.Status != ActivationActive {
		return ErrInvalidTransition
	}
	if next != ActivationExpired && next != ActivationRevoked {
		return ErrInvalidTransition
	}
	return nil
}

// ExpiredAt сообщает, истекло ли окно к моменту now (даже если таймер еще не сработал).
func (a *Activation) ExpiredAt(now time.Time) bool {
	return !now.Before(a.EndAt)
}

// Remaining возвращает остаток окна (не меньше нуля) для отображения в статусе.
func (a *Activation) Remaining(now time.Time) time.Duration {
	if a.Status != ActivationActive {
		return 0
	}
	d := a.EndAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ActivationRequest — входные параметры операции activate.
// Секреты (пароль, код 2FA) живут только на время проверки и не попадают в Activation.
type ActivationRequest struct {
	OperatorID       string        `json:"operator_id"`
	OperatorSecret   string        `json:"-"` // Никогда не сериализуем
	SecondFactorCode string        `json:"-"`
	LegalReference   string        `json:"legal_reference"`
	JudicialAuthNo   string        `json:"judicial_authorization"`
	Reason           string        `json:"reason"`
	Duration         time.Duration `json:"duration"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Status — снимок состояния для внешних потребителей (UI, дашборды).
// Наружу не отдаем внутренние объекты менеджера, только плоскую структуру.
type Status struct {
	Active     bool        `json:"active"`
	Activation *Activation `json:"activation,omitempty"`
	Remaining  int64       `json:"remaining_seconds,omitempty"`
}
