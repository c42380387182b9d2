package audit

import "time"

// Виды событий аудита. Закрытый перечень: новые виды добавляются здесь,
// произвольные строки в журнал не попадают.
type EventKind string

const (
	KindEmergencyActivated   EventKind = "EMERGENCY_MODE_ACTIVATED"
	KindEmergencyDeactivated EventKind = "EMERGENCY_MODE_DEACTIVATED"
	KindUserDataDecoded      EventKind = "USER_DATA_DECODED"
	KindAudioActivated       EventKind = "AUDIO_MONITORING_ACTIVATED"

	// Отказы на входе (Gate). Конкретная причина (роль / 2FA / судебное
	// разрешение) уходит в Details["cause"], вид события один.
	KindUnauthorizedActivation EventKind = "UNAUTHORIZED_ACTIVATION_ATTEMPT"

	// Отказы в рантайме
	KindUnauthorizedDecode EventKind = "UNAUTHORIZED_DECODE_ATTEMPT"
	KindDecodeWithoutMode  EventKind = "DECODE_ATTEMPT_WITHOUT_EMERGENCY"
	KindMonitorWithoutMode EventKind = "AUDIO_MONITORING_WITHOUT_EMERGENCY"
	KindDecodeFailed       EventKind = "DECODE_ERROR"
	KindAudioFailed        EventKind = "AUDIO_MONITORING_ERROR"
)

// Escalates сообщает, требует ли событие немедленной синхронной эскалации
// надзорным органам (до возврата из Record).
func (k EventKind) Escalates() bool {
	return k == KindUnauthorizedActivation || k == KindUnauthorizedDecode
}

type Event struct {
	ID           string                 `json:"id"`      // UUID события
	Kind         EventKind              `json:"kind"`    // Что произошло
	Details      map[string]interface{} `json:"details"` // Структурированный контекст (без секретов)
	ActivationID string                 `json:"activation_id,omitempty"`

	// Метаданные источника
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Цепочка целостности: blake3(prev_hash || canonical_event).
	// Подмена или выпадение записи рвет цепочку при верификации.
	PrevHash  string `json:"prev_hash"`
	ChainHash string `json:"chain_hash"`
}

// Report — итоговая сводка по окну активации, формируется при деактивации
// из событий, накопленных за время окна.
type Report struct {
	ID           string    `json:"id"`
	ActivationID string    `json:"activation_id"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	TotalEvents  int       `json:"total_events"`
	Events       []Event   `json:"events"`
	FinalHash    string    `json:"final_hash"` // Хвост цепочки на момент закрытия окна
	GeneratedAt  time.Time `json:"generated_at"`
}
