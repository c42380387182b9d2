package domain

import "time"

// MaxAudioCaptureWindow — законодательный потолок длительности аудиозаписи.
// Запрошенная длительность клампится независимо от входа.
const MaxAudioCaptureWindow = 60 * time.Second

// AudioRecordingSession — артефакт завершенного сеанса прослушивания.
// Полезная нагрузка хранится только в зашифрованном виде (ключ окна активации).
// Запись неизменяема после сохранения.
type AudioRecordingSession struct {
	RecordingID      string    `json:"recording_id"`
	ActivationID     string    `json:"activation_id"`
	TargetSubjectID  string    `json:"target_subject_id"`
	OperatorID       string    `json:"operator_id"`
	EncryptedPayload []byte    `json:"-"` // AES-GCM, наружу не отдаем
	DurationSeconds  int       `json:"duration_seconds"`
	StartedAt        time.Time `json:"started_at"`
	StoppedAt        time.Time `json:"stopped_at"`
}

// SessionHandle — дескриптор запущенного сеанса для внешних потребителей.
// Остановка гарантируется таймером, явный Stop опционален.
type SessionHandle struct {
	RecordingID     string    `json:"recording_id"`
	DurationSeconds int       `json:"duration_seconds"` // Уже после клампа
	StartedAt       time.Time `json:"started_at"`
}
