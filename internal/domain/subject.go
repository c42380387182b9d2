package domain

import "time"

// SubjectProfile — анонимный профиль заявителя, как он хранится у коллабораторов.
// Телефон лежит в виде шифртекста: раскрывается только под ключом активного окна.
type SubjectProfile struct {
	SubjectID      string     `json:"subject_id"`
	Pseudonym      string     `json:"pseudonym"`
	RealName       string     `json:"real_name,omitempty"`
	PhoneEncrypted []byte     `json:"-"` // AES-GCM шифртекст, ключ — DerivedKey
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// DeviceSession — последняя известная сессия устройства субъекта.
type DeviceSession struct {
	DeviceID  string    `json:"device_id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeviceInfo — разобранные атрибуты устройства (из User-Agent сессии).
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
	OS       string `json:"os"`
	Browser  string `json:"browser"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot"`
}

// NetworkInfo — сетевая классификация. Поля best-effort: при отказе внешнего
// сервиса заполняется Error, но декодирование не падает.
type NetworkInfo struct {
	IPAddress   string   `json:"ip_address"`
	ISP         string   `json:"isp,omitempty"`
	Class       string   `json:"class,omitempty"` // residential / hosting / mobile
	VPNDetected bool     `json:"vpn_detected"`
	ObservedIPs []string `json:"observed_ips,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Location — результат обратного геокодирования (тоже best-effort).
type Location struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	Country    string   `json:"country,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ReportSummary — один сигнал (submission) субъекта из основного трекера.
type ReportSummary struct {
	ReportID  string    `json:"report_id"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodedSubjectRecord — результат деанонимизации. Каждый вызов decode дает
// новую независимую запись (дедупликации нет): аудит фиксирует каждый доступ.
type DecodedSubjectRecord struct {
	ID           string          `json:"id"`
	ActivationID string          `json:"activation_id"`
	SubjectID    string          `json:"subject_id"`
	DecodedBy    string          `json:"decoded_by"`
	RealName     string          `json:"real_name,omitempty"`
	PhoneNumber  string          `json:"phone_number,omitempty"`
	Device       DeviceInfo      `json:"device"`
	Network      NetworkInfo     `json:"network"`
	Location     Location        `json:"location"`
	Reports      []ReportSummary `json:"reports"`
	DecodedAt    time.Time       `json:"decoded_at"`
}
