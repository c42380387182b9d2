package memory

/*
Пакет memory — in-memory реализация всех хранилищ подсистемы.
Используется в dev-режиме (без Postgres) и в тестах. Семантика повторяет
postgres-реализацию: append-only журнал, одно активное окно, идемпотентные ack.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	activations   map[string]*domain.Activation
	judicial      map[string]*domain.JudicialAuthorization
	events        []audit.Event
	reports       []audit.Report
	profiles      map[string]*domain.SubjectProfile
	sessions      map[string][]*domain.DeviceSession
	subjReports   map[string][]domain.ReportSummary
	decoded       []*domain.DecodedSubjectRecord
	recordings    []*domain.AudioRecordingSession
	notifications map[string]*domain.NotificationRecord // activation_id -> record
}

func NewStore() *Store {
	return &Store{
		activations:   make(map[string]*domain.Activation),
		judicial:      make(map[string]*domain.JudicialAuthorization),
		profiles:      make(map[string]*domain.SubjectProfile),
		sessions:      make(map[string][]*domain.DeviceSession),
		subjReports:   make(map[string][]domain.ReportSummary),
		notifications: make(map[string]*domain.NotificationRecord),
	}
}

// --- Активации ---

func (s *Store) CreateActivation(_ context.Context, a *domain.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Вторая линия обороны против двойной активации (как частичный индекс в БД)
	for _, existing := range s.activations {
		if existing.Status == domain.ActivationActive {
			return domain.ErrAlreadyActive
		}
	}
	cp := *a
	s.activations[a.ID] = &cp
	return nil
}

func (s *Store) CloseActivation(_ context.Context, id string, status domain.ActivationStatus, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[id]
	if !ok || a.Status != domain.ActivationActive {
		return domain.ErrInvalidTransition
	}
	a.Status = status
	a.DeactivationReason = reason
	a.DeactivatedAt = &at
	return nil
}

func (s *Store) GetActiveActivation(_ context.Context) (*domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.activations {
		if a.Status == domain.ActivationActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListActivations(_ context.Context, limit int) ([]*domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*domain.Activation, 0, len(s.activations))
	for _, a := range s.activations {
		cp := *a
		results = append(results, &cp)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// --- Судебные разрешения ---

// SeedJudicial заводит разрешение в зеркало реестра (dev-режим и тесты).
func (s *Store) SeedJudicial(j *domain.JudicialAuthorization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.judicial[j.AuthorizationNumber] = &cp
}

func (s *Store) GetByNumber(_ context.Context, number string) (*domain.JudicialAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.judicial[number]
	if !ok {
		return nil, domain.ErrJudicialAuthInvalid
	}
	cp := *j
	return &cp, nil
}

// --- Журнал аудита ---

func (s *Store) WriteEvent(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *Store) WriteReport(_ context.Context, rep audit.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

func (s *Store) LastChainHash(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return "", nil
	}
	return s.events[len(s.events)-1].ChainHash, nil
}

func (s *Store) ListEvents(_ context.Context, activationID string, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]audit.Event, 0)
	for _, e := range s.events {
		if activationID != "" && e.ActivationID != activationID {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Reports возвращает сохраненные сводки (для проверок в тестах).
func (s *Store) Reports() []audit.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// --- Субъекты ---

func (s *Store) SeedProfile(p *domain.SubjectProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.SubjectID] = &cp
}

func (s *Store) SeedDeviceSession(subjectID string, sess *domain.DeviceSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[subjectID] = append(s.sessions[subjectID], &cp)
}

func (s *Store) SeedReports(subjectID string, reps []domain.ReportSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjReports[subjectID] = append(s.subjReports[subjectID], reps...)
}

func (s *Store) GetProfile(_ context.Context, subjectID string) (*domain.SubjectProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject %s not found", subjectID)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetLatestDeviceSession(_ context.Context, subjectID string) (*domain.DeviceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.sessions[subjectID]
	if len(sessions) == 0 {
		return nil, nil
	}
	latest := sessions[0]
	for _, sess := range sessions[1:] {
		if sess.LastSeen.After(latest.LastSeen) {
			latest = sess
		}
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) GetObservedIPs(_ context.Context, subjectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ips := make([]string, 0)
	for _, sess := range s.sessions[subjectID] {
		if _, ok := seen[sess.IPAddress]; ok {
			continue
		}
		seen[sess.IPAddress] = struct{}{}
		ips = append(ips, sess.IPAddress)
	}
	return ips, nil
}

func (s *Store) ListReports(_ context.Context, subjectID string) ([]domain.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReportSummary, len(s.subjReports[subjectID]))
	copy(out, s.subjReports[subjectID])
	return out, nil
}

func (s *Store) CreateDecodedRecord(_ context.Context, rec *domain.DecodedSubjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.decoded = append(s.decoded, &cp)
	return nil
}

// DecodedRecords возвращает накопленные записи деанонимизации (тесты).
func (s *Store) DecodedRecords() []*domain.DecodedSubjectRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.DecodedSubjectRecord, len(s.decoded))
	copy(out, s.decoded)
	return out
}

// --- Аудиосеансы ---

func (s *Store) CreateRecordingSession(_ context.Context, sess *domain.AudioRecordingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.recordings = append(s.recordings, &cp)
	return nil
}

// Recordings возвращает сохраненные сеансы (тесты).
func (s *Store) Recordings() []*domain.AudioRecordingSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AudioRecordingSession, len(s.recordings))
	copy(out, s.recordings)
	return out
}

// --- Уведомления органов ---

func (s *Store) CreateNotification(_ context.Context, n domain.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Acknowledgments == nil {
		n.Acknowledgments = make(map[string]time.Time)
	}
	s.notifications[n.ActivationID] = &n
	return nil
}

func (s *Store) Acknowledge(_ context.Context, activationID, authority string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[activationID]
	if !ok {
		return fmt.Errorf("notification record not found for activation %s", activationID)
	}
	n.Acknowledgments[authority] = at
	return nil
}

// Notification возвращает запись уведомления по активации (тесты).
func (s *Store) Notification(activationID string) *domain.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[activationID]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}
