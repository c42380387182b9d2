package postgres

/*
Файл subject_repo.go — доступ к анонимным данным субъектов (профиль,
сессии устройств, наблюдавшиеся IP, сигналы) и персистентность артефактов
деанонимизации: DecodedSubjectRecord и AudioRecordingSession.
Артефакты append-only, каждый вызов decode дает новую запись.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// GetProfile возвращает анонимный профиль субъекта. Телефон отдается
// шифртекстом: раскрытие — забота декодера и ключа окна.
func (r *Repo) GetProfile(ctx context.Context, subjectID string) (*domain.SubjectProfile, error) {
	query := `SELECT subject_id, pseudonym, COALESCE(real_name, ''), phone_encrypted, last_activity
	          FROM subject_profiles WHERE subject_id = $1`

	row := r.pool.QueryRow(ctx, query, subjectID)

	var p domain.SubjectProfile
	var lastActivity sql.NullTime

	err := row.Scan(&p.SubjectID, &p.Pseudonym, &p.RealName, &p.PhoneEncrypted, &lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("subject %s not found: %w", subjectID, err)
		}
		return nil, fmt.Errorf("postgres: failed to fetch subject profile: %w", err)
	}
	if lastActivity.Valid {
		val := lastActivity.Time
		p.LastActivity = &val
	}
	return &p, nil
}

// GetLatestDeviceSession — последняя известная сессия устройства субъекта.
// Отсутствие сессии — не ошибка для декодера (деградация до UNKNOWN),
// поэтому возвращаем nil, nil.
func (r *Repo) GetLatestDeviceSession(ctx context.Context, subjectID string) (*domain.DeviceSession, error) {
	query := `SELECT device_id, user_agent, ip_address, latitude, longitude, last_seen
	          FROM device_sessions WHERE subject_id = $1
	          ORDER BY last_seen DESC LIMIT 1`

	row := r.pool.QueryRow(ctx, query, subjectID)

	var s domain.DeviceSession
	var lat, lon sql.NullFloat64

	err := row.Scan(&s.DeviceID, &s.UserAgent, &s.IPAddress, &lat, &lon, &s.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to fetch device session: %w", err)
	}
	if lat.Valid {
		val := lat.Float64
		s.Latitude = &val
	}
	if lon.Valid {
		val := lon.Float64
		s.Longitude = &val
	}
	return &s, nil
}

// GetObservedIPs — все IP, с которых субъект когда-либо появлялся
// (вход для эвристики VPN: приватные и публичные адреса вперемешку).
func (r *Repo) GetObservedIPs(ctx context.Context, subjectID string) ([]string, error) {
	query := `SELECT DISTINCT ip_address FROM device_sessions WHERE subject_id = $1`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query observed ips: %w", err)
	}
	defer rows.Close()

	ips := make([]string, 0)
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("postgres: scan ip error: %w", err)
		}
		ips = append(ips, ip)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ips, nil
}

// ListReports — сигналы субъекта из основного трекера, свежие первыми.
func (r *Repo) ListReports(ctx context.Context, subjectID string) ([]domain.ReportSummary, error) {
	query := `SELECT report_id, category, status, created_at
	          FROM subject_reports WHERE subject_id = $1
	          ORDER BY created_at DESC LIMIT 100`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query subject reports: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ReportSummary, 0)
	for rows.Next() {
		var rep domain.ReportSummary
		if err := rows.Scan(&rep.ReportID, &rep.Category, &rep.Status, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan report: %w", err)
		}
		results = append(results, rep)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// CreateDecodedRecord сохраняет результат деанонимизации. Чувствительные поля
// (имя, телефон) пишутся в отдельную таблицу с жестким доступом; структурные
// блоки (device/network/location/reports) — JSONB.
func (r *Repo) CreateDecodedRecord(ctx context.Context, rec *domain.DecodedSubjectRecord) error {
	query := `INSERT INTO decoded_subject_records
	          (id, activation_id, subject_id, decoded_by, real_name, phone_number,
	           device, network, location, reports, decoded_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.ActivationID, rec.SubjectID, rec.DecodedBy,
		rec.RealName, rec.PhoneNumber,
		rec.Device, rec.Network, rec.Location, rec.Reports, rec.DecodedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create decoded record: %w", err)
	}
	return nil
}

// CreateRecordingSession сохраняет завершенный сеанс аудиозаписи.
// Полезная нагрузка уже зашифрована ключом окна на стороне монитора.
func (r *Repo) CreateRecordingSession(ctx context.Context, s *domain.AudioRecordingSession) error {
	query := `INSERT INTO audio_recording_sessions
	          (recording_id, activation_id, target_subject_id, operator_id,
	           encrypted_payload, duration_seconds, started_at, stopped_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		s.RecordingID, s.ActivationID, s.TargetSubjectID, s.OperatorID,
		s.EncryptedPayload, s.DurationSeconds, s.StartedAt, s.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create recording session: %w", err)
	}
	return nil
}
