package postgres

/*
Файл activation_repo.go — персистентность окон экстренного доступа.
Записи активаций никогда не удаляются: закрытие окна — это UPDATE статуса,
история окон остается в таблице навсегда.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// CreateActivation создает запись открытого окна. Частичный уникальный индекс
// по status = 'active' в БД — вторая линия обороны против двойной активации
// (первая — мьютекс менеджера).
func (r *Repo) CreateActivation(ctx context.Context, a *domain.Activation) error {
	query := `INSERT INTO emergency_activations
	          (id, activated_by, reason, legal_reference, judicial_authorization,
	           start_at, end_at, status, second_factor_ok, biometric_ok, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.ActivatedBy, a.Reason, a.LegalReference, a.JudicialAuthNo,
		a.StartAt, a.EndAt, a.Status, a.SecondFactorOK, a.BiometricOK, a.Metadata,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create activation: %w", err)
	}
	return nil
}

// CloseActivation атомарно переводит окно в терминальный статус.
// Условие WHERE status = 'active' исключает двойное закрытие (гонка
// таймера авто-истечения и ручной деактивации).
func (r *Repo) CloseActivation(ctx context.Context, id string, status domain.ActivationStatus, at time.Time, reason string) error {
	query := `UPDATE emergency_activations
	          SET status = $1, deactivation_reason = $2, deactivated_at = $3
	          WHERE id = $4 AND status = 'active'`

	tag, err := r.pool.Exec(ctx, query, status, reason, at, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to close activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Окно уже закрыто другим путем — для вызывающего это не ошибка гонки,
		// а нарушение автомата (закрывать нечего)
		return domain.ErrInvalidTransition
	}
	return nil
}

// GetActiveActivation возвращает единственное открытое окно (или nil).
// Используется менеджером при старте процесса для восстановления состояния.
func (r *Repo) GetActiveActivation(ctx context.Context) (*domain.Activation, error) {
	query := `SELECT id, activated_by, reason, legal_reference, judicial_authorization,
	                 start_at, end_at, status, second_factor_ok, biometric_ok,
	                 deactivated_at, deactivation_reason, metadata
	          FROM emergency_activations WHERE status = 'active'`

	row := r.pool.QueryRow(ctx, query)

	a, err := scanActivation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Активного окна нет — штатная ситуация
		}
		return nil, fmt.Errorf("postgres: failed to fetch active activation: %w", err)
	}
	return a, nil
}

// ListActivations — история окон для надзорной выгрузки, свежие первыми.
func (r *Repo) ListActivations(ctx context.Context, limit int) ([]*domain.Activation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, activated_by, reason, legal_reference, judicial_authorization,
	                 start_at, end_at, status, second_factor_ok, biometric_ok,
	                 deactivated_at, deactivation_reason, metadata
	          FROM emergency_activations ORDER BY start_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query activations: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Activation, 0)
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan activation: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func scanActivation(row pgx.Row) (*domain.Activation, error) {
	var a domain.Activation
	var deactivatedAt sql.NullTime
	var deactReason sql.NullString

	err := row.Scan(
		&a.ID, &a.ActivatedBy, &a.Reason, &a.LegalReference, &a.JudicialAuthNo,
		&a.StartAt, &a.EndAt, &a.Status, &a.SecondFactorOK, &a.BiometricOK,
		&deactivatedAt, &deactReason, &a.Metadata,
	)
	if err != nil {
		return nil, err
	}

	// Маппим NULL значения (если есть)
	if deactivatedAt.Valid {
		val := deactivatedAt.Time
		a.DeactivatedAt = &val
	}
	if deactReason.Valid {
		a.DeactivationReason = deactReason.String
	}
	return &a, nil
}
