package postgres

/*
Файл audit_repo.go — персистентность неизменяемого журнала аудита.
Таблицы append-only: UPDATE/DELETE на уровне БД запрещены (REVOKE),
целостность истории держится на хеш-цепочке в самих записях.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
)

// WriteEvent вставляет одно событие журнала. Запись синхронная:
// вызывающий (Ledger) не продолжает операцию, пока INSERT не подтвержден.
func (r *Repo) WriteEvent(ctx context.Context, e audit.Event) error {
	query := `INSERT INTO audit_events
	          (id, kind, details, activation_id, source_ip, user_agent, timestamp, prev_hash, chain_hash)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.Kind, e.Details, nullIfEmpty(e.ActivationID),
		nullIfEmpty(e.SourceIP), nullIfEmpty(e.UserAgent),
		e.Timestamp, e.PrevHash, e.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to write audit event: %w", err)
	}
	return nil
}

// WriteReport сохраняет итоговую сводку по закрытому окну активации.
func (r *Repo) WriteReport(ctx context.Context, rep audit.Report) error {
	query := `INSERT INTO audit_reports
	          (id, activation_id, start_at, end_at, total_events, events, final_hash, generated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		rep.ID, rep.ActivationID, rep.StartAt, rep.EndAt,
		rep.TotalEvents, rep.Events, rep.FinalHash, rep.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to write audit report: %w", err)
	}
	return nil
}

// LastChainHash возвращает хвост хеш-цепочки для восстановления после рестарта.
// Пустая строка — журнал еще пуст, цепочка начинается с генезиса.
func (r *Repo) LastChainHash(ctx context.Context) (string, error) {
	query := `SELECT chain_hash FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT 1`

	var hash string
	err := r.pool.QueryRow(ctx, query).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: failed to fetch chain tail: %w", err)
	}
	return hash, nil
}

// ListEvents — выборка журнала для надзорной выгрузки. Порядок вставки
// (и цепочки): старые первыми, чтобы выгрузку можно было верифицировать.
func (r *Repo) ListEvents(ctx context.Context, activationID string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := `SELECT id, kind, details, COALESCE(activation_id, ''),
	                 COALESCE(source_ip, ''), COALESCE(user_agent, ''),
	                 timestamp, prev_hash, chain_hash
	          FROM audit_events`

	var args []interface{}
	if activationID != "" {
		query += " WHERE activation_id = $1"
		args = append(args, activationID)
	}
	query += fmt.Sprintf(" ORDER BY timestamp ASC, id ASC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit events: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		err := rows.Scan(
			&e.ID, &e.Kind, &e.Details, &e.ActivationID,
			&e.SourceIP, &e.UserAgent, &e.Timestamp, &e.PrevHash, &e.ChainHash,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}
		results = append(results, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// nullIfEmpty маппит пустые строки в NULL, чтобы частичные индексы работали.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
