package postgres

/*
Файл judicial_repo.go — read-only зеркало правового реестра судебных
разрешений. Записи заводятся вне подсистемы (синхронизация с реестром),
мы их только читаем при проверке Gate.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// GetByNumber возвращает судебное разрешение по его номеру.
// Отсутствие записи — это ErrJudicialAuthInvalid, а не техническая ошибка:
// для Gate «нет в реестре» и «недействительно» неразличимы.
func (r *Repo) GetByNumber(ctx context.Context, number string) (*domain.JudicialAuthorization, error) {
	query := `SELECT authorization_number, issuer, issued_at, expires_at, legal_basis, scope, status
	          FROM judicial_authorizations WHERE authorization_number = $1`

	row := r.pool.QueryRow(ctx, query, number)

	var j domain.JudicialAuthorization
	err := row.Scan(
		&j.AuthorizationNumber,
		&j.Issuer,
		&j.IssuedAt,
		&j.ExpiresAt,
		&j.LegalBasis,
		&j.Scope,
		&j.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJudicialAuthInvalid
		}
		return nil, fmt.Errorf("postgres: failed to fetch judicial authorization: %w", err)
	}
	return &j, nil
}
