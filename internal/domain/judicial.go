package domain

import (
	"errors"
	"time"
)

// Статусы судебного разрешения (источник правды — внешний правовой реестр,
// мы его только читаем)
type JudicialAuthStatus string

const (
	JudicialValid   JudicialAuthStatus = "valid"
	JudicialExpired JudicialAuthStatus = "expired"
	JudicialRevoked JudicialAuthStatus = "revoked"
)

var (
	ErrRoleMismatch        = errors.New("operator does not hold the required role")
	ErrSecondFactorInvalid = errors.New("second factor code rejected")
	ErrJudicialAuthInvalid = errors.New("judicial authorization invalid or expired")
)

// JudicialAuthorization — судебное разрешение на конкретный объем экстренного доступа.
type JudicialAuthorization struct {
	AuthorizationNumber string             `json:"authorization_number"` // Уникальный номер, например "AJ-2025-00042"
	Issuer              string             `json:"issuer"`
	IssuedAt            time.Time          `json:"issued_at"`
	ExpiresAt           time.Time          `json:"expires_at"`
	LegalBasis          string             `json:"legal_basis"`
	Scope               string             `json:"scope"`
	Status              JudicialAuthStatus `json:"status"`
}

// Usable проверяет и статус, и временное окно действия разрешения.
func (j *JudicialAuthorization) Usable(now time.Time) bool {
	if j == nil || j.Status != JudicialValid {
		return false
	}
	return !now.Before(j.IssuedAt) && now.Before(j.ExpiresAt)
}

// AuthorizationProof — результат успешного прохождения Gate.
// Несет только проверенные идентификаторы, никакого секретного материала.
type AuthorizationProof struct {
	OperatorID     string    `json:"operator_id"`
	JudicialAuthNo string    `json:"judicial_authorization"`
	SecondFactorOK bool      `json:"second_factor_ok"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// RequiredRole — единственная роль, которой разрешена активация режима.
const RequiredRole = "super_admin"

// Operator — ответ внешнего сервиса идентификации ("кто аутентифицирован, какая роль").
type Operator struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	FullName string `json:"full_name,omitempty"`
}
