package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims — содержимое JWT, выданного основной платформой NDJOBI.
// Подсистема токены не выпускает, только проверяет подпись RS256
// публичным ключом платформы.
type OperatorClaims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"` // "emergency.activate": true и т.п.
	jwt.RegisteredClaims
}

// HasScope проверяет наличие скоупа; универсальный "admin" покрывает все.
func (c *OperatorClaims) HasScope(scope string) bool {
	if c.Scopes == nil {
		return false
	}
	return c.Scopes[scope] || c.Scopes["admin"]
}

// Скоупы операций подсистемы
const (
	ScopeActivate = "emergency.activate"
	ScopeDecode   = "emergency.decode"
	ScopeMonitor  = "emergency.monitor"
	ScopeAudit    = "emergency.audit"
)
