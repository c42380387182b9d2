package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// IdentityProvider — внешний сервис «кто аутентифицирован и какая роль».
// Мы видим только его интерфейсную границу.
type IdentityProvider interface {
	GetOperator(ctx context.Context, operatorID string) (*domain.Operator, error)
	VerifySecret(ctx context.Context, operatorID, secret string) error
}

// JudicialRegistry — внешний правовой реестр судебных разрешений (read-only).
type JudicialRegistry interface {
	GetByNumber(ctx context.Context, number string) (*domain.JudicialAuthorization, error)
}

// Recorder — минимальная зависимость на журнал аудита.
type Recorder interface {
	Record(ctx context.Context, e audit.Event) (string, error)
}

// Gate — Authorization Gate: роль + второй фактор + судебное разрешение.
// Вызывается только в момент активации, в Hot Path операций не участвует.
type Gate struct {
	identity IdentityProvider
	registry JudicialRegistry
	second   *SecondFactor
	ledger   Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewGate(identity IdentityProvider, registry JudicialRegistry, second *SecondFactor, ledger Recorder, logger *zap.Logger) *Gate {
	return &Gate{
		identity: identity,
		registry: registry,
		second:   second,
		ledger:   ledger,
		logger:   logger.Named("gate"),
		now:      time.Now,
	}
}

// AuthorizeActivation прогоняет запрос через три фактора. Каждый отказ пишет
// ровно одно событие UNAUTHORIZED_ACTIVATION_ATTEMPT (причина — в details)
// до возврата; успех события не пишет — это сделает менеджер после фиксации
// активации. Секретный материал в proof не попадает.
func (g *Gate) AuthorizeActivation(ctx context.Context, req domain.ActivationRequest) (*domain.AuthorizationProof, error) {
	// 1. Роль оператора (внешний сервис идентификации)
	op, err := g.identity.GetOperator(ctx, req.OperatorID)
	if err != nil || op == nil || op.Role != domain.RequiredRole {
		if recErr := g.reject(ctx, req, "role_mismatch"); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrRoleMismatch
	}

	// 2. Первичный секрет оператора
	if err := g.identity.VerifySecret(ctx, req.OperatorID, req.OperatorSecret); err != nil {
		if recErr := g.reject(ctx, req, "credentials"); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrRoleMismatch
	}

	// 3. Второй фактор (одноразовый код текущей 30-секундной эпохи)
	if !g.second.Verify(req.OperatorID, req.SecondFactorCode) {
		if recErr := g.reject(ctx, req, "second_factor"); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrSecondFactorInvalid
	}

	// 4. Судебное разрешение: статус valid и текущее время внутри [issue, expiry]
	auth, err := g.registry.GetByNumber(ctx, req.JudicialAuthNo)
	if err != nil || !auth.Usable(g.now()) {
		if recErr := g.reject(ctx, req, "judicial_authorization"); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrJudicialAuthInvalid
	}

	g.logger.Info("activation authorized",
		zap.String("operator_id", req.OperatorID),
		zap.String("judicial_authorization", req.JudicialAuthNo))

	return &domain.AuthorizationProof{
		OperatorID:     req.OperatorID,
		JudicialAuthNo: req.JudicialAuthNo,
		SecondFactorOK: true,
		VerifiedAt:     g.now(),
	}, nil
}

// reject фиксирует отказ в журнале. Ошибка записи — fail-closed: без аудита
// отказ наружу не возвращаем, возвращаем ошибку персистентности.
func (g *Gate) reject(ctx context.Context, req domain.ActivationRequest, cause string) error {
	_, err := g.ledger.Record(ctx, audit.Event{
		Kind: audit.KindUnauthorizedActivation,
		Details: map[string]interface{}{
			"cause":                  cause,
			"operator_id":            req.OperatorID,
			"judicial_authorization": req.JudicialAuthNo,
			"reason":                 req.Reason,
		},
	})
	if err != nil {
		return fmt.Errorf("gate: rejection not audited: %w", err)
	}

	g.logger.Warn("activation attempt rejected",
		zap.String("operator_id", req.OperatorID),
		zap.String("cause", cause))
	return nil
}
