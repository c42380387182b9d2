package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// --- Фейки внешних границ ---

type fakeIdentity struct {
	operator  *domain.Operator
	opErr     error
	secretErr error
}

func (f *fakeIdentity) GetOperator(_ context.Context, _ string) (*domain.Operator, error) {
	return f.operator, f.opErr
}

func (f *fakeIdentity) VerifySecret(_ context.Context, _, _ string) error {
	return f.secretErr
}

type fakeRegistry struct {
	auth *domain.JudicialAuthorization
	err  error
}

func (f *fakeRegistry) GetByNumber(_ context.Context, _ string) (*domain.JudicialAuthorization, error) {
	return f.auth, f.err
}

type captureRecorder struct {
	events []audit.Event
	err    error
}

func (c *captureRecorder) Record(_ context.Context, e audit.Event) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, e)
	return e.ID, nil
}

func validAuthorization() *domain.JudicialAuthorization {
	return &domain.JudicialAuthorization{
		AuthorizationNumber: "AJ-2025-00042",
		Issuer:              "Tribunal de Libreville",
		IssuedAt:            time.Now().Add(-time.Hour),
		ExpiresAt:           time.Now().Add(24 * time.Hour),
		Status:              domain.JudicialValid,
	}
}

func newTestGate(identity *fakeIdentity, registry *fakeRegistry, rec *captureRecorder) (*Gate, *SecondFactor) {
	sf := NewSecondFactor([]byte("totp-secret"))
	return NewGate(identity, registry, sf, rec, zap.NewNop()), sf
}

func validRequest(code string) domain.ActivationRequest {
	return domain.ActivationRequest{
		OperatorID:       "op-1",
		OperatorSecret:   "secret",
		SecondFactorCode: code,
		JudicialAuthNo:   "AJ-2025-00042",
		Reason:           "enquete judiciaire",
	}
}

func TestGate_AllFactorsPass(t *testing.T) {
	rec := &captureRecorder{}
	g, sf := newTestGate(
		&fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}},
		&fakeRegistry{auth: validAuthorization()},
		rec,
	)

	proof, err := g.AuthorizeActivation(context.Background(), validRequest(sf.CodeFor("op-1")))
	require.NoError(t, err)
	require.NotNil(t, proof)

	assert.Equal(t, "op-1", proof.OperatorID)
	assert.Equal(t, "AJ-2025-00042", proof.JudicialAuthNo)
	assert.True(t, proof.SecondFactorOK)

	// Успех Gate событий не пишет: это сделает менеджер после фиксации
	assert.Empty(t, rec.events)
}

func TestGate_RejectsEachFactor(t *testing.T) {
	cases := []struct {
		name     string
		identity *fakeIdentity
		registry *fakeRegistry
		badCode  bool
		wantErr  error
		cause    string
	}{
		{
			name:     "wrong role",
			identity: &fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: "moderator"}},
			registry: &fakeRegistry{auth: validAuthorization()},
			wantErr:  domain.ErrRoleMismatch,
			cause:    "role_mismatch",
		},
		{
			name:     "unknown operator",
			identity: &fakeIdentity{opErr: errors.New("operator not found")},
			registry: &fakeRegistry{auth: validAuthorization()},
			wantErr:  domain.ErrRoleMismatch,
			cause:    "role_mismatch",
		},
		{
			name:     "bad secret",
			identity: &fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}, secretErr: errors.New("rejected")},
			registry: &fakeRegistry{auth: validAuthorization()},
			wantErr:  domain.ErrRoleMismatch,
			cause:    "credentials",
		},
		{
			name:     "bad second factor",
			identity: &fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}},
			registry: &fakeRegistry{auth: validAuthorization()},
			badCode:  true,
			wantErr:  domain.ErrSecondFactorInvalid,
			cause:    "second_factor",
		},
		{
			name:     "judicial authorization missing",
			identity: &fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}},
			registry: &fakeRegistry{err: domain.ErrJudicialAuthInvalid},
			wantErr:  domain.ErrJudicialAuthInvalid,
			cause:    "judicial_authorization",
		},
		{
			name:     "judicial authorization expired",
			identity: &fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}},
			registry: &fakeRegistry{auth: &domain.JudicialAuthorization{
				AuthorizationNumber: "AJ-2025-00042",
				IssuedAt:            time.Now().Add(-48 * time.Hour),
				ExpiresAt:           time.Now().Add(-time.Hour),
				Status:              domain.JudicialValid,
			}},
			wantErr: domain.ErrJudicialAuthInvalid,
			cause:   "judicial_authorization",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &captureRecorder{}
			g, sf := newTestGate(tc.identity, tc.registry, rec)

			code := sf.CodeFor("op-1")
			if tc.badCode {
				code = "000000"
			}

			_, err := g.AuthorizeActivation(context.Background(), validRequest(code))
			assert.ErrorIs(t, err, tc.wantErr)

			// Ровно одно событие отказа, причина — в details
			require.Len(t, rec.events, 1)
			assert.Equal(t, audit.KindUnauthorizedActivation, rec.events[0].Kind)
			assert.Equal(t, tc.cause, rec.events[0].Details["cause"])
		})
	}
}

func TestGate_FailClosedWhenAuditUnavailable(t *testing.T) {
	rec := &captureRecorder{err: errors.New("database down")}
	g, sf := newTestGate(
		&fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: "moderator"}},
		&fakeRegistry{auth: validAuthorization()},
		rec,
	)

	// Отказ нельзя вернуть, пока он не записан: наружу уходит
	// ошибка персистентности, а не доменная
	_, err := g.AuthorizeActivation(context.Background(), validRequest(sf.CodeFor("op-1")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRoleMismatch)
	assert.Contains(t, err.Error(), "rejection not audited")
}

func TestGate_ProofCarriesNoSecrets(t *testing.T) {
	rec := &captureRecorder{}
	g, sf := newTestGate(
		&fakeIdentity{operator: &domain.Operator{ID: "op-1", Role: domain.RequiredRole}},
		&fakeRegistry{auth: validAuthorization()},
		rec,
	)

	req := validRequest(sf.CodeFor("op-1"))
	proof, err := g.AuthorizeActivation(context.Background(), req)
	require.NoError(t, err)

	// В proof только проверенные идентификаторы
	assert.NotContains(t, proof.OperatorID, req.OperatorSecret)
	assert.NotZero(t, proof.VerifiedAt)
}
