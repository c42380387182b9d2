package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/keys"
	"github.com/ndjobi-platform/emergency-access/internal/repository/memory"
)

// --- Фейки коллабораторов менеджера ---

type fakeGate struct {
	err   error
	proof domain.AuthorizationProof
}

func (f *fakeGate) AuthorizeActivation(_ context.Context, req domain.ActivationRequest) (*domain.AuthorizationProof, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := f.proof
	if p.OperatorID == "" {
		p = domain.AuthorizationProof{
			OperatorID:     req.OperatorID,
			JudicialAuthNo: req.JudicialAuthNo,
			SecondFactorOK: true,
			VerifiedAt:     time.Now(),
		}
	}
	return &p, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	activations   []string
	deactivations []string
}

func (f *fakeNotifier) NotifyActivation(_ context.Context, act *domain.Activation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, act.ID)
	return nil
}

func (f *fakeNotifier) NotifyDeactivation(act *domain.Activation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivations = append(f.deactivations, act.ID)
}

func (f *fakeNotifier) Escalate(_ context.Context, _ audit.Event) error { return nil }

type failingStorage struct{}

func (failingStorage) WriteEvent(context.Context, audit.Event) error { return errors.New("db down") }
func (failingStorage) WriteReport(context.Context, audit.Report) error {
	return errors.New("db down")
}
func (failingStorage) LastChainHash(context.Context) (string, error) { return "", nil }

func testManagerFragments() keys.Fragments {
	return keys.Fragments{
		One:   []byte("frag-1"),
		Two:   []byte("frag-2"),
		Three: []byte("frag-3"),
	}
}

type managerFixture struct {
	manager  *Manager
	store    *memory.Store
	ledger   *audit.Ledger
	notifier *fakeNotifier
}

func newManagerFixture(t *testing.T, maxWindow time.Duration) *managerFixture {
	t.Helper()
	store := memory.NewStore()
	notif := &fakeNotifier{}
	ledger := audit.NewLedger(store, notif, zap.NewNop())
	require.NoError(t, ledger.Init(context.Background()))

	m := NewManager(
		&fakeGate{}, store, ledger, notif, NopBroadcaster{},
		testManagerFragments(), NewMetrics(nil), zap.NewNop(), maxWindow,
	)
	return &managerFixture{manager: m, store: store, ledger: ledger, notifier: notif}
}

func activationRequest(d time.Duration) domain.ActivationRequest {
	return domain.ActivationRequest{
		OperatorID:       "op-1",
		OperatorSecret:   "secret",
		SecondFactorCode: "abc123",
		JudicialAuthNo:   "AJ-2025-00042",
		Reason:           "enquete",
		Duration:         d,
	}
}

func TestManager_ActivateHappyPath(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	id, err := fx.manager.Activate(ctx, activationRequest(30*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status := fx.manager.Status()
	require.True(t, status.Active)
	assert.Equal(t, "op-1", status.Activation.ActivatedBy)
	assert.InDelta(t, (30 * time.Minute).Seconds(), float64(status.Remaining), 5)

	// Персистентность + аудит + уведомление органов
	stored, err := fx.store.GetActiveActivation(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, id, stored.ID)

	events, err := fx.store.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindEmergencyActivated, events[0].Kind)

	assert.Equal(t, []string{id}, fx.notifier.activations)

	// Ключ окна доступен операциям
	_, key, err := fx.manager.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, id, key.ActivationID())
}

func TestManager_SingleWindowInvariant(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	_, err := fx.manager.Activate(ctx, activationRequest(time.Hour))
	require.NoError(t, err)

	_, err = fx.manager.Activate(ctx, activationRequest(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
}

func TestManager_ConcurrentActivationSingleWinner(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.manager.Activate(context.Background(), activationRequest(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrAlreadyActive):
				rejected++
			}
		}()
	}
	wg.Wait()

	// Побеждает ровно один, остальные получают отказ без очереди
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
}

func TestManager_ClampsDurationToMaxWindow(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)

	_, err := fx.manager.Activate(context.Background(), activationRequest(5*time.Hour))
	require.NoError(t, err)

	status := fx.manager.Status()
	require.True(t, status.Active)
	assert.Equal(t, time.Hour, status.Activation.EndAt.Sub(status.Activation.StartAt))
}

func TestManager_AutoExpiration(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	id, err := fx.manager.Activate(ctx, activationRequest(40*time.Millisecond))
	require.NoError(t, err)

	_, key, err := fx.manager.Snapshot()
	require.NoError(t, err)

	// Статус отражает истечение сразу, но сам переход делает таймер:
	// дожидаемся уничтожения ключа — оно происходит в конце перехода
	require.Eventually(t, key.Destroyed, time.Second, 10*time.Millisecond)
	assert.False(t, fx.manager.Status().Active)

	stored, err := fx.store.GetActiveActivation(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Len(t, fx.store.Reports(), 1)

	events, err := fx.store.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.KindEmergencyDeactivated, events[1].Kind)
	assert.Equal(t, AutoExpirationReason, events[1].Details["reason"])
}

func TestManager_ManualDeactivationBeatsTimer(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	id, err := fx.manager.Activate(ctx, activationRequest(60*time.Millisecond))
	require.NoError(t, err)

	fx.manager.Deactivate(ctx, "investigation complete")
	assert.False(t, fx.manager.Status().Active)

	// Даем опоздавшему таймеру шанс выстрелить: он должен стать no-op
	time.Sleep(120 * time.Millisecond)

	events, err := fx.store.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2) // Ровно одно закрытие
	assert.Equal(t, "revoked", events[1].Details["status"])
	assert.Equal(t, "investigation complete", events[1].Details["reason"])
}

func TestManager_DeactivateIdempotent(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	id, err := fx.manager.Activate(ctx, activationRequest(time.Hour))
	require.NoError(t, err)

	fx.manager.Deactivate(ctx, "first")
	fx.manager.Deactivate(ctx, "second") // no-op

	events, err := fx.store.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, []string{id}, fx.notifier.deactivations)
}

func TestManager_GateRejectionLeavesNoState(t *testing.T) {
	store := memory.NewStore()
	notif := &fakeNotifier{}
	ledger := audit.NewLedger(store, notif, zap.NewNop())
	m := NewManager(
		&fakeGate{err: domain.ErrSecondFactorInvalid}, store, ledger, notif, NopBroadcaster{},
		testManagerFragments(), NewMetrics(nil), zap.NewNop(), time.Hour,
	)

	_, err := m.Activate(context.Background(), activationRequest(time.Hour))
	assert.ErrorIs(t, err, domain.ErrSecondFactorInvalid)
	assert.False(t, m.Status().Active)

	stored, err := store.GetActiveActivation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestManager_AuditFailureRollsBackActivation(t *testing.T) {
	store := memory.NewStore()
	notif := &fakeNotifier{}
	// Журнал недоступен: активация обязана не состояться
	ledger := audit.NewLedger(failingStorage{}, notif, zap.NewNop())
	m := NewManager(
		&fakeGate{}, store, ledger, notif, NopBroadcaster{},
		testManagerFragments(), NewMetrics(nil), zap.NewNop(), time.Hour,
	)

	_, err := m.Activate(context.Background(), activationRequest(time.Hour))
	require.Error(t, err)
	assert.False(t, m.Status().Active)

	stored, err := store.GetActiveActivation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Empty(t, notif.activations)
}

func TestManager_ResumeRederivesKey(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	_, err := fx.manager.Activate(ctx, activationRequest(time.Hour))
	require.NoError(t, err)

	_, key1, err := fx.manager.Snapshot()
	require.NoError(t, err)
	sealed, err := key1.Seal([]byte("phone-number"))
	require.NoError(t, err)

	// Новый процесс поверх того же хранилища
	notif := &fakeNotifier{}
	ledger := audit.NewLedger(fx.store, notif, zap.NewNop())
	require.NoError(t, ledger.Init(ctx))
	restarted := NewManager(
		&fakeGate{}, fx.store, ledger, notif, NopBroadcaster{},
		testManagerFragments(), NewMetrics(nil), zap.NewNop(), time.Hour,
	)
	require.NoError(t, restarted.Resume(ctx))

	require.True(t, restarted.Status().Active)

	// Детерминизм вывода: повторно выведенный ключ открывает старый шифртекст
	_, key2, err := restarted.Snapshot()
	require.NoError(t, err)
	opened, err := key2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("phone-number"), opened)

	restarted.Deactivate(ctx, "cleanup")
}

func TestManager_ResumeClosesExpiredWindow(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	id, err := fx.manager.Activate(ctx, activationRequest(time.Hour))
	require.NoError(t, err)

	// Рестарт «в будущем»: окно к этому моменту давно истекло
	notif := &fakeNotifier{}
	ledger := audit.NewLedger(fx.store, notif, zap.NewNop())
	require.NoError(t, ledger.Init(ctx))
	restarted := NewManager(
		&fakeGate{}, fx.store, ledger, notif, NopBroadcaster{},
		testManagerFragments(), NewMetrics(nil), zap.NewNop(), time.Hour,
	)
	restarted.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	require.NoError(t, restarted.Resume(ctx))
	assert.False(t, restarted.Status().Active)

	events, err := fx.store.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, audit.KindEmergencyDeactivated, last.Kind)
	assert.Equal(t, AutoExpirationReason, last.Details["reason"])

	fx.manager.Deactivate(ctx, "cleanup") // Гасим таймер первого процесса
}
