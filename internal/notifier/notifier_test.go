package notifier

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
	"github.com/ndjobi-platform/emergency-access/internal/repository/memory"
)

var testAuthorities = []string{"CNPD", "MINISTERE_INTERIEUR", "AUTORITE_JUDICIAIRE"}

// fakeTransport считает доставки; может отказывать по конкретному органу.
type fakeTransport struct {
	mu      sync.Mutex
	sent    map[string][][]byte // authority -> payloads
	failFor map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][][]byte), failFor: make(map[string]error)}
}

func (f *fakeTransport) Send(_ context.Context, authority string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[authority]; err != nil {
		return err
	}
	f.sent[authority] = append(f.sent[authority], payload)
	return nil
}

func (f *fakeTransport) deliveries(authority string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[authority])
}

func testActivation() *domain.Activation {
	return &domain.Activation{
		ID:             "act-1",
		ActivatedBy:    "op-1",
		JudicialAuthNo: "AJ-2025-00042",
		StartAt:        time.Now(),
		EndAt:          time.Now().Add(time.Hour),
		Status:         domain.ActivationActive,
	}
}

func TestNotifier_ActivationReachesAllAuthorities(t *testing.T) {
	transport := newFakeTransport()
	store := memory.NewStore()
	n := NewNotifier(testAuthorities, transport, store, zap.NewNop())

	require.NoError(t, n.NotifyActivation(context.Background(), testActivation()))
	n.Drain()

	for _, authority := range testAuthorities {
		assert.Equal(t, 1, transport.deliveries(authority), authority)
	}

	// Ровно одна запись уведомления на активацию
	rec := store.Notification("act-1")
	require.NotNil(t, rec)
	assert.Equal(t, testAuthorities, rec.NotifiedAuthorities)
	assert.False(t, rec.Acknowledged())
}

func TestNotifier_PersistenceFailureSurfaces(t *testing.T) {
	transport := newFakeTransport()
	n := NewNotifier(testAuthorities, transport, failingNotificationStore{}, zap.NewNop())

	err := n.NotifyActivation(context.Background(), testActivation())
	require.Error(t, err)
	n.Drain()

	// Без записи — без рассылки
	for _, authority := range testAuthorities {
		assert.Zero(t, transport.deliveries(authority))
	}
}

func TestNotifier_OneAuthorityDownOthersDelivered(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor["CNPD"] = errors.New("channel down")
	store := memory.NewStore()
	n := NewNotifier(testAuthorities, transport, store, zap.NewNop())
	n.retryDelay = time.Millisecond // Не ждем реальный бэкофф в тесте

	require.NoError(t, n.NotifyActivation(context.Background(), testActivation()))
	n.Drain()

	assert.Zero(t, transport.deliveries("CNPD"))
	assert.Equal(t, 1, transport.deliveries("MINISTERE_INTERIEUR"))
	assert.Equal(t, 1, transport.deliveries("AUTORITE_JUDICIAIRE"))
}

func TestNotifier_EscalateSynchronous(t *testing.T) {
	transport := newFakeTransport()
	n := NewNotifier(testAuthorities, transport, memory.NewStore(), zap.NewNop())

	err := n.Escalate(context.Background(), audit.Event{
		ID:   "evt-1",
		Kind: audit.KindUnauthorizedActivation,
	})
	require.NoError(t, err)

	// Синхронно: доставки видны сразу, без Drain
	for _, authority := range testAuthorities {
		assert.Equal(t, 1, transport.deliveries(authority), authority)
	}
}

func TestNotifier_EscalateReportsUndelivered(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor["AUTORITE_JUDICIAIRE"] = errors.New("channel down")
	n := NewNotifier(testAuthorities, transport, memory.NewStore(), zap.NewNop())
	n.retryDelay = time.Millisecond

	err := n.Escalate(context.Background(), audit.Event{Kind: audit.KindUnauthorizedDecode})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTORITE_JUDICIAIRE")

	// Остальные органы тревогу все равно получили
	assert.Equal(t, 1, transport.deliveries("CNPD"))
	assert.Equal(t, 1, transport.deliveries("MINISTERE_INTERIEUR"))
}

func TestNotifier_AckRecorded(t *testing.T) {
	store := memory.NewStore()
	n := NewNotifier(testAuthorities, newFakeTransport(), store, zap.NewNop())

	require.NoError(t, n.NotifyActivation(context.Background(), testActivation()))
	n.Drain()

	ctx := context.Background()
	n.processAck(ctx, "act-1:CNPD")
	n.processAck(ctx, "act-1:MINISTERE_INTERIEUR")
	n.processAck(ctx, "act-1:AUTORITE_JUDICIAIRE")

	rec := store.Notification("act-1")
	require.NotNil(t, rec)
	assert.True(t, rec.Acknowledged())

	// Мусорный формат не роняет слушателя
	n.processAck(ctx, "garbage")
	n.processAck(ctx, ":CNPD")
}

type failingNotificationStore struct{}

func (failingNotificationStore) CreateNotification(context.Context, domain.NotificationRecord) error {
	return errors.New("db down")
}

func (failingNotificationStore) Acknowledge(context.Context, string, string, time.Time) error {
	return errors.New("db down")
}
