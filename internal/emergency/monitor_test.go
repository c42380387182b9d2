package emergency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/repository/memory"
)

// instantSource возвращает полезную нагрузку сразу, не дожидаясь дедлайна.
type instantSource struct{ payload []byte }

func (s *instantSource) Capture(_ context.Context, _ string) ([]byte, error) {
	return s.payload, nil
}

// blockingSource отдает накопленное только по отмене контекста
// (имитация потока, читаемого до дедлайна).
type blockingSource struct{ payload []byte }

func (s *blockingSource) Capture(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return s.payload, ctx.Err()
}

type failingSource struct{}

func (failingSource) Capture(context.Context, string) ([]byte, error) {
	return nil, errors.New("gateway unreachable")
}

type monitorFixture struct {
	monitor *Monitor
	store   *memory.Store
	window  *fakeWindow
}

func newMonitorFixture(t *testing.T, window *fakeWindow, source CaptureSource) *monitorFixture {
	t.Helper()
	store := memory.NewStore()
	ledger := audit.NewLedger(store, &fakeNotifier{}, zap.NewNop())
	require.NoError(t, ledger.Init(context.Background()))

	m := NewMonitor(window, source, store, ledger, NewMetrics(nil), zap.NewNop(), 0)
	return &monitorFixture{monitor: m, store: store, window: window}
}

func TestMonitor_SessionPersistsEncrypted(t *testing.T) {
	window := openWindow(t)
	fx := newMonitorFixture(t, window, &instantSource{payload: []byte("raw-audio-bytes")})
	ctx := context.Background()

	handle, err := fx.monitor.Start(ctx, "subj-1", "op-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, handle.DurationSeconds)
	assert.Contains(t, handle.RecordingID, "AUDIO_")

	fx.monitor.Drain()

	recordings := fx.store.Recordings()
	require.Len(t, recordings, 1)
	session := recordings[0]
	assert.Equal(t, handle.RecordingID, session.RecordingID)
	assert.Equal(t, "act-1", session.ActivationID)

	// В хранилище только шифртекст; ключ окна его открывает
	assert.NotEqual(t, []byte("raw-audio-bytes"), session.EncryptedPayload)
	opened, err := window.key.Open(session.EncryptedPayload)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-audio-bytes"), opened)

	// Старт залогирован до начала захвата
	events, err := fx.store.ListEvents(ctx, "act-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindAudioActivated, events[0].Kind)
}

func TestMonitor_ClampsRequestedDuration(t *testing.T) {
	window := openWindow(t)
	fx := newMonitorFixture(t, window, &instantSource{payload: []byte("x")})

	// 90 секунд запрошено — потолок 60 не обсуждается
	handle, err := fx.monitor.Start(context.Background(), "subj-1", "op-1", 90)
	require.NoError(t, err)
	assert.Equal(t, int(domain.MaxAudioCaptureWindow.Seconds()), handle.DurationSeconds)

	// Ноль и отрицательные тоже приводятся к потолку
	handle, err = fx.monitor.Start(context.Background(), "subj-1", "op-1", -5)
	require.NoError(t, err)
	assert.Equal(t, int(domain.MaxAudioCaptureWindow.Seconds()), handle.DurationSeconds)

	fx.monitor.Drain()
}

func TestMonitor_EarlyStopPersistsPartialCapture(t *testing.T) {
	window := openWindow(t)
	fx := newMonitorFixture(t, window, &blockingSource{payload: []byte("partial")})

	handle, err := fx.monitor.Start(context.Background(), "subj-1", "op-1", 60)
	require.NoError(t, err)

	// Ранний Stop обрывает контекст источника; частичная запись — штатный исход
	fx.monitor.Stop(handle.RecordingID)
	fx.monitor.Drain()

	recordings := fx.store.Recordings()
	require.Len(t, recordings, 1)
	opened, err := window.key.Open(recordings[0].EncryptedPayload)
	require.NoError(t, err)
	assert.Equal(t, []byte("partial"), opened)

	// Повторный Stop по завершенному сеансу — no-op
	fx.monitor.Stop(handle.RecordingID)
}

func TestMonitor_DeniedWithoutWindow(t *testing.T) {
	fx := newMonitorFixture(t, &fakeWindow{err: domain.ErrNoActiveAuthorization}, &instantSource{})

	_, err := fx.monitor.Start(context.Background(), "subj-1", "op-1", 30)
	assert.ErrorIs(t, err, domain.ErrNoActiveAuthorization)

	events, err := fx.store.ListEvents(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindMonitorWithoutMode, events[0].Kind)
	assert.Empty(t, fx.store.Recordings())
}

func TestMonitor_CaptureFailureAudited(t *testing.T) {
	window := openWindow(t)
	fx := newMonitorFixture(t, window, failingSource{})

	_, err := fx.monitor.Start(context.Background(), "subj-1", "op-1", 30)
	require.NoError(t, err) // Сам старт успешен, падает фоновый захват

	fx.monitor.Drain()

	assert.Empty(t, fx.store.Recordings())
	events, err := fx.store.ListEvents(context.Background(), "act-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.KindAudioFailed, events[1].Kind)
}
