package emergency

/*
Файл decoder.go реализует Subject Decoder — сборку деанонимизированного
профиля субъекта под активным окном.

Правила:
- Любой вызов (успех или отказ) пишет ровно одно событие аудита до возврата.
  Отказ записи в журнал — отказ всей операции (fail-closed).
- Декодировать может только оператор, открывший окно.
- Внешние лукапы (гео, сеть) идут с ограниченным таймаутом и деградируют
  в partial-поля с маркером ошибки; сам decode из-за них не падает.
- Каждый вызов порождает новую независимую запись DecodedSubjectRecord,
  дедупликации нет: столько записей, сколько было доступов.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/keys"
)

// WindowProvider — доступ к снимку активного окна и его ключу.
type WindowProvider interface {
	Snapshot() (*domain.Activation, *keys.DerivedKey, error)
}

// SubjectStore — таблицы коллабораторов с данными субъекта.
type SubjectStore interface {
	GetProfile(ctx context.Context, subjectID string) (*domain.SubjectProfile, error)
	GetLatestDeviceSession(ctx context.Context, subjectID string) (*domain.DeviceSession, error)
	GetObservedIPs(ctx context.Context, subjectID string) ([]string, error)
	ListReports(ctx context.Context, subjectID string) ([]domain.ReportSummary, error)
	CreateDecodedRecord(ctx context.Context, rec *domain.DecodedSubjectRecord) error
}

// GeoResolver — внешний обратный геокодер (best-effort).
type GeoResolver interface {
	Reverse(ctx context.Context, lat, lon *float64) domain.Location
}

// NetworkResolver — внешняя классификация сети (best-effort).
type NetworkResolver interface {
	Classify(ctx context.Context, currentIP string, observedIPs []string) domain.NetworkInfo
}

type Decoder struct {
	window  WindowProvider
	store   SubjectStore
	geo     GeoResolver
	network NetworkResolver
	ledger  Ledger
	metrics *Metrics
	logger  *zap.Logger

	lookupTimeout time.Duration
}

func NewDecoder(
	window WindowProvider,
	store SubjectStore,
	geo GeoResolver,
	network NetworkResolver,
	ledger Ledger,
	metrics *Metrics,
	logger *zap.Logger,
	lookupTimeout time.Duration,
) *Decoder {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Decoder{
		window:        window,
		store:         store,
		geo:           geo,
		network:       network,
		ledger:        ledger,
		metrics:       metrics,
		logger:        logger.Named("decoder"),
		lookupTimeout: lookupTimeout,
	}
}

// Decode собирает деанонимизированный профиль субъекта.
func (d *Decoder) Decode(ctx context.Context, subjectID, requesterID string) (*domain.DecodedSubjectRecord, error) {
	// 1. Окно должно быть активно (снимок, без мутаций состояния)
	act, key, err := d.window.Snapshot()
	if err != nil {
		d.metrics.DecodesTotal.WithLabelValues("denied").Inc()
		if _, recErr := d.ledger.Record(ctx, audit.Event{
			Kind: audit.KindDecodeWithoutMode,
			Details: map[string]interface{}{
				"subject_id":   subjectID,
				"requester_id": requesterID,
			},
		}); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrNoActiveAuthorization
	}

	// 2. Декодирует только активировавший оператор.
	// UNAUTHORIZED_DECODE_ATTEMPT эскалируется журналом синхронно
	if requesterID != act.ActivatedBy {
		d.metrics.DecodesTotal.WithLabelValues("denied").Inc()
		if _, recErr := d.ledger.Record(ctx, audit.Event{
			Kind:         audit.KindUnauthorizedDecode,
			ActivationID: act.ID,
			Details: map[string]interface{}{
				"subject_id":   subjectID,
				"requester_id": requesterID,
				"activated_by": act.ActivatedBy,
			},
		}); recErr != nil {
			return nil, recErr
		}
		return nil, domain.ErrRequesterMismatch
	}

	// 3. Профиль — единственный обязательный источник
	profile, err := d.store.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, d.fail(ctx, act.ID, subjectID, fmt.Errorf("subject profile lookup failed: %w", err))
	}

	rec := &domain.DecodedSubjectRecord{
		ID:           uuid.New().String(),
		ActivationID: act.ID,
		SubjectID:    subjectID,
		DecodedBy:    requesterID,
		RealName:     profile.RealName,
		DecodedAt:    time.Now().UTC(),
	}
	if rec.RealName == "" {
		rec.RealName = profile.Pseudonym
	}

	// 4. Телефон хранится шифртекстом; раскрываем под ключом окна.
	// Неудача расшифровки — деградация поля, не отказ decode
	if len(profile.PhoneEncrypted) > 0 {
		if phone, err := key.Open(profile.PhoneEncrypted); err == nil {
			rec.PhoneNumber = string(phone)
		} else {
			d.logger.Warn("phone decryption degraded",
				zap.String("subject_id", subjectID),
				zap.Error(err))
		}
	}

	// 5. Устройство и сеть — best-effort из последней сессии
	// Отсутствие сессий у субъекта — штатный случай (nil, nil), не ошибка
	session, err := d.store.GetLatestDeviceSession(ctx, subjectID)
	if err != nil || session == nil {
		if err != nil {
			d.logger.Warn("device session lookup degraded", zap.Error(err))
		}
		session = &domain.DeviceSession{DeviceID: "UNKNOWN"}
	}
	rec.Device = parseDevice(session)

	observed, err := d.store.GetObservedIPs(ctx, subjectID)
	if err != nil {
		d.logger.Warn("observed ips lookup degraded", zap.Error(err))
	}

	// Внешние лукапы никогда не держат блокировку активации и ограничены
	// собственным таймаутом
	lookupCtx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	rec.Network = d.network.Classify(lookupCtx, session.IPAddress, observed)
	rec.Location = d.geo.Reverse(lookupCtx, session.Latitude, session.Longitude)

	// 6. История сигналов субъекта
	if reports, err := d.store.ListReports(ctx, subjectID); err != nil {
		d.logger.Warn("report history lookup degraded", zap.Error(err))
		rec.Reports = []domain.ReportSummary{}
	} else {
		rec.Reports = reports
	}

	// 7. Персистентность результата (фатальна при отказе)
	if err := d.store.CreateDecodedRecord(ctx, rec); err != nil {
		return nil, d.fail(ctx, act.ID, subjectID, fmt.Errorf("decoded record not persisted: %w", err))
	}

	// 8. Fail-closed аудит успеха
	if _, err := d.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindUserDataDecoded,
		ActivationID: act.ID,
		Details: map[string]interface{}{
			"subject_id":   subjectID,
			"requester_id": requesterID,
			"record_id":    rec.ID,
		},
	}); err != nil {
		return nil, err
	}

	d.metrics.DecodesTotal.WithLabelValues("success").Inc()
	d.logger.Warn("subject data decoded",
		zap.String("subject_id", subjectID),
		zap.String("activation_id", act.ID),
		zap.String("record_id", rec.ID))

	return rec, nil
}

// fail пишет событие об ошибке декодирования и возвращает исходную причину.
func (d *Decoder) fail(ctx context.Context, activationID, subjectID string, cause error) error {
	d.metrics.DecodesTotal.WithLabelValues("failed").Inc()
	if _, recErr := d.ledger.Record(ctx, audit.Event{
		Kind:         audit.KindDecodeFailed,
		ActivationID: activationID,
		Details: map[string]interface{}{
			"subject_id": subjectID,
			"error":      cause.Error(),
		},
	}); recErr != nil {
		return recErr
	}
	return cause
}

// parseDevice разбирает User-Agent последней сессии в атрибуты устройства.
func parseDevice(session *domain.DeviceSession) domain.DeviceInfo {
	info := domain.DeviceInfo{DeviceID: session.DeviceID}
	if session.UserAgent == "" {
		return info
	}

	ua := useragent.New(session.UserAgent)
	info.Platform = ua.Platform()
	info.OS = ua.OS()
	info.Mobile = ua.Mobile()
	info.Bot = ua.Bot()
	browser, _ := ua.Browser()
	info.Browser = browser
	return info
}
