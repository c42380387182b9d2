package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
	"github.com/ndjobi-platform/emergency-access/internal/infra/auth"
)

// EmergencyService — что обработчику нужно от менеджера активаций
type EmergencyService interface {
	Activate(ctx context.Context, req domain.ActivationRequest) (string, error)
	Deactivate(ctx context.Context, reason string)
	Status() domain.Status
}

// DecodeService — деанонимизация субъекта
type DecodeService interface {
	Decode(ctx context.Context, subjectID, requesterID string) (*domain.DecodedSubjectRecord, error)
}

// MonitorService — сеансы аудиозахвата
type MonitorService interface {
	Start(ctx context.Context, subjectID, operatorID string, requestedSeconds int) (*domain.SessionHandle, error)
	Stop(recordingID string)
}

type EmergencyHandler struct {
	manager EmergencyService
	decoder DecodeService
	monitor MonitorService
	logger  *zap.Logger
}

func NewEmergencyHandler(manager EmergencyService, decoder DecodeService, monitor MonitorService, logger *zap.Logger) *EmergencyHandler {
	return &EmergencyHandler{
		manager: manager,
		decoder: decoder,
		monitor: monitor,
		logger:  logger.Named("emergency-handler"),
	}
}

// ActivateRequest — тело POST /v1/emergency/activate.
// Секреты живут только в этом запросе: в Activation они не попадают.
type ActivateRequest struct {
	OperatorSecret   string `json:"operator_secret"`
	SecondFactorCode string `json:"second_factor_code"`
	LegalReference   string `json:"legal_reference"`
	JudicialAuthNo   string `json:"judicial_authorization"`
	Reason           string `json:"reason"`
	DurationHours    int    `json:"duration_hours"`
}

func (h *EmergencyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" || req.JudicialAuthNo == "" {
		http.Error(w, "reason and judicial_authorization are required", http.StatusBadRequest)
		return
	}
	if req.DurationHours <= 0 {
		http.Error(w, "duration_hours must be positive", http.StatusBadRequest)
		return
	}

	// Оператор — из проверенного токена, не из тела запроса.
	// Метаданные источника фиксируются для регулятора
	activationID, err := h.manager.Activate(r.Context(), domain.ActivationRequest{
		OperatorID:       claims.OperatorID,
		OperatorSecret:   req.OperatorSecret,
		SecondFactorCode: req.SecondFactorCode,
		LegalReference:   req.LegalReference,
		JudicialAuthNo:   req.JudicialAuthNo,
		Reason:           req.Reason,
		Duration:         time.Duration(req.DurationHours) * time.Hour,
		Metadata: map[string]interface{}{
			"source_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		},
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"activation_id": activationID})
}

type DeactivateRequest struct {
	Reason string `json:"reason"`
}

func (h *EmergencyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "MANUAL_DEACTIVATION"
	}

	// Идемпотентна: деактивация уже закрытого окна — no-op
	h.manager.Deactivate(r.Context(), req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (h *EmergencyHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Status())
}

func (h *EmergencyHandler) Decode(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		http.Error(w, "subjectID is required", http.StatusBadRequest)
		return
	}

	record, err := h.decoder.Decode(r.Context(), subjectID, claims.OperatorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

type MonitorRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

func (h *EmergencyHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		http.Error(w, "subjectID is required", http.StatusBadRequest)
		return
	}

	var req MonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	handle, err := h.monitor.Start(r.Context(), subjectID, claims.OperatorID, req.DurationSeconds)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(handle)
}

func (h *EmergencyHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")
	if recordingID == "" {
		http.Error(w, "recordingID is required", http.StatusBadRequest)
		return
	}

	// Неизвестный id — no-op: сеанс уже завершился таймером
	h.monitor.Stop(recordingID)
	w.WriteHeader(http.StatusNoContent)
}

// writeError маппит доменные ошибки в HTTP-статусы. Детали отказов Gate
// наружу не уходят: вызывающий получает только класс ошибки, подробности —
// в журнале аудита.
func (h *EmergencyHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrRoleMismatch),
		errors.Is(err, domain.ErrSecondFactorInvalid),
		errors.Is(err, domain.ErrJudicialAuthInvalid),
		errors.Is(err, domain.ErrRequesterMismatch):
		http.Error(w, "activation requirements not met", http.StatusForbidden)
	case errors.Is(err, domain.ErrNoActiveAuthorization):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
