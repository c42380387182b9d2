package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// AuditReader — надзорные выгрузки из append-only хранилища
type AuditReader interface {
	ListEvents(ctx context.Context, activationID string, limit int) ([]audit.Event, error)
	ListActivations(ctx context.Context, limit int) ([]*domain.Activation, error)
}

type AuditHandler struct {
	reader AuditReader
}

func NewAuditHandler(reader AuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// ListEvents отдает журнал в порядке цепочки (старые первыми), чтобы выгрузку
// можно было верифицировать по хешам.
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	activationID := r.URL.Query().Get("activation_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.reader.ListEvents(r.Context(), activationID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *AuditHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.reader.ListActivations(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
