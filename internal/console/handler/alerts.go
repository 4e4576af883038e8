package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/secwatch/internal/console/service"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/repository/postgres"
)

type AlertHandler struct {
	service *service.AlertService
}

func NewAlertHandler(s *service.AlertService) *AlertHandler {
	return &AlertHandler{service: s}
}

// List возвращает алерты с фильтрацией
// GET /v1/alerts?type=...&severity=...&status=...&subject=...&since=...
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := postgres.AlertFilter{
		Type:     q.Get("type"),
		Severity: domain.Severity(q.Get("severity")),
		Status:   domain.AlertStatus(q.Get("status")),
		Subject:  q.Get("subject"),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		f.From = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	alerts, err := h.service.List(r.Context(), f)
	if err != nil {
		http.Error(w, "Failed to fetch alerts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

// Acknowledge — POST /v1/alerts/{id}/ack
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Acknowledge)
}

// Resolve — POST /v1/alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Resolve)
}

func (h *AlertHandler) changeStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, operatorID string) error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "alert id is required", http.StatusBadRequest)
		return
	}
	operatorID, _ := r.Context().Value("user_id").(string)

	if err := op(r.Context(), id, operatorID); err != nil {
		switch {
		case errors.Is(err, service.ErrAlertNotFound):
			http.Error(w, "alert not found", http.StatusNotFound)
		case errors.Is(err, service.ErrBadStatusChange):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
