package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/secwatch/internal/console/service"
	"go.uber.org/zap"
)

type BlockHandler struct {
	service *service.BlockService
	logger  *zap.Logger
}

func NewBlockHandler(s *service.BlockService, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{service: s, logger: logger}
}

type blockRequest struct {
	Address         string `json:"address"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Block — POST /v1/blocklist: ручная блокировка адреса.
// Дожидаемся и Redis, и публикации, прежде чем отвечать оператору.
func (h *BlockHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	operatorID, _ := r.Context().Value("user_id").(string)

	err := h.service.BlockAddress(r.Context(), req.Address, req.Reason, operatorID,
		time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		h.logger.Error("manual block failed", zap.String("addr", req.Address), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unblock — DELETE /v1/blocklist/{address}
func (h *BlockHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if addr == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}

	if err := h.service.UnblockAddress(r.Context(), addr); err != nil {
		h.logger.Error("manual unblock failed", zap.String("addr", addr), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnlockUser — POST /v1/users/{id}/unlock: снятие lockout с аккаунта
func (h *BlockHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.UnlockAccount(r.Context(), id); err != nil {
		h.logger.Error("account unlock failed", zap.String("user_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
