package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/secwatch/internal/console/service"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/ratelimit"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password, ratelimit.ClientAddr(r))
	if err != nil {
		if errors.Is(err, service.ErrAccountLocked) {
			http.Error(w, "Account locked", http.StatusForbidden)
			return
		}
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
