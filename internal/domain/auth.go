package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`   // admin / analyst / viewer
	Scopes map[string]bool `json:"scopes"` // "alerts.write": true и т.п.
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	Username       string          `json:"username"`
	PasswordHash   string          `json:"-"` // Никогда не отправляем на фронт
	Role           string          `json:"role"`
	OrganizationID string          `json:"organization_id"`
	Scopes         map[string]bool `json:"scopes"`

	// Блокировка аккаунта (lockout) — выставляется диспетчером алертов
	// при повторных multiple_failed_logins. Снимается только оператором.
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	LockReason string     `json:"lock_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocked — активна ли блокировка доступа
func (u *User) IsLocked() bool {
	return u != nil && u.LockedAt != nil
}
