package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra/auth"
	"golang.org/x/crypto/bcrypt"
)

type AuthProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// EventLogger — асинхронная запись в журнал аудита
type EventLogger interface {
	Log(e audit.AuditEvent)
}

var ErrAccountLocked = errors.New("account locked")

// AuthService выдает и проверяет токены консоли. Проверка токенов —
// через встроенный BaseValidator, чтобы сервер консоли реализовывал
// auth.TokenValidator без лишнего типа.
type AuthService struct {
	*auth.BaseValidator

	repo       AuthProvider
	auditor    EventLogger
	privateKey *rsa.PrivateKey
}

func NewAuthService(repo AuthProvider, auditor EventLogger, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey) *AuthService {
	return &AuthService{
		BaseValidator: auth.NewBaseValidator(publicKey),
		repo:          repo,
		auditor:       auditor,
		privateKey:    privateKey,
	}
}

// GenerateToken аутентифицирует оператора и подписывает JWT. Каждая
// попытка, удачная или нет, попадает в журнал — по этим событиям работают
// те же детекторы, что и по остальному трафику.
func (s *AuthService) GenerateToken(ctx context.Context, username, password, clientAddr string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (Источник правды — Postgres)
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil || user == nil {
		s.logAttempt("", username, clientAddr, false)
		return nil, errors.New("invalid credentials")
	}

	// 2. Lockout: заблокированный аккаунт не пускаем даже с верным паролем
	if user.IsLocked() {
		s.logAttempt(user.ID, username, clientAddr, false)
		return nil, ErrAccountLocked
	}

	// 3. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logAttempt(user.ID, username, clientAddr, false)
		return nil, errors.New("invalid credentials")
	}

	// 4. Формирование Claims (Scopes берем из прав пользователя в БД)
	expiresAt := time.Now().Add(time.Hour * 24)
	claims := &domain.CustomClaims{
		UserID: user.ID,
		Role:   user.Role,
		Scopes: user.Scopes, // Напр. map[string]bool{"alerts.write": true}
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "secwatch-console",
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 5. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logAttempt(user.ID, username, clientAddr, true)

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

func (s *AuthService) logAttempt(userID, username, clientAddr string, success bool) {
	if s.auditor == nil {
		return
	}
	action := audit.ActionLoginFailure
	if success {
		action = audit.ActionLoginSuccess
	}
	s.auditor.Log(audit.AuditEvent{
		ActorID:   userID,
		Action:    action,
		Category:  audit.CategoryAuth,
		IPAddress: clientAddr,
		Details:   map[string]interface{}{"username": username},
	})
}
