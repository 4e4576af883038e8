package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/xela07ax/secwatch/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// UserRepo — справочник пользователей: аутентификация консоли,
// роли/организации для детектора privilege escalation и lockout.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(connString string) *UserRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &UserRepo{db: db}
}

const userColumns = "id, email, username, password_hash, role, organization_id, scopes, locked_at, lock_reason, created_at, updated_at"

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE username = $1", userColumns)
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// ActorRole — роль пользователя для проверок прав. Неизвестный
// пользователь — пустая роль, не ошибка.
func (r *UserRepo) ActorRole(ctx context.Context, actorID string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = $1", actorID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("postgres: role lookup failed: %w", err)
	}
	return role, nil
}

// ActorOrganization — организация пользователя
func (r *UserRepo) ActorOrganization(ctx context.Context, actorID string) (string, error) {
	var org string
	err := r.db.QueryRowContext(ctx, "SELECT organization_id FROM users WHERE id = $1", actorID).Scan(&org)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("postgres: organization lookup failed: %w", err)
	}
	return org, nil
}

// LockActor блокирует учетную запись. Идемпотентно: повторная блокировка
// уже заблокированного пользователя не меняет момент блокировки.
func (r *UserRepo) LockActor(ctx context.Context, actorID, reason string) error {
	query := `UPDATE users
		SET locked_at = COALESCE(locked_at, NOW()), lock_reason = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, reason, actorID)
	if err != nil {
		return fmt.Errorf("postgres: failed to lock account: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: user %s not found", actorID)
	}
	return nil
}

// UnlockActor снимает блокировку (операторская ручка консоли)
func (r *UserRepo) UnlockActor(ctx context.Context, actorID string) error {
	query := `UPDATE users SET locked_at = NULL, lock_reason = '', updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, actorID)
	if err != nil {
		return fmt.Errorf("postgres: failed to unlock account: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: user %s not found", actorID)
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepo) scanUser(row *sql.Row) (*domain.User, error) {
	u := &domain.User{}
	var scopes []byte
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.OrganizationID,
		&scopes, &u.LockedAt, &u.LockReason, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(scopes) > 0 {
		_ = json.Unmarshal(scopes, &u.Scopes)
	}
	return u, nil
}
