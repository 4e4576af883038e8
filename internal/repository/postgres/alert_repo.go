package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/secwatch/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// AlertRepo — security_alerts: алерты никогда не удаляются, меняется
// только статус (active -> acknowledged -> resolved).
type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(connString string) *AlertRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AlertRepo{db: db}
}

func (r *AlertRepo) Insert(ctx context.Context, a *domain.SecurityAlert) error {
	evidence, _ := json.Marshal(a.Evidence)

	query := `INSERT INTO security_alerts
		(id, type, message, evidence, severity, subject_identifier, subject_actor_id, status, organization_id, detected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Type, a.Message, evidence, a.Severity,
		a.Subject.Identifier, a.Subject.ActorID, a.Status, a.OrganizationID,
		a.DetectedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert alert: %w", err)
	}
	return nil
}

// UpdateStatus — ack/resolve с фиксацией оператора
func (r *AlertRepo) UpdateStatus(ctx context.Context, id string, status domain.AlertStatus, operatorID string) error {
	query := `UPDATE security_alerts
		SET status = $1, updated_by = $2, updated_at = NOW()
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, operatorID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update alert status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("postgres: alert %s not found", id)
	}
	return nil
}

// AlertFilter — условия выборки для консоли
type AlertFilter struct {
	Type     string
	Severity domain.Severity
	Status   domain.AlertStatus
	Subject  string // identifier либо actor_id
	From     time.Time
	Limit    int
}

func (r *AlertRepo) List(ctx context.Context, f AlertFilter) ([]domain.SecurityAlert, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Subject != "" {
		args = append(args, f.Subject)
		conds = append(conds, fmt.Sprintf("(subject_identifier = $%d OR subject_actor_id = $%d)", len(args), len(args)))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}

	query := `SELECT id, type, message, evidence, severity, subject_identifier, subject_actor_id, status, organization_id, detected_at, created_at
		FROM security_alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: alert list failed: %w", err)
	}
	defer rows.Close()

	var out []domain.SecurityAlert
	for rows.Next() {
		var a domain.SecurityAlert
		var evidence []byte
		if err := rows.Scan(
			&a.ID, &a.Type, &a.Message, &evidence, &a.Severity,
			&a.Subject.Identifier, &a.Subject.ActorID, &a.Status, &a.OrganizationID,
			&a.DetectedAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(evidence) > 0 {
			_ = json.Unmarshal(evidence, &a.Evidence)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AlertRepo) GetByID(ctx context.Context, id string) (*domain.SecurityAlert, error) {
	query := `SELECT id, type, message, evidence, severity, subject_identifier, subject_actor_id, status, organization_id, detected_at, created_at
		FROM security_alerts WHERE id = $1`

	var a domain.SecurityAlert
	var evidence []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Type, &a.Message, &evidence, &a.Severity,
		&a.Subject.Identifier, &a.Subject.ActorID, &a.Status, &a.OrganizationID,
		&a.DetectedAt, &a.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(evidence) > 0 {
		_ = json.Unmarshal(evidence, &a.Evidence)
	}
	return &a, nil
}

// CountRecent — сколько алертов данного типа по субъекту накопилось
// с указанного момента. Порог для ответных мер диспетчера.
func (r *AlertRepo) CountRecent(ctx context.Context, alertType, subjectKey string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM security_alerts
		WHERE type = $1 AND (subject_identifier = $2 OR subject_actor_id = $2) AND created_at >= $3`

	var n int64
	err := r.db.QueryRowContext(ctx, query, alertType, subjectKey, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: alert count failed: %w", err)
	}
	return n, nil
}

// Ping проверяет доступность базы при старте
func (r *AlertRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
