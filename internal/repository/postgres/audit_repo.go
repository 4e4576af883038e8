package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/secwatch/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// AuditRepo — журнал аудита в Postgres. Таблица audit_events append-only,
// seq BIGSERIAL дает стабильный порядок внутри одинаковых occurred_at.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) *AuditRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main мы проверим соединение через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}
}

const auditColumns = "id, trace_id, actor_id, action, resource_type, resource_id, organization_id, ip_address, severity, category, details, occurred_at"

// Record — синхронная вставка одного события (горячий путь движка)
func (r *AuditRepo) Record(ctx context.Context, e *audit.AuditEvent) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	details, _ := json.Marshal(e.Details)

	query := fmt.Sprintf(`INSERT INTO audit_events (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`, auditColumns)

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.TraceID, e.ActorID, e.Action, e.ResourceType, e.ResourceID,
		e.OrganizationID, e.IPAddress, e.Severity, e.Category, details, e.OccurredAt,
	).Scan(&e.Seq)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to record audit event: %w", err)
	}
	return e.ID, nil
}

// WriteBatch — пакетная вставка для асинхронного Recorder'а
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events (без seq)
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.ID, e.TraceID, e.ActorID, e.Action, e.ResourceType, e.ResourceID,
			e.OrganizationID, e.IPAddress, e.Severity, e.Category, details, e.OccurredAt,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_events (%s) VALUES %s",
		auditColumns,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// Query возвращает события по фильтру, отсортированные по (occurred_at, seq)
func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	where, args := buildAuditWhere(f)

	order := "ASC"
	if f.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf("SELECT %s, seq FROM audit_events %s ORDER BY occurred_at %s, seq %s",
		auditColumns, where, order, order)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit query failed: %w", err)
	}
	defer rows.Close()

	var out []audit.AuditEvent
	for rows.Next() {
		var e audit.AuditEvent
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.OrganizationID, &e.IPAddress, &e.Severity, &e.Category, &details, &e.OccurredAt, &e.Seq,
		); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count — то же условие, что и Query, но одним числом (для детекторов)
func (r *AuditRepo) Count(ctx context.Context, f audit.Filter) (int64, error) {
	where, args := buildAuditWhere(f)

	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: audit count failed: %w", err)
	}
	return n, nil
}

// Ping проверяет доступность базы при старте
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func buildAuditWhere(f audit.Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.ExcludeCategory != "" {
		add("category <> $%d", f.ExcludeCategory)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
