package audit

import (
	"context"
	"time"
)

// Category — закрытый перечень категорий событий. Детекторы работают
// table-driven по категориям, а не по цепочкам switch/case на типах.
type Category string

const (
	CategoryAuth       Category = "auth"        // логины, выдача токенов
	CategoryAPI        Category = "api"         // обычные бизнес-вызовы
	CategoryDataAccess Category = "data_access" // чтение/выгрузка данных
	CategoryAdmin      Category = "admin"       // администрирование
	CategorySecurity   Category = "security"    // события самого движка (шум для детекторов)
)

// Канонические имена действий, на которые завязаны реактивные детекторы.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
)

// AuditEvent — неизменяемый факт о действии пользователя. Производится
// бизнес-логикой, движок читает его в режиме read-only.
// Полный порядок: (OccurredAt, Seq) — Seq монотонный tiebreak при вставке.
type AuditEvent struct {
	ID             string                 `json:"id"`       // UUID события
	TraceID        string                 `json:"trace_id"` // Сквозной ID запроса
	ActorID        string                 `json:"actor_id,omitempty"`
	Action         string                 `json:"action"` // например "document.download"
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	Severity       string                 `json:"severity"` // info / warning / critical
	Category       Category               `json:"category"`
	Details        map[string]interface{} `json:"details,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Seq            int64                  `json:"seq"`
}

// IsEngineNoise — события категории security порождает сам движок
// (запись о диспатче алерта). Они исключаются из всех подсчетов
// детекторов, иначе алерт о bulk_data_access сам станет "активностью"
// и зациклит детекцию.
func (e *AuditEvent) IsEngineNoise() bool {
	return e.Category == CategorySecurity
}

// Filter описывает выборку событий по диапазону времени и полям.
// Пустые поля не участвуют в фильтрации.
type Filter struct {
	ActorID         string
	IPAddress       string
	Action          string
	Category        Category
	ExcludeCategory Category // как правило CategorySecurity
	From            time.Time
	To              time.Time
	Limit           int
	Descending      bool // для запросов вида "последний логин перед X"
}

// Querier — read-only доступ к журналу аудита. Query возвращает события,
// упорядоченные по (OccurredAt, Seq) по возрастанию (или убыванию при
// Descending).
type Querier interface {
	Query(ctx context.Context, f Filter) ([]AuditEvent, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// Source — полный контракт внешнего источника событий:
// append-only запись плюс выборки по диапазонам.
type Source interface {
	Record(ctx context.Context, e *AuditEvent) (string, error)
	Querier
}
