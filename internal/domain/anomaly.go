package domain

import "time"

// Типы аномалий. Реактивные детекторы и sweep-детекторы могут выдавать
// один и тот же тип (например, brute_force_attack) — дедупликация в
// диспетчере схлопнет повторы по (type, subject).
const (
	TypeRateLimitExceeded  = "rate_limit_exceeded"
	TypeBruteForceAttack   = "brute_force_attack"
	TypeFailedLogins       = "multiple_failed_logins"
	TypeSuspiciousIP       = "suspicious_ip"
	TypeRapidActions       = "rapid_actions"
	TypeLocationAnomaly    = "location_anomaly"
	TypeConcurrentSessions = "concurrent_sessions"
	TypePrivilegeEscalation = "privilege_escalation"
	TypeBulkDataAccess     = "bulk_data_access"
	TypeIPMultiAccount     = "ip_multi_account"
	TypeActivitySpike      = "activity_spike"
	TypeOffHoursActivity   = "off_hours_activity"
	TypeUnusualLoginTime   = "unusual_login_time"
)

// Subject — кого касается аномалия. Identifier — это сетевой адрес или
// иной субъект лимитирования, ActorID — аутентифицированный пользователь.
// Допустимо заполнение только одного из полей.
type Subject struct {
	Identifier string `json:"identifier,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

// Key — каноническое представление для ключа дедупликации
func (s Subject) Key() string {
	if s.Identifier != "" {
		return s.Identifier
	}
	return s.ActorID
}

// Anomaly — результат работы детектора. Живет только в памяти между
// детекцией и диспатчем; персистентная форма — SecurityAlert.
type Anomaly struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Evidence   map[string]interface{} `json:"evidence,omitempty"`
	Severity   Severity               `json:"severity"`
	Subject    Subject                `json:"subject"`
	DetectedAt time.Time              `json:"detected_at"`
}

// SecurityAlert — персистентная запись об аномалии/нарушении.
// Никогда не удаляется автоматически.
type SecurityAlert struct {
	ID             string                 `json:"id"` // UUID
	Type           string                 `json:"type"`
	Message        string                 `json:"message"`
	Evidence       map[string]interface{} `json:"evidence,omitempty"`
	Severity       Severity               `json:"severity"`
	Subject        Subject                `json:"subject"`
	Status         AlertStatus            `json:"status"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	DetectedAt     time.Time              `json:"detected_at"`
	CreatedAt      time.Time              `json:"created_at"`
}
