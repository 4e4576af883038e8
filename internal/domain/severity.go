package domain

// Severity — порядковая шкала критичности. Порядок важен: он управляет
// маршрутизацией уведомлений и автоматическими ответными мерами.
type Severity string

const (
	SeverityLow      Severity = "low"      // Только в дайджест, без уведомлений
	SeverityMedium   Severity = "medium"   // Уведомление админ-группы
	SeverityHigh     Severity = "high"     // Админ-группа + затронутый пользователь
	SeverityCritical Severity = "critical" // Немедленное оповещение + авто-блокировка
)

// severityRank используется для сравнения (low < medium < high < critical)
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast возвращает true, если s не ниже other по шкале.
// Неизвестная severity трактуется как low (Fail-Safe).
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// AlertStatus — жизненный цикл SecurityAlert.
// Создается active; переходы только через действие оператора в Console API.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)
