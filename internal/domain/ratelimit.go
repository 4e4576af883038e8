package domain

import "time"

// RateLimitRule — правило лимитирования для одного bucket'а.
// Загружается один раз при старте, в рантайме не мутирует.
type RateLimitRule struct {
	Limit          int           `json:"limit" mapstructure:"limit"`
	Window         time.Duration `json:"window" mapstructure:"window"`
	AuthMultiplier float64       `json:"auth_multiplier" mapstructure:"auth_multiplier"`
}

// EffectiveLimit считает действующий лимит с учетом множителя
// для аутентифицированных вызовов.
func (r RateLimitRule) EffectiveLimit(authenticated bool) int {
	if authenticated && r.AuthMultiplier > 1 {
		return int(float64(r.Limit) * r.AuthMultiplier)
	}
	return r.Limit
}

// Decision — результат проверки лимита. При Allowed=false вызывающая
// сторона обязана ответить эквивалентом HTTP 429 и отдать RetryAfter.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}
