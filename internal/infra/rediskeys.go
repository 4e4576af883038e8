package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных движка в Redis
	RedisNamespace = "secwatch"
)

// Ключи состояния
const (
	// RedisKeyBlockPrefix + адрес — TTL-ключ активной блокировки (значение = причина)
	RedisKeyBlockPrefix = RedisNamespace + ":blocklist:addr:"

	// RedisKeyCounterPrefix — счетчики rate limiter'а: secwatch:rl:<bucket>:<identifier>
	RedisKeyCounterPrefix = RedisNamespace + ":rl:"

	// RedisKeyViolationPrefix — ViolationTracker (скользящее окно нарушений, 1 час)
	RedisKeyViolationPrefix = RedisNamespace + ":violations:"

	// RedisKeyDedupPrefix — окна дедупликации алертов: secwatch:dedup:<type>:<subject>
	RedisKeyDedupPrefix = RedisNamespace + ":dedup:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanBlockList — трансляция блокировок/разблокировок всем инстансам шлюза.
	// Формат сообщения: "<адрес>:true" / "<адрес>:false"
	RedisChanBlockList = RedisNamespace + ":blocklist:signal"
)

// CounterKey собирает ключ счетчика для пары (bucket, identifier)
func CounterKey(bucket, identifier string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyCounterPrefix, bucket, identifier)
}

// ViolationKey — ключ трекера нарушений для идентификатора
func ViolationKey(identifier string) string {
	return RedisKeyViolationPrefix + identifier
}

// BlockKey — TTL-ключ блокировки адреса
func BlockKey(addr string) string {
	return RedisKeyBlockPrefix + addr
}

// DedupKey — ключ окна дедупликации для пары (тип алерта, субъект)
func DedupKey(alertType, subject string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyDedupPrefix, alertType, subject)
}
