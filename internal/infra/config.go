package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/secwatch/internal/domain"
)

// Config — корневая структура конфигурации всего движка.
// Загружается один раз при старте; горячая перезагрузка не поддерживается.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (счетчики, блок-лист, Pub/Sub).
// Пустой Addr переводит движок на in-memory backend (dev/тесты).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT для Console API.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// LimitsConfig — статическая таблица bucket -> правило плюс allow-list.
type LimitsConfig struct {
	// Buckets: login, password_reset, api, audit_access, download, general
	Buckets   map[string]domain.RateLimitRule `mapstructure:"buckets"`
	AllowList []string                        `mapstructure:"allow_list"`

	// EscalationThreshold — сколько нарушений любого лимита за ViolationWindow
	// приводит к эскалации brute_force_attack
	EscalationThreshold int           `mapstructure:"escalation_threshold"`
	ViolationWindow     time.Duration `mapstructure:"violation_window"`
}

// DetectConfig — все численные пороги детекторов. Значения — конфигурация,
// не обучаемая модель.
type DetectConfig struct {
	ReactiveWindow time.Duration `mapstructure:"reactive_window"` // окно реактивных проверок

	FailedLoginThreshold    int `mapstructure:"failed_login_threshold"`    // >=, на актора
	SuspiciousIPThreshold   int `mapstructure:"suspicious_ip_threshold"`   // >=, на IP
	RapidActionsThreshold   int `mapstructure:"rapid_actions_threshold"`   // >=, на актора
	ConcurrentSessionLimit  int `mapstructure:"concurrent_session_limit"`  // строго >, distinct IP за час
	BulkDataAccessThreshold int `mapstructure:"bulk_data_access_threshold"` // строго >, событий за час

	SweepLookback           time.Duration `mapstructure:"sweep_lookback"`
	ClusterFailThreshold    int           `mapstructure:"cluster_fail_threshold"`   // >=, отказов логина с IP за час
	IPMultiAccountThreshold int           `mapstructure:"ip_multi_account_threshold"` // >=, distinct акторов с IP
	SpikeFactor             float64       `mapstructure:"spike_factor"`             // строго >, час к часу
	OffHoursThreshold       int           `mapstructure:"off_hours_threshold"`      // строго >, не-логинов за 30 мин
	OffHoursWindow          time.Duration `mapstructure:"off_hours_window"`

	BusinessHoursStart int `mapstructure:"business_hours_start"` // локальный час, включительно
	BusinessHoursEnd   int `mapstructure:"business_hours_end"`   // локальный час, исключительно

	TypicalHoursMinLogins int           `mapstructure:"typical_hours_min_logins"`
	TypicalHoursCoverage  float64       `mapstructure:"typical_hours_coverage"`
	LoginHistoryWindow    time.Duration `mapstructure:"login_history_window"`

	// AdminActions — действия, доступные только роли admin;
	// вызов без роли = privilege escalation
	AdminActions []string `mapstructure:"admin_actions"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepTimeout  time.Duration `mapstructure:"sweep_timeout"`
}

// AlertConfig — поведение диспетчера алертов.
type AlertConfig struct {
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	AutoBlockDuration time.Duration `mapstructure:"auto_block_duration"`
	LockoutThreshold  int           `mapstructure:"lockout_threshold"`
	LockoutWindow     time.Duration `mapstructure:"lockout_window"`
}

// AuditConfig настраивает асинхронный писатель журнала.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if len(cfg.Limits.Buckets) == 0 {
		cfg.Limits.Buckets = DefaultBuckets()
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

// DefaultBuckets — таблица лимитов по умолчанию. Неизвестный bucket в
// рантайме всегда fail-open, поэтому таблица может быть неполной.
func DefaultBuckets() map[string]domain.RateLimitRule {
	return map[string]domain.RateLimitRule{
		"login":          {Limit: 5, Window: 5 * time.Minute, AuthMultiplier: 1},
		"password_reset": {Limit: 3, Window: 15 * time.Minute, AuthMultiplier: 1},
		"api":            {Limit: 100, Window: time.Minute, AuthMultiplier: 2},
		"audit_access":   {Limit: 30, Window: time.Minute, AuthMultiplier: 1},
		"download":       {Limit: 20, Window: 5 * time.Minute, AuthMultiplier: 2},
		"general":        {Limit: 60, Window: time.Minute, AuthMultiplier: 2},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("limits.escalation_threshold", 5)
	v.SetDefault("limits.violation_window", time.Hour)

	v.SetDefault("detect.reactive_window", 15*time.Minute)
	v.SetDefault("detect.failed_login_threshold", 5)
	v.SetDefault("detect.suspicious_ip_threshold", 10)
	v.SetDefault("detect.rapid_actions_threshold", 20)
	v.SetDefault("detect.concurrent_session_limit", 3)
	v.SetDefault("detect.bulk_data_access_threshold", 50)
	v.SetDefault("detect.sweep_lookback", time.Hour)
	v.SetDefault("detect.cluster_fail_threshold", 10)
	v.SetDefault("detect.ip_multi_account_threshold", 5)
	v.SetDefault("detect.spike_factor", 3.0)
	v.SetDefault("detect.off_hours_threshold", 10)
	v.SetDefault("detect.off_hours_window", 30*time.Minute)
	v.SetDefault("detect.business_hours_start", 8)
	v.SetDefault("detect.business_hours_end", 20)
	v.SetDefault("detect.typical_hours_min_logins", 5)
	v.SetDefault("detect.typical_hours_coverage", 0.8)
	v.SetDefault("detect.login_history_window", 30*24*time.Hour)
	v.SetDefault("detect.admin_actions", []string{
		"user.role.update", "user.delete", "org.settings.update",
		"apikey.create", "blocklist.update",
	})
	v.SetDefault("detect.sweep_interval", 5*time.Minute)
	v.SetDefault("detect.sweep_timeout", 2*time.Minute)

	v.SetDefault("alert.dedup_window", 15*time.Minute)
	v.SetDefault("alert.auto_block_duration", 2*time.Hour)
	v.SetDefault("alert.lockout_threshold", 3)
	v.SetDefault("alert.lockout_window", time.Hour)

	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер: ключ либо напрямую в ENV
// (Docker/K8s), либо файлом по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
