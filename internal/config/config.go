package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Kafka       KafkaConfig       `json:"kafka"`
	Logger      LoggerConfig      `json:"logger"`
	Auth        AuthConfig        `json:"auth"`
	Business    BusinessConfig    `json:"business"`
	Pricing     PricingConfig     `json:"pricing"`
	Pix         PixConfig         `json:"pix"`
	Telegram    TelegramConfig    `json:"telegram"`
	Sweeper     SweeperConfig     `json:"sweeper"`
	Dashboard   DashboardConfig   `json:"dashboard"`
	Cache       CacheConfig       `json:"cache"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Idempotency IdempotencyConfig `json:"idempotency"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host           string `json:"host"`
	Port           string `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	DBName         string `json:"db_name"`
	SSLMode        string `json:"ssl_mode"`
	MaxOpenConns   int    `json:"max_open_conns"`
	MaxIdleConns   int    `json:"max_idle_conns"`
	AutoMigrate    bool   `json:"auto_migrate"`
	ConnMaxLifeMin int    `json:"conn_max_life_min"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Sessions    string `json:"sessions"`
	Purchases   string `json:"purchases"`
	Consultants string `json:"consultants"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// AuthConfig описывает проверку токенов провайдера аутентификации
type AuthConfig struct {
	JWTSecret  string `json:"-"`
	ServiceKey string `json:"-"`
	AdminRole  string `json:"admin_role"`
}

// BusinessConfig хранит бизнес-правила консультаций. Может быть переопределён YAML-файлом.
type BusinessConfig struct {
	MinSessionMinutes     int    `json:"min_session_minutes" yaml:"min_session_minutes"`
	MaxSessionMinutes     int    `json:"max_session_minutes" yaml:"max_session_minutes"`
	BonusMinutes          int    `json:"bonus_minutes" yaml:"bonus_minutes"`
	ConsultantBusyMinutes int    `json:"consultant_busy_minutes" yaml:"consultant_busy_minutes"`
	RulesFile             string `json:"rules_file" yaml:"-"`
}

// PricingConfig хранит тарифы на минуты консультаций
type PricingConfig struct {
	PricePerMinute     float64 `json:"price_per_minute"`
	MinPurchaseMinutes int     `json:"min_purchase_minutes"`
	MaxPurchaseMinutes int     `json:"max_purchase_minutes"`
}

// PixConfig описывает получателя платежей PIX
type PixConfig struct {
	Key          string `json:"key"`
	MerchantName string `json:"merchant_name"`
	MerchantCity string `json:"merchant_city"`
}

// TelegramConfig описывает канал уведомлений операторов
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"-"`
	ChatID   int64  `json:"chat_id"`
}

// SweeperConfig задаёт период фоновой проверки истёкших сессий
type SweeperConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	BatchSize       int  `json:"batch_size"`
}

// DashboardConfig хранит настройки панели администратора
type DashboardConfig struct {
	CacheTTLMinutes       int `json:"cache_ttl_minutes"`
	MaxRangeDays          int `json:"max_range_days"`
	DefaultTopLimit       int `json:"default_top_limit"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// CacheConfig описывает кеширование справочных данных
type CacheConfig struct {
	ConsultantsTTLSeconds int `json:"consultants_ttl_seconds"`
}

// RateLimitConfig описывает настройки rate limiting
type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	KeyPrefix     string `json:"key_prefix"`
}

// IdempotencyConfig описывает хранение ключей идемпотентности
type IdempotencyConfig struct {
	Enabled    bool   `json:"enabled"`
	TTLMinutes int    `json:"ttl_minutes"`
	KeyPrefix  string `json:"key_prefix"`
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "tarot_user"),
			Password:       getEnv("DB_PASSWORD", "tarot_pass"),
			DBName:         getEnv("DB_NAME", "tarot_system"),
			SSLMode:        getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifeMin: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 5),
			AutoMigrate:    getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "tarot-service"),
			Topics: Topics{
				Sessions:    getEnv("KAFKA_TOPIC_SESSIONS", "sessions"),
				Purchases:   getEnv("KAFKA_TOPIC_PURCHASES", "purchases"),
				Consultants: getEnv("KAFKA_TOPIC_CONSULTANTS", "consultants"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
			ServiceKey: getEnv("AUTH_SERVICE_KEY", ""),
			AdminRole:  getEnv("AUTH_ADMIN_ROLE", "admin"),
		},
		Business: BusinessConfig{
			MinSessionMinutes:     getEnvAsInt("SESSION_MIN_MINUTES", 20),
			MaxSessionMinutes:     getEnvAsInt("SESSION_MAX_MINUTES", 180),
			BonusMinutes:          getEnvAsInt("SESSION_BONUS_MINUTES", 5),
			ConsultantBusyMinutes: getEnvAsInt("CONSULTANT_BUSY_MINUTES", 30),
			RulesFile:             getEnv("BUSINESS_RULES_FILE", ""),
		},
		Pricing: PricingConfig{
			PricePerMinute:     getEnvAsFloat("PRICING_PER_MINUTE", 2.5),
			MinPurchaseMinutes: getEnvAsInt("PRICING_MIN_PURCHASE_MINUTES", 20),
			MaxPurchaseMinutes: getEnvAsInt("PRICING_MAX_PURCHASE_MINUTES", 600),
		},
		Pix: PixConfig{
			Key:          getEnv("PIX_KEY", ""),
			MerchantName: getEnv("PIX_MERCHANT_NAME", "TAROT ONLINE"),
			MerchantCity: getEnv("PIX_MERCHANT_CITY", "SAO PAULO"),
		},
		Telegram: TelegramConfig{
			Enabled:  getEnvAsBool("TELEGRAM_ENABLED", false),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnvAsInt64("TELEGRAM_OPERATORS_CHAT_ID", 0),
		},
		Sweeper: SweeperConfig{
			Enabled:         getEnvAsBool("SWEEPER_ENABLED", true),
			IntervalSeconds: getEnvAsInt("SWEEPER_INTERVAL_SECONDS", 30),
			BatchSize:       getEnvAsInt("SWEEPER_BATCH_SIZE", 100),
		},
		Dashboard: DashboardConfig{
			CacheTTLMinutes:       getEnvAsInt("DASHBOARD_CACHE_TTL_MINUTES", 5),
			MaxRangeDays:          getEnvAsInt("DASHBOARD_MAX_RANGE_DAYS", 365),
			DefaultTopLimit:       getEnvAsInt("DASHBOARD_DEFAULT_TOP_LIMIT", 5),
			RequestTimeoutSeconds: getEnvAsInt("DASHBOARD_REQUEST_TIMEOUT_SECONDS", 5),
		},
		Cache: CacheConfig{
			ConsultantsTTLSeconds: getEnvAsInt("CACHE_CONSULTANTS_TTL_SECONDS", 60),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit"),
		},
		Idempotency: IdempotencyConfig{
			Enabled:    getEnvAsBool("IDEMPOTENCY_ENABLED", true),
			TTLMinutes: getEnvAsInt("IDEMPOTENCY_TTL_MINUTES", 60),
			KeyPrefix:  getEnv("IDEMPOTENCY_KEY_PREFIX", "idem"),
		},
	}
}

// LoadBusinessRules накладывает значения из YAML-файла поверх env-настроек.
// Пустой путь не считается ошибкой.
func LoadBusinessRules(path string, rules *BusinessConfig) error {
	if path == "" || rules == nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read business rules file: %w", err)
	}

	overlay := *rules
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse business rules file: %w", err)
	}

	if err := overlay.Validate(); err != nil {
		return err
	}

	overlay.RulesFile = path
	*rules = overlay
	return nil
}

// Validate проверяет согласованность бизнес-правил.
func (b BusinessConfig) Validate() error {
	if b.MinSessionMinutes <= 0 {
		return fmt.Errorf("min_session_minutes must be positive")
	}
	if b.MaxSessionMinutes > 0 && b.MaxSessionMinutes < b.MinSessionMinutes {
		return fmt.Errorf("max_session_minutes must not be less than min_session_minutes")
	}
	if b.BonusMinutes < 0 {
		return fmt.Errorf("bonus_minutes must be non-negative")
	}
	if b.ConsultantBusyMinutes <= 0 {
		return fmt.Errorf("consultant_busy_minutes must be positive")
	}
	return nil
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 нужен для идентификаторов чатов Telegram
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
