package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Storage       StorageConfig
	Notifications NotificationsConfig
	OTP           OTPConfig
	Mail          MailConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig controls the document blob store and upload policy.
type StorageConfig struct {
	RootDir          string
	MaxImageBytes    int64
	MaxDocumentBytes int64
	MaxBatchBytes    int64
	MaxBatchFiles    int
	SignedURLSecret  string
	SignedURLTTL     time.Duration
}

// NotificationsConfig tunes the delivery pipeline and retry scheduler.
type NotificationsConfig struct {
	MaxRetries        int
	MaxRetryDelay     time.Duration
	SchedulerInterval time.Duration
	QueueWorkers      int
	OutboxInterval    time.Duration
}

// OTPConfig governs the password-reset OTP flow.
type OTPConfig struct {
	ExpiryMinutes     int
	MaxAttempts       int
	MaxPerEmailHourly int
	MaxPerIPHourly    int
}

// MailConfig selects and configures the outgoing email provider.
type MailConfig struct {
	Provider       string
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	SendTimeout    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		RootDir:          v.GetString("STORAGE_ROOT"),
		MaxImageBytes:    v.GetInt64("STORAGE_MAX_IMAGE_BYTES"),
		MaxDocumentBytes: v.GetInt64("STORAGE_MAX_DOCUMENT_BYTES"),
		MaxBatchBytes:    v.GetInt64("STORAGE_MAX_BATCH_BYTES"),
		MaxBatchFiles:    v.GetInt("STORAGE_MAX_BATCH_FILES"),
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		MaxRetries:        v.GetInt("NOTIFY_MAX_RETRIES"),
		MaxRetryDelay:     parseDuration(v.GetString("NOTIFY_MAX_RETRY_DELAY"), 30*time.Second),
		SchedulerInterval: parseDuration(v.GetString("NOTIFY_SCHEDULER_INTERVAL"), 15*time.Second),
		QueueWorkers:      v.GetInt("NOTIFY_QUEUE_WORKERS"),
		OutboxInterval:    parseDuration(v.GetString("NOTIFY_OUTBOX_INTERVAL"), 5*time.Second),
	}

	cfg.OTP = OTPConfig{
		ExpiryMinutes:     v.GetInt("OTP_EXPIRY_MINUTES"),
		MaxAttempts:       v.GetInt("OTP_MAX_ATTEMPTS"),
		MaxPerEmailHourly: v.GetInt("OTP_MAX_PER_EMAIL_HOURLY"),
		MaxPerIPHourly:    v.GetInt("OTP_MAX_PER_IP_HOURLY"),
	}

	cfg.Mail = MailConfig{
		Provider:       v.GetString("MAIL_PROVIDER"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		FromEmail:      v.GetString("MAIL_FROM_EMAIL"),
		SendTimeout:    parseDuration(v.GetString("MAIL_SEND_TIMEOUT"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "slms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_ROOT", "./media")
	v.SetDefault("STORAGE_MAX_IMAGE_BYTES", 5*1024*1024)
	v.SetDefault("STORAGE_MAX_DOCUMENT_BYTES", 10*1024*1024)
	v.SetDefault("STORAGE_MAX_BATCH_BYTES", 100*1024*1024)
	v.SetDefault("STORAGE_MAX_BATCH_FILES", 20)
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "30m")

	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_MAX_RETRY_DELAY", "30s")
	v.SetDefault("NOTIFY_SCHEDULER_INTERVAL", "15s")
	v.SetDefault("NOTIFY_QUEUE_WORKERS", 2)
	v.SetDefault("NOTIFY_OUTBOX_INTERVAL", "5s")

	v.SetDefault("OTP_EXPIRY_MINUTES", 10)
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_MAX_PER_EMAIL_HOURLY", 3)
	v.SetDefault("OTP_MAX_PER_IP_HOURLY", 6)

	v.SetDefault("MAIL_PROVIDER", "console")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "SLMS")
	v.SetDefault("MAIL_FROM_EMAIL", "no-reply@slms.local")
	v.SetDefault("MAIL_SEND_TIMEOUT", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
