package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DatabasePath string

	JWTSecret string

	CORSOrigins []string

	// Attachment pipeline.
	MaxAttachmentBytes int64
	UploadRetries      int

	// Typing presence. StalenessWindow must be >= IdleAfter.
	TypingIdleAfter       time.Duration
	TypingStalenessWindow time.Duration

	// Blob store (S3-compatible). Uploads are disabled when Endpoint is empty.
	S3Endpoint      string
	S3UseSSL        bool
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string

	// Optional Kafka fan-out of bus events for other service instances.
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() (*Config, error) {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		AppName: getEnv("APP_NAME", "farmchat"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DatabasePath: getEnv("DATABASE_PATH", "farmchat.db"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		MaxAttachmentBytes: int64(getEnvAsInt("MAX_ATTACHMENT_MB", 10)) << 20,
		UploadRetries:      getEnvAsInt("UPLOAD_RETRIES", 2),

		TypingIdleAfter:       time.Duration(getEnvAsInt("TYPING_IDLE_SECONDS", 2)) * time.Second,
		TypingStalenessWindow: time.Duration(getEnvAsInt("TYPING_STALE_SECONDS", 5)) * time.Second,

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3UseSSL:        getEnvAsBool("S3_USE_SSL", false),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "farmchat-media"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		KafkaTopic: getEnv("KAFKA_TOPIC", "farmchat.events"),
	}

	if cors := getEnv("CORS_ORIGINS", ""); cors != "" {
		cfg.CORSOrigins = splitAndTrim(cors)
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.TypingStalenessWindow < cfg.TypingIdleAfter {
		cfg.TypingStalenessWindow = cfg.TypingIdleAfter
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
