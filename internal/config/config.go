package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	ServerAddr  string
	Env         string
	LogLevel    string

	DatabaseURL string

	JWTAccessSecret  []byte
	JWTRefreshSecret []byte
	OtpSecret        []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	ThrottleWindow time.Duration
	ThrottleMax    int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	KafkaBrokers  []string
	SecurityTopic string
}

func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		ServiceName: EnvDefault("SERVICE_NAME", "taskdeck-auth"),
		ServerAddr:  EnvDefault("SERVER_ADDR", ":8080"),
		Env:         EnvDefault("APP_ENV", "dev"),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret:  []byte(os.Getenv("JWT_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		OtpSecret:        []byte(os.Getenv("OTP_SECRET")),

		AccessTTL:  EnvDurationDefault("ACCESS_TTL", 15*time.Minute),
		RefreshTTL: EnvDurationDefault("REFRESH_TTL", 7*24*time.Hour),

		ThrottleWindow: EnvDurationDefault("LOGIN_THROTTLE_WINDOW", 15*time.Minute),
		ThrottleMax:    EnvIntDefault("LOGIN_THROTTLE_MAX", 5),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     EnvIntDefault("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     EnvDefault("SMTP_FROM", "no-reply@taskdeck.local"),

		KafkaBrokers:  CSV(os.Getenv("KAFKA_BROKERS")),
		SecurityTopic: EnvDefault("SECURITY_EVENTS_TOPIC", "security_events"),
	}
}

// MustValidate refuses to start with an empty secret in any environment.
// There is deliberately no compiled-in development fallback.
func (c Config) MustValidate() {
	MustNonEmptyBytes(c.JWTAccessSecret, "JWT_SECRET")
	MustNonEmptyBytes(c.JWTRefreshSecret, "JWT_REFRESH_SECRET")
	MustNonEmptyBytes(c.OtpSecret, "OTP_SECRET")
	MustNonEmpty(c.DatabaseURL, "DATABASE_URL")
}

func (c Config) IsProd() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func MustNonEmpty(value, envName string) {
	if value == "" {
		log.Fatalf("missing required env %s", envName)
	}
}

func MustNonEmptyBytes(value []byte, envName string) {
	if len(value) == 0 {
		log.Fatalf("missing required env %s", envName)
	}
}
