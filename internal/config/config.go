package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	QRSecret   string
	QRTokenTTL time.Duration

	JWTSecret        string
	JWTRefreshSecret string
	TokenTTL         time.Duration
	RefreshTokenTTL  time.Duration

	AllowDegradedVerify bool

	CacheTTL time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	StoreTimeout time.Duration
}

func Load() Config {
	port := os.Getenv("ACCESS_PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		QRSecret:   readString("QR_SECRET", "dev-qr-secret"),
		QRTokenTTL: time.Duration(readInt("QR_TOKEN_TTL_MINUTES", 60)) * time.Minute,

		JWTSecret:        readString("JWT_SECRET", "dev-jwt-secret"),
		JWTRefreshSecret: readString("JWT_REFRESH_SECRET", "dev-jwt-refresh-secret"),
		TokenTTL:         time.Duration(readInt("JWT_TTL_MINUTES", 60)) * time.Minute,
		RefreshTokenTTL:  time.Duration(readInt("JWT_REFRESH_TTL_MINUTES", 7*24*60)) * time.Minute,

		AllowDegradedVerify: readBool("ALLOW_DEGRADED_VERIFY", false),

		CacheTTL: time.Duration(readInt("CACHE_TTL_SECONDS", 300)) * time.Second,

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 300),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 60),

		StoreTimeout: time.Duration(readInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,
	}
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
