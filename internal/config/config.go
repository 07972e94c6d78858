package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Logging
	LogLevel string

	// Revocation
	RedisURL                  string
	RevocationCleanupInterval time.Duration

	// AI
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIModel            string
	OpenAITemperature      float32
	OpenAIMaxTokens        int
	AITimeout              time.Duration
	AIDirective            string
	AIAllowPrivateEndpoint bool

	// WebSocket
	WSSendBuffer     int
	WSWriteTimeout   time.Duration
	WSPongTimeout    time.Duration
	WSMaxMessageSize int64
	WSMaxFrameSize   int64
	WSCloseOnReject  bool

	// Rate Limit (req/min)
	RateLimitGeneral   int
	RateLimitHandshake int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 数値や期間の値が不正な場合はデフォルト値を使用する。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RevocationCleanupInterval = getEnvDuration("REVOCATION_CLEANUP_INTERVAL", time.Minute)

	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAITemperature = getEnvFloat32("OPENAI_TEMPERATURE", 0.4)
	cfg.OpenAIMaxTokens = getEnvInt("OPENAI_MAX_TOKENS", 2048)
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)
	cfg.AIDirective = getEnvString("AI_DIRECTIVE", "@ai")
	cfg.AIAllowPrivateEndpoint = getEnvBool("AI_ALLOW_PRIVATE_ENDPOINT", false)

	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 64)
	cfg.WSWriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second)
	cfg.WSPongTimeout = getEnvDuration("WS_PONG_TIMEOUT", 60*time.Second)
	cfg.WSMaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 65536)
	cfg.WSMaxFrameSize = getEnvInt64("WS_MAX_FRAME_SIZE", 1048576)
	cfg.WSCloseOnReject = getEnvBool("WS_CLOSE_ON_REJECT", false)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitHandshake = getEnvInt("RATE_LIMIT_HANDSHAKE", 30)

	return cfg, nil
}

// AIEnabled は生成バックエンドが設定されているかを返す。
func (c *Config) AIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat32(key string, defaultVal float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return defaultVal
	}
	return float32(f)
}

func getEnvBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
