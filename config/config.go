package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrNoCredentials API_KEYS 缺失或为空
var ErrNoCredentials = errors.New("configuration error: API_KEYS is missing or empty")

// Config 服务配置
type Config struct {
	Host           string
	Port           string
	RequestTimeout time.Duration
	SessionTimeout time.Duration
	MaxUploadBytes int64
	DevMode        bool
	FrontendDevURL string

	// 模型调用
	APIKeys           []string
	Provider          string
	APIURL            string
	Model             string
	TargetLanguage    string
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	MaxAttempts       int

	// 排版
	FontPath    string
	MaxFontSize int
	MinFontSize int

	LogLevel string
}

// ServerAddress 监听地址
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port))
}

// LoadDotEnv 加载 .env 文件，文件不存在时返回错误但调用方可以忽略
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	return godotenv.Load(filenames...)
}

// Load 从环境变量读取配置并校验
func Load() (*Config, error) {
	cfg := &Config{
		Host:              getEnvOrDefault("HOST", "0.0.0.0"),
		Port:              getEnvOrDefault("PORT", "8080"),
		RequestTimeout:    parseDurationOrDefault("REQUEST_TIMEOUT", 120*time.Second),
		SessionTimeout:    parseDurationOrDefault("SESSION_TIMEOUT", 24*time.Hour),
		MaxUploadBytes:    parseInt64OrDefault("MAX_UPLOAD_MB", 100) << 20,
		DevMode:           os.Getenv("DEV_MODE") == "true",
		FrontendDevURL:    getEnvOrDefault("FRONTEND_DEV_URL", "http://localhost:3000"),
		APIKeys:           splitList(os.Getenv("API_KEYS")),
		Provider:          strings.ToLower(getEnvOrDefault("PROVIDER", "gemini")),
		APIURL:            os.Getenv("API_URL"),
		Model:             getEnvOrDefault("MODEL", "gemini-1.5-pro-latest"),
		TargetLanguage:    getEnvOrDefault("TARGET_LANGUAGE", "Turkish"),
		InitialRetryDelay: parseDurationOrDefault("INITIAL_RETRY_DELAY", 3*time.Second),
		MaxRetryDelay:     parseDurationOrDefault("MAX_RETRY_DELAY", 15*time.Second),
		MaxAttempts:       parseIntOrDefault("MAX_ATTEMPTS", 0),
		FontPath:          getEnvOrDefault("FONT_PATH", "CCComicrazy.ttf"),
		MaxFontSize:       parseIntOrDefault("MAX_FONT_SIZE", 100),
		MinFontSize:       parseIntOrDefault("MIN_FONT_SIZE", 8),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.APIKeys) == 0 {
		return ErrNoCredentials
	}

	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}

	switch c.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported PROVIDER: %q", c.Provider)
	}

	if c.MinFontSize < 1 || c.MaxFontSize < c.MinFontSize {
		return fmt.Errorf("font size range invalid (min=%d, max=%d)", c.MinFontSize, c.MaxFontSize)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 0 (got %d)", c.MaxAttempts)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be > 0")
	}
	if c.MaxRetryDelay < c.InitialRetryDelay {
		return fmt.Errorf("MAX_RETRY_DELAY (%s) must be >= INITIAL_RETRY_DELAY (%s)", c.MaxRetryDelay, c.InitialRetryDelay)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
