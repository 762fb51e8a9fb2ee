package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// データソースの種類
const (
	DataSourceGraph  = "graph"
	DataSourceStatic = "static"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Data source
	DataSource     string // graph または static
	StaticFallback bool   // 上流取得失敗時に静的データを返す

	// Azure app registration
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
	AzureAuthorityURL string

	// Upstream
	GraphBaseURL          string
	DefenderBaseURL       string
	LicenseSKUIDs         []string // nilの場合は既定のSKU、空の場合は全ユーザー
	AdminEmails           []string
	UpstreamTimeout       time.Duration
	PhotoMaxConcurrent    int
	FetchPhotos           bool
	DefenderPageSize      int
	DefenderRatePerMinute int

	// Sync
	SyncInterval             time.Duration
	SyncHistoryRetentionDays int

	// Rate Limit
	RateLimitGeneral int
	RateLimitRefresh int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load はカレントディレクトリの.envを読み込んだ上で、環境変数からConfigを読み込む。
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile はenvFileを読み込んだ上で、環境変数からConfigを読み込む。
// envFileが存在しない場合は無視する。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}

	cfg.DataSource = strings.ToLower(getEnvString("DATA_SOURCE", DataSourceGraph))
	if cfg.DataSource != DataSourceGraph && cfg.DataSource != DataSourceStatic {
		return nil, fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", DataSourceGraph, DataSourceStatic, cfg.DataSource)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.AzureTenantID = os.Getenv("AZURE_TENANT_ID")
	cfg.AzureClientID = os.Getenv("AZURE_CLIENT_ID")
	cfg.AzureClientSecret = os.Getenv("AZURE_CLIENT_SECRET")
	if cfg.DataSource == DataSourceGraph {
		if cfg.AzureTenantID == "" {
			missing = append(missing, "AZURE_TENANT_ID")
		}
		if cfg.AzureClientID == "" {
			missing = append(missing, "AZURE_CLIENT_ID")
		}
		if cfg.AzureClientSecret == "" {
			missing = append(missing, "AZURE_CLIENT_SECRET")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.StaticFallback = getEnvBool("STATIC_FALLBACK", false)
	cfg.AzureAuthorityURL = getEnvString("AZURE_AUTHORITY_URL", "")
	cfg.GraphBaseURL = getEnvString("GRAPH_BASE_URL", "")
	cfg.DefenderBaseURL = getEnvString("DEFENDER_BASE_URL", "")
	cfg.LicenseSKUIDs = getEnvList("LICENSE_SKU_IDS")
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second)
	cfg.PhotoMaxConcurrent = getEnvInt("PHOTO_MAX_CONCURRENT", 8)
	cfg.FetchPhotos = getEnvBool("FETCH_PHOTOS", true)
	cfg.DefenderPageSize = getEnvInt("DEFENDER_PAGE_SIZE", 1000)
	cfg.DefenderRatePerMinute = getEnvInt("DEFENDER_RATE_PER_MINUTE", 100)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute)
	cfg.SyncHistoryRetentionDays = getEnvInt("SYNC_HISTORY_RETENTION_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRefresh = getEnvInt("RATE_LIMIT_REFRESH", 6)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
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

// getEnvList はカンマ区切りの値をスライスとして返す。
// 未設定の場合はnil、"*"の場合は空スライスを返す。
func getEnvList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	if strings.TrimSpace(v) == "*" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
