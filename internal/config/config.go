// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LarkConfig holds the platform application credentials and endpoints.
type LarkConfig struct {
	BaseURL      string  // open platform API root
	AuthorizeURL string  // user consent page
	AppID        string
	AppSecret    string
	RedirectURL  string  // OAuth callback registered with the platform
	QPS          float64 // outbound request cap (0 disables)
}

// SourceConfig locates the tables the reports read.
type SourceConfig struct {
	SaleBaseID        string
	SaleViewID        string
	SaleTableMarker   string // substring that marks sale tables (default "_")
	CustomerViewID    string
	AppointmentViewID string // default view; a workspace may override it
	NoteViewID        string
}

// ExecConfig sizes the worker pool and the fan-out time budgets.
type ExecConfig struct {
	PoolSize       int           // concurrent partition tasks (default 5)
	ShutdownGrace  time.Duration // drain time before tasks are interrupted (default 5s)
	StrictCancel   bool          // cancel in-flight calls when a wait gives up
	SearchTimeout  time.Duration // first-match search budget (default 60s)
	CombineTimeout time.Duration // mandatory combination budget (default 30s)
	ReportTimeout  time.Duration // report fan-out budget (default 120s)
}

// CredentialConfig tunes credential refresh and rotation.
type CredentialConfig struct {
	SafetyMargin   time.Duration // refresh this close to expiry (default 60s)
	MaxAge         time.Duration // rotate after this long regardless of TTL (default 1h)
	RotateSchedule string        // cron spec for background rotation (default "@every 1h")
}

// Config holds the configuration of the report server.
type Config struct {
	ListenAddr     string // HTTP listen address (default ":8080")
	LogLevel       string // log level: debug, info, warn, error (default "info")
	Env            string // environment: "development" (default) or "production"
	MetaDBPath     string // SQLite file holding the workspace registry
	WorkspacesFile string // optional YAML seed imported at startup

	CacheDir string        // durable report cache directory
	CacheTTL time.Duration // durable entry lifetime (default 1h)

	SessionSecret string        // HS256 key signing session cookies
	SessionTTL    time.Duration // session cookie lifetime (default 24h)

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 20)
	RateLimitBurst int     // burst capacity (default 40)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Lark       LarkConfig
	Sources    SourceConfig
	Exec       ExecConfig
	Credential CredentialConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

const devSessionSecret = "dev-only-session-secret"

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		MetaDBPath:     os.Getenv("META_DB_PATH"),
		WorkspacesFile: os.Getenv("WORKSPACES_FILE"),
		CacheDir:       os.Getenv("CACHE_DIR"),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		Lark: LarkConfig{
			BaseURL:      os.Getenv("LARK_BASE_URL"),
			AuthorizeURL: os.Getenv("LARK_AUTHORIZE_URL"),
			AppID:        os.Getenv("LARK_APP_ID"),
			AppSecret:    os.Getenv("LARK_APP_SECRET"),
			RedirectURL:  os.Getenv("LARK_REDIRECT_URL"),
		},
		Sources: SourceConfig{
			SaleBaseID:        os.Getenv("SALE_BASE_ID"),
			SaleViewID:        os.Getenv("SALE_VIEW_ID"),
			SaleTableMarker:   os.Getenv("SALE_TABLE_MARKER"),
			CustomerViewID:    os.Getenv("CUSTOMER_VIEW_ID"),
			AppointmentViewID: os.Getenv("APPOINTMENT_VIEW_ID"),
			NoteViewID:        os.Getenv("NOTE_VIEW_ID"),
		},
		Exec: ExecConfig{
			StrictCancel: parseBoolEnvDefault("STRICT_CANCEL", false),
		},
		Credential: CredentialConfig{
			RotateSchedule: os.Getenv("CREDENTIAL_ROTATE_SCHEDULE"),
		},
	}

	cfg.Lark.QPS = cfg.envFloat("LARK_QPS", 10)
	cfg.RateLimitRPS = cfg.envFloat("RATE_LIMIT_RPS", 20)
	cfg.RateLimitBurst = cfg.envInt("RATE_LIMIT_BURST", 40)
	cfg.Exec.PoolSize = cfg.envInt("WORKER_POOL_SIZE", 5)
	cfg.Exec.ShutdownGrace = cfg.envDuration("POOL_SHUTDOWN_GRACE", 5*time.Second)
	cfg.Exec.SearchTimeout = cfg.envDuration("SEARCH_TIMEOUT", 60*time.Second)
	cfg.Exec.CombineTimeout = cfg.envDuration("COMBINE_TIMEOUT", 30*time.Second)
	cfg.Exec.ReportTimeout = cfg.envDuration("REPORT_TIMEOUT", 120*time.Second)
	cfg.CacheTTL = cfg.envDuration("CACHE_TTL", time.Hour)
	cfg.SessionTTL = cfg.envDuration("SESSION_TTL", 24*time.Hour)
	cfg.Credential.SafetyMargin = cfg.envDuration("CREDENTIAL_SAFETY_MARGIN", 60*time.Second)
	cfg.Credential.MaxAge = cfg.envDuration("CREDENTIAL_MAX_AGE", time.Hour)

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "report_meta.sqlite"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./data/report-cache"
	}
	if cfg.Lark.BaseURL == "" {
		cfg.Lark.BaseURL = "https://open.larksuite.com"
	}
	if cfg.Lark.AuthorizeURL == "" {
		cfg.Lark.AuthorizeURL = "https://accounts.larksuite.com/open-apis/authen/v1/authorize"
	}
	if cfg.Sources.SaleTableMarker == "" {
		cfg.Sources.SaleTableMarker = "_"
	}
	if cfg.Credential.RotateSchedule == "" {
		cfg.Credential.RotateSchedule = "@every 1h"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Exec.PoolSize < 1 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("WORKER_POOL_SIZE=%d is below 1; using 1", cfg.Exec.PoolSize))
		cfg.Exec.PoolSize = 1
	}
	if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "LARK_APP_ID/LARK_APP_SECRET not set; sign-in will fail")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = devSessionSecret
		cfg.Warnings = append(cfg.Warnings, "SESSION_SECRET not set; using insecure default. Set SESSION_SECRET in production!")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.SessionSecret == devSessionSecret {
			return nil, fmt.Errorf("SESSION_SECRET must be set in production (ENV=production)")
		}
		if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
			return nil, fmt.Errorf("LARK_APP_ID and LARK_APP_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a valid duration; using %s", key, v, def))
		return def
	}
	return d
}

func (c *Config) envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not an integer; using %d", key, v, def))
		return def
	}
	return n
}

func (c *Config) envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a valid number; using %g", key, v, def))
		return def
	}
	return f
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
