// SPDX-License-Identifier: MIT

// Package config loads the umlgrade configuration with the precedence
// ENV > config file > defaults.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// AppConfig holds the effective configuration of the daemon and CLI.
type AppConfig struct {
	Version string

	DataDir    string
	ListenAddr string
	LogLevel   string

	// Task processing
	Workers      int
	StoreBackend string // "json" or "badger"
	StorePath    string

	// Vision model (OpenAI-compatible chat completions endpoint)
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	VisionTimeout time.Duration
	VisionRPS     float64

	// PlantUML renderer
	PlantUMLJar   string
	JavaBin       string
	RenderTimeout time.Duration

	// HTTP hardening
	APIToken         string
	RateLimitEnabled bool
	RateLimitRPM     int
	AllowedOrigins   []string

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// Analysis cache
	CacheBackend  string // "memory", "redis" or "off"
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Requirement ranking app
	ReqRankEnabled bool
	ReqRankDB      string

	// Tracing
	OTelEnabled  bool
	OTelExporter string
	OTelEndpoint string
	OTelSampling float64
}

// FromEnv builds the configuration from environment variables layered over an
// optional config file (see Loader) and built-in defaults.
func FromEnv(version string) AppConfig {
	return fromEnvWithFile(version, fileConfig{})
}

func fromEnvWithFile(version string, f fileConfig) AppConfig {
	dataDir := ParseString("UMLGRADE_DATA", strOr(f.DataDir, "./data"))

	cfg := AppConfig{
		Version: version,

		DataDir:    dataDir,
		ListenAddr: ParseString("UMLGRADE_LISTEN", strOr(f.ListenAddr, ":8080")),
		LogLevel:   ParseString("UMLGRADE_LOG_LEVEL", strOr(f.LogLevel, "info")),

		Workers:      ParseInt("UMLGRADE_WORKERS", intOr(f.Workers, 2)),
		StoreBackend: ParseString("UMLGRADE_STORE", strOr(f.Store, "json")),
		StorePath:    ParseString("UMLGRADE_STORE_PATH", strOr(f.StorePath, "")),

		OpenAIBaseURL: ParseString("OPENAI_BASE_URL", strOr(f.OpenAIBaseURL, "https://api.openai.com/v1")),
		OpenAIAPIKey:  ParseString("OPENAI_API_KEY", ""),
		OpenAIModel:   ParseString("UMLGRADE_MODEL", strOr(f.Model, "gpt-4o")),
		VisionTimeout: ParseDuration("UMLGRADE_VISION_TIMEOUT", durOr(f.VisionTimeout, 120*time.Second)),
		VisionRPS:     ParseFloat("UMLGRADE_VISION_RPS", floatOr(f.VisionRPS, 1)),

		PlantUMLJar:   ParseString("UMLGRADE_PLANTUML_JAR", strOr(f.PlantUMLJar, "plantuml.jar")),
		JavaBin:       ParseString("UMLGRADE_JAVA_BIN", strOr(f.JavaBin, "java")),
		RenderTimeout: ParseDuration("UMLGRADE_RENDER_TIMEOUT", durOr(f.RenderTimeout, 60*time.Second)),

		APIToken:         ParseString("UMLGRADE_API_TOKEN", ""),
		RateLimitEnabled: ParseBool("UMLGRADE_RATE_LIMIT", boolOr(f.RateLimit, true)),
		RateLimitRPM:     ParseInt("UMLGRADE_RATE_LIMIT_RPM", intOr(f.RateLimitRPM, 120)),
		AllowedOrigins:   splitCSV(ParseString("UMLGRADE_ALLOWED_ORIGINS", strOr(f.AllowedOrigins, ""))),

		MetricsEnabled: ParseBool("UMLGRADE_METRICS_ENABLED", boolOr(f.MetricsEnabled, false)),
		MetricsAddr:    ParseString("UMLGRADE_METRICS_ADDR", strOr(f.MetricsAddr, ":9090")),

		CacheBackend:  ParseString("UMLGRADE_CACHE", strOr(f.Cache, "memory")),
		CacheTTL:      ParseDuration("UMLGRADE_CACHE_TTL", durOr(f.CacheTTL, 24*time.Hour)),
		RedisAddr:     ParseString("UMLGRADE_REDIS_ADDR", strOr(f.RedisAddr, "localhost:6379")),
		RedisPassword: ParseString("UMLGRADE_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("UMLGRADE_REDIS_DB", 0),

		ReqRankEnabled: ParseBool("UMLGRADE_REQRANK_ENABLED", boolOr(f.ReqRankEnabled, true)),
		ReqRankDB:      ParseString("UMLGRADE_REQRANK_DB", strOr(f.ReqRankDB, "")),

		OTelEnabled:  ParseBool("UMLGRADE_OTEL_ENABLED", false),
		OTelExporter: ParseString("UMLGRADE_OTEL_EXPORTER", "http"),
		OTelEndpoint: ParseString("UMLGRADE_OTEL_ENDPOINT", "localhost:4318"),
		OTelSampling: ParseFloat("UMLGRADE_OTEL_SAMPLING", 1.0),
	}

	if cfg.StorePath == "" {
		switch cfg.StoreBackend {
		case "badger":
			cfg.StorePath = filepath.Join(cfg.DataDir, "tasks.badger")
		default:
			cfg.StorePath = filepath.Join(cfg.DataDir, "tasks.json")
		}
	}
	if cfg.ReqRankDB == "" {
		cfg.ReqRankDB = filepath.Join(cfg.DataDir, "reqrank.db")
	}

	return cfg
}

// UploadsDir returns the directory task input files are stored under.
func (c AppConfig) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// ResultsDir returns the directory task result files are stored under.
func (c AppConfig) ResultsDir() string {
	return filepath.Join(c.DataDir, "results")
}

// Validate checks the configuration for values that would prevent startup.
func (c AppConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.StoreBackend {
	case "json", "badger":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.CacheBackend {
	case "memory", "redis", "off":
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	u, err := url.Parse(c.OpenAIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid OPENAI_BASE_URL %q: %w", c.OpenAIBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported OPENAI_BASE_URL scheme %q", u.Scheme)
	}
	if c.VisionRPS <= 0 {
		return fmt.Errorf("vision rps must be positive, got %v", c.VisionRPS)
	}
	return nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func strOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func durOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
