// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors AppConfig for the optional YAML config file. Pointer
// fields distinguish "unset" from zero values; duration fields are strings in
// Go duration format.
type fileConfig struct {
	DataDir    string `yaml:"dataDir"`
	ListenAddr string `yaml:"listen"`
	LogLevel   string `yaml:"logLevel"`

	Workers   *int   `yaml:"workers"`
	Store     string `yaml:"store"`
	StorePath string `yaml:"storePath"`

	OpenAIBaseURL string   `yaml:"openaiBaseURL"`
	Model         string   `yaml:"model"`
	VisionTimeout string   `yaml:"visionTimeout"`
	VisionRPS     *float64 `yaml:"visionRPS"`

	PlantUMLJar   string `yaml:"plantumlJar"`
	JavaBin       string `yaml:"javaBin"`
	RenderTimeout string `yaml:"renderTimeout"`

	RateLimit      *bool  `yaml:"rateLimit"`
	RateLimitRPM   *int   `yaml:"rateLimitRPM"`
	AllowedOrigins string `yaml:"allowedOrigins"`

	MetricsEnabled *bool  `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`

	Cache     string `yaml:"cache"`
	CacheTTL  string `yaml:"cacheTTL"`
	RedisAddr string `yaml:"redisAddr"`

	ReqRankEnabled *bool  `yaml:"reqrankEnabled"`
	ReqRankDB      string `yaml:"reqrankDB"`
}

// Loader loads configuration from an optional YAML file plus environment.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a loader. An empty path skips file loading.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load reads the config file (if configured), layers environment variables on
// top and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	var f fileConfig
	if l.path != "" {
		raw, err := os.ReadFile(l.path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return AppConfig{}, fmt.Errorf("parse config file %s: %w", l.path, err)
		}
	}

	cfg := fromEnvWithFile(l.version, f)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
