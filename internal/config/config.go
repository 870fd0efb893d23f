package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
		LogLevel       string   `yaml:"logLevel"`
		PrettyLogs     bool     `yaml:"prettyLogs"`
		// AllowQueryIdentity accepts ?userId=&name= on /ws when no identity headers are set.
		AllowQueryIdentity bool `yaml:"allowQueryIdentity"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Judge struct {
		URL              string `yaml:"url"`
		Timeout          string `yaml:"timeout"`
		RunTimeoutMs     int    `yaml:"runTimeoutMs"`
		CompileTimeoutMs int    `yaml:"compileTimeoutMs"`
	} `yaml:"judge"`
	Challenge struct {
		CacheTTL string `yaml:"cacheTTL"`
		LockTTL  string `yaml:"lockTTL"`
	} `yaml:"challenge"`
}

// Load reads YAML config from path. A missing file yields an empty config,
// which is then completed by environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("JUDGE_URL"); v != "" {
		c.Judge.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("WS_ALLOW_QUERY_IDENTITY"); v != "" {
		c.Server.AllowQueryIdentity = v == "true" || v == "1"
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
