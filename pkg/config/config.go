package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ExtractionConfig bounds one extraction call.
type ExtractionConfig struct {
	CallDeadline    time.Duration `yaml:"call_deadline"`
	DomainTimeout   time.Duration `yaml:"domain_timeout"`
	PageTimeout     time.Duration `yaml:"page_timeout"`
	ExternalTimeout time.Duration `yaml:"external_timeout"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	Workers         int           `yaml:"workers"`
}

type HTTPConfig struct {
	UserAgent    string `yaml:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	MaxRedirects int    `yaml:"max_redirects"`
}

type DNSConfig struct {
	Resolver string `yaml:"resolver"`
}

// RankConfig configures the third-party ranking and index lookups.
type RankConfig struct {
	OpenPageRankURL   string  `yaml:"openpagerank_url"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	WaybackURL        string  `yaml:"wayback_url"`
}

type BlocklistConfig struct {
	FeedPath string `yaml:"feed_path"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	Extraction ExtractionConfig `yaml:"extraction"`
	HTTP       HTTPConfig       `yaml:"http"`
	DNS        DNSConfig        `yaml:"dns"`
	Rank       RankConfig       `yaml:"rank"`
	Blocklist  BlocklistConfig  `yaml:"blocklist"`
	Model      ModelConfig      `yaml:"model"`
	Server     ServerConfig     `yaml:"server"`
}

const (
	EnvAPIKey = "SAFELINK_OPR_API_KEY"
	EnvModel  = "SAFELINK_MODEL"
	EnvPort   = "PORT"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			CallDeadline:    8 * time.Second,
			DomainTimeout:   5 * time.Second,
			PageTimeout:     6 * time.Second,
			ExternalTimeout: 4 * time.Second,
			ProbeTimeout:    250 * time.Millisecond,
			Workers:         8,
		},
		HTTP: HTTPConfig{
			UserAgent:    "Mozilla/5.0 (compatible; safelink/1.0)",
			MaxBodyBytes: 2 << 20,
			MaxRedirects: 10,
		},
		DNS: DNSConfig{
			Resolver: "8.8.8.8:53",
		},
		Rank: RankConfig{
			OpenPageRankURL:   "https://openpagerank.com/api/v1.0/getPageRank",
			RequestsPerSecond: 2,
			WaybackURL:        "https://web.archive.org/cdx/search/cdx",
		},
		Server: ServerConfig{
			Addr:           ":5000",
			AllowedOrigins: []string{"chrome-extension://*", "https://*.onrender.com"},
		},
	}
}

// Load reads a YAML config on top of the defaults. A missing file is not an
// error; the defaults are used. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" by default)
// into the process environment. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Rank.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		c.Server.Addr = ":" + v
	}
}

// Validate rejects budgets that would make extraction unbounded or nested
// timeouts that exceed the call deadline.
func (c *Config) Validate() error {
	e := c.Extraction
	if e.CallDeadline <= 0 {
		return fmt.Errorf("extraction.call_deadline must be positive, got %s", e.CallDeadline)
	}
	for name, d := range map[string]time.Duration{
		"domain_timeout":   e.DomainTimeout,
		"page_timeout":     e.PageTimeout,
		"external_timeout": e.ExternalTimeout,
		"probe_timeout":    e.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("extraction.%s must be positive, got %s", name, d)
		}
		if d > e.CallDeadline {
			return fmt.Errorf("extraction.%s (%s) exceeds call_deadline (%s)", name, d, e.CallDeadline)
		}
	}
	if e.Workers < 1 {
		return fmt.Errorf("extraction.workers must be >= 1, got %d", e.Workers)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be positive")
	}
	if c.DNS.Resolver == "" {
		return fmt.Errorf("dns.resolver must be set")
	}
	return nil
}
