package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by proxyprobe.
const EnvPrefix = "PROXYPROBE"

// envSettings mirrors the PROXYPROBE_* environment variables.
// Zero values leave the configuration untouched.
type envSettings struct {
	JudgeURL      string        `envconfig:"JUDGE_URL"`
	PublicIPURL   string        `envconfig:"PUBLIC_IP_URL"`
	TestPageURL   string        `envconfig:"TEST_PAGE_URL"`
	Timeout       time.Duration `envconfig:"TIMEOUT"`
	MaxConcurrent int           `envconfig:"MAX_CONCURRENT"`
	MaxThroughput int           `envconfig:"MAX_THROUGHPUT"`
	Window        time.Duration `envconfig:"WINDOW"`
	ListenAddr    string        `envconfig:"LISTEN_ADDR"`
	GeoIPDatabase string        `envconfig:"GEOIP_DB"`
	DBDir         string        `envconfig:"DB_DIR"`
	LogFile       string        `envconfig:"LOG_FILE"`
	Username      string        `envconfig:"PROXY_USER"`
	Password      string        `envconfig:"PROXY_PASSWORD"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the PROXYPROBE_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var s envSettings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setString(&c.JudgeURL, s.JudgeURL)
	setString(&c.PublicIPURL, s.PublicIPURL)
	setString(&c.TestPageURL, s.TestPageURL)
	setString(&c.ListenAddr, s.ListenAddr)
	setString(&c.GeoIPDatabase, s.GeoIPDatabase)
	setString(&c.DBDir, s.DBDir)
	setString(&c.LogFile, s.LogFile)
	setString(&c.Username, s.Username)
	setString(&c.Password, s.Password)
	setDuration(&c.Timeout, s.Timeout)
	setDuration(&c.Window, s.Window)
	setInt(&c.MaxConcurrent, s.MaxConcurrent)
	setInt(&c.MaxThroughput, s.MaxThroughput)
	return nil
}

// Load builds a configuration from defaults, the config file (if found) and
// the environment. An explicitly given path that does not exist is an error.
func Load(configPath string) (*Config, error) {
	cfg := NewConfig()
	cfg.ConfigFilePath = configPath

	if path := FindConfigFile(configPath); path != "" {
		f, err := LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ApplyFile(f)
	} else if configPath != "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
