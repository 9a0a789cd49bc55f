package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// TestNewConfig verifies that NewConfig returns a Config with all expected default values.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default Timeout is 10 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 10*time.Second {
			t.Errorf("expected Timeout to be 10s, got %v", cfg.Timeout)
		}
	})

	t.Run("default queue bounds", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxConcurrent != 250 || cfg.MaxThroughput != 1000 || cfg.Window != 100*time.Millisecond {
			t.Errorf("unexpected queue bounds: %d/%d/%v", cfg.MaxConcurrent, cfg.MaxThroughput, cfg.Window)
		}
	})

	t.Run("default ListenAddr is :6969", func(t *testing.T) {
		t.Parallel()
		if cfg.ListenAddr != ":6969" {
			t.Errorf("expected ListenAddr ':6969', got %q", cfg.ListenAddr)
		}
	})

	t.Run("content probe is disabled by default", func(t *testing.T) {
		t.Parallel()
		if cfg.TestPageURL != "" {
			t.Errorf("expected empty TestPageURL, got %q", cfg.TestPageURL)
		}
		if cfg.ExpectedContent == "" {
			t.Error("expected the built-in test page content")
		}
	})

	t.Run("defaults are valid", func(t *testing.T) {
		t.Parallel()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected defaults to validate, got %v", err)
		}
	})
}

// TestConfigValidate tests the Validate method with various configurations.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{name: "negative timeout", modify: func(c *Config) { c.Timeout = -time.Second }, wantErr: ErrInvalidTimeout},
		{name: "zero timeout is allowed", modify: func(c *Config) { c.Timeout = 0 }},
		{name: "zero batch size", modify: func(c *Config) { c.BatchSize = 0 }, wantErr: ErrInvalidBatchSize},
		{name: "zero max concurrent", modify: func(c *Config) { c.MaxConcurrent = 0 }, wantErr: ErrInvalidQueueBounds},
		{name: "zero window", modify: func(c *Config) { c.Window = 0 }, wantErr: ErrInvalidQueueBounds},
		{name: "unknown format", modify: func(c *Config) { c.Format = "xml" }, wantErr: ErrInvalidFormat},
		{name: "negative rate limit", modify: func(c *Config) { c.RateLimit = -1 }, wantErr: ErrInvalidRateLimit},
		{name: "zero subdomains", modify: func(c *Config) { c.DNSLeakSubdomains = 0 }, wantErr: ErrInvalidSubdomainCount},
		{name: "unknown probe", modify: func(c *Config) { c.Probes = "anonymity,webrtc" }, wantErr: model.ErrUnknownProbeKind},
		{name: "unknown scheme", modify: func(c *Config) { c.Scheme = "ftp" }, wantErr: model.ErrUnsupportedScheme},
		{name: "all probes", modify: func(c *Config) { c.Probes = "all" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestLoadConfigFile tests the LoadConfigFile function.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfigFile("/nonexistent/path/.proxyprobe.yaml")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got: %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config when file not found")
		}
	})

	t.Run("loads valid YAML config", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".proxyprobe.yaml")
		content := `settings:
  judge_url: http://judge.example/azenv
  window: 250ms
  sites:
    - https://example.com/
defaults:
  timeout: 3s
  probes: [anonymity, dnsleak]
proxies:
  "192.0.2.1:8080":
    username: alice
    password: secret
  "192.0.2.2:1080":
    scheme: socks5
    timeout: 20s
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		f, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Settings.JudgeURL != "http://judge.example/azenv" {
			t.Errorf("unexpected judge url %q", f.Settings.JudgeURL)
		}
		if f.Settings.Window != 250*time.Millisecond {
			t.Errorf("expected window 250ms, got %v", f.Settings.Window)
		}
		if f.Defaults.Timeout != 3*time.Second {
			t.Errorf("expected timeout 3s, got %v", f.Defaults.Timeout)
		}
		pc, ok := f.GetProxyConfig("192.0.2.1:8080")
		if !ok || pc.Username != "alice" || pc.Password != "secret" {
			t.Errorf("unexpected proxy config %+v", pc)
		}
		if got := f.Addresses(); len(got) != 2 || got[0] != "192.0.2.1:8080" {
			t.Errorf("Addresses() = %v", got)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".proxyprobe.yaml")
		if err := os.WriteFile(configPath, []byte(`invalid: yaml: content: [}`), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfigFile(configPath); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".proxyprobe.yaml")
		if err := os.WriteFile(configPath, []byte("settings:\n  judge_ulr: http://typo.example/\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfigFile(configPath); err == nil {
			t.Error("expected error for misspelled key")
		}
	})

	t.Run("accepts an empty file", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".proxyprobe.yaml")
		if err := os.WriteFile(configPath, nil, 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		f, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(f.Proxies) != 0 {
			t.Errorf("expected no proxies, got %v", f.Proxies)
		}
	})

	t.Run("initializes nil Proxies map", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".proxyprobe.yaml")
		if err := os.WriteFile(configPath, []byte("defaults:\n  timeout: 1s\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		f, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.Proxies == nil {
			t.Error("expected Proxies map to be initialized")
		}
	})
}

// TestConfigApplyFile tests overlaying a config file onto the defaults.
func TestConfigApplyFile(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.ApplyFile(&File{
		Settings: Settings{JudgeURL: "http://judge.example/", MaxConcurrent: 5, Sites: []string{"https://a.example/"}},
		Defaults: Defaults{Timeout: 2 * time.Second, Probes: []string{"https", "sites"}, Scheme: "socks5"},
	})

	if cfg.JudgeURL != "http://judge.example/" {
		t.Errorf("JudgeURL = %q", cfg.JudgeURL)
	}
	if cfg.PublicIPURL != DefaultPublicIPURL {
		t.Errorf("unset PublicIPURL should keep default, got %q", cfg.PublicIPURL)
	}
	if cfg.MaxConcurrent != 5 || cfg.MaxThroughput != 1000 {
		t.Errorf("queue bounds = %d/%d", cfg.MaxConcurrent, cfg.MaxThroughput)
	}
	if cfg.Timeout != 2*time.Second || cfg.Probes != "https,sites" || cfg.Scheme != model.SchemeSOCKS5 {
		t.Errorf("defaults not applied: %v %q %q", cfg.Timeout, cfg.Probes, cfg.Scheme)
	}
	if len(cfg.Sites) != 1 {
		t.Errorf("Sites = %v", cfg.Sites)
	}
	cfg.ApplyFile(nil)
	if cfg.File == nil {
		t.Error("ApplyFile(nil) must keep the previous file")
	}
}

// TestConfigProbeTargets tests building probe targets from flags and the config file.
func TestConfigProbeTargets(t *testing.T) {
	t.Parallel()

	file := &File{
		Proxies: map[string]ProxyConfig{
			"192.0.2.1:8080": {Username: "alice", Password: "secret"},
			"192.0.2.2:1080": {Scheme: "socks5", Timeout: 20 * time.Second},
		},
	}

	t.Run("no targets", func(t *testing.T) {
		t.Parallel()

		if _, err := NewConfig().ProbeTargets(); !errors.Is(err, ErrNoTarget) {
			t.Errorf("expected ErrNoTarget, got %v", err)
		}
	})

	t.Run("falls back to file proxies", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.File = file
		targets, err := cfg.ProbeTargets()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(targets) != 2 {
			t.Fatalf("expected 2 targets, got %d", len(targets))
		}
		if c := targets[0].Credentials; c == nil || c.Username != "alice" {
			t.Errorf("expected file credentials, got %+v", c)
		}
		if targets[1].Scheme != model.SchemeSOCKS5 || targets[1].Timeout != 20*time.Second {
			t.Errorf("unexpected second target %+v", targets[1])
		}
	})

	t.Run("flag credentials win", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.File = file
		cfg.Targets = []string{"192.0.2.1:8080"}
		cfg.Username, cfg.Password = "bob", "hunter2"
		targets, err := cfg.ProbeTargets()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c := targets[0].Credentials; c == nil || c.Username != "bob" {
			t.Errorf("expected flag credentials, got %+v", c)
		}
		if targets[0].Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want default", targets[0].Timeout)
		}
	})

	t.Run("explicit scheme in address wins", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.Scheme = model.SchemeSOCKS5
		cfg.Targets = []string{"http://192.0.2.3:3128", "192.0.2.4:1080"}
		targets, err := cfg.ProbeTargets()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if targets[0].Scheme != model.SchemeHTTP || targets[1].Scheme != model.SchemeSOCKS5 {
			t.Errorf("schemes = %s, %s", targets[0].Scheme, targets[1].Scheme)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		cfg.Targets = []string{"192.0.2.1:99999"}
		if _, err := cfg.ProbeTargets(); !errors.Is(err, model.ErrInvalidPort) {
			t.Errorf("expected ErrInvalidPort, got %v", err)
		}
	})
}

// TestConfigProbeEnv tests conversion to the probe environment.
func TestConfigProbeEnv(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.TestPageURL = "http://judge.example/index.html"
	env := cfg.ProbeEnv()

	if env.JudgeURL != cfg.JudgeURL || env.TestPageURL != cfg.TestPageURL {
		t.Errorf("unexpected env %+v", env)
	}
	if env.DNSLeakSubdomains != DefaultDNSLeakSubdomains || env.DNSLeakReportURL != DefaultDNSLeakReportURL {
		t.Errorf("unexpected dns leak settings %+v", env)
	}
	env.Sites[0] = "mutated"
	if cfg.Sites[0] == "mutated" {
		t.Error("ProbeEnv must copy slices")
	}
}

// TestFindConfigFile tests the FindConfigFile function.
func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns explicit path if exists", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(configPath, []byte("defaults: {}"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if result := FindConfigFile(configPath); result != configPath {
			t.Errorf("expected %q, got %q", configPath, result)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		t.Parallel()

		if result := FindConfigFile("/nonexistent/path/config.yaml"); result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})
}

// TestXDGDirs tests XDG directory functions.
func TestXDGDirs(t *testing.T) {
	t.Parallel()

	if XDGDataDir() == "" || XDGConfigDir() == "" {
		t.Error("expected non-empty XDG dirs")
	}
	if filepath.Base(XDGDataDir()) != AppName {
		t.Errorf("expected data dir to end in %q, got %q", AppName, XDGDataDir())
	}
}

// TestConfigApplyEnv tests the environment overlay.
// It modifies the process environment and therefore does not run in parallel.
func TestConfigApplyEnv(t *testing.T) {
	t.Setenv("PROXYPROBE_JUDGE_URL", "http://env-judge.example/")
	t.Setenv("PROXYPROBE_TIMEOUT", "4s")
	t.Setenv("PROXYPROBE_MAX_CONCURRENT", "12")
	t.Setenv("PROXYPROBE_PROXY_USER", "carol")

	cfg := NewConfig()
	cfg.ApplyFile(&File{Settings: Settings{JudgeURL: "http://file-judge.example/", ListenAddr: ":7000"}})
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.JudgeURL != "http://env-judge.example/" {
		t.Errorf("env must override file, got %q", cfg.JudgeURL)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("unset env must keep file value, got %q", cfg.ListenAddr)
	}
	if cfg.Timeout != 4*time.Second || cfg.MaxConcurrent != 12 || cfg.Username != "carol" {
		t.Errorf("unexpected overlay: %v %d %q", cfg.Timeout, cfg.MaxConcurrent, cfg.Username)
	}

	t.Setenv("PROXYPROBE_MAX_THROUGHPUT", "lots")
	if err := NewConfig().ApplyEnv(); err == nil {
		t.Error("expected error for malformed integer")
	}
}

// TestLoadDotEnv tests loading .env files.
// It modifies the process environment and therefore does not run in parallel.
func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PROXYPROBE_LISTEN_ADDR=:7777\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXYPROBE_LISTEN_ADDR", "")
	os.Unsetenv("PROXYPROBE_LISTEN_ADDR") //nolint:errcheck // restored by t.Setenv cleanup

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("PROXYPROBE_LISTEN_ADDR"); got != ":7777" {
		t.Errorf("PROXYPROBE_LISTEN_ADDR = %q, want :7777", got)
	}
}

// TestLoad tests the full load chain with an explicit missing file.
func TestLoad(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}
