package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/probe"
	"github.com/nao1215/proxyprobe/internal/queue"
	"github.com/nao1215/proxyprobe/internal/transport"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "proxyprobe"

	// DefaultTimeout bounds each individual probe.
	DefaultTimeout = 10 * time.Second

	// DefaultJudgeURL echoes the request headers it receives as JSON.
	DefaultJudgeURL = "http://httpbin.org/headers"

	// DefaultPublicIPURL returns the caller's public IP address.
	DefaultPublicIPURL = "https://api.ipify.org?format=json"

	// DefaultPublicIPTTL is how long a resolved public IP is reused by the server.
	DefaultPublicIPTTL = 5 * time.Minute

	// DefaultConnectTarget is the host:port requested by the HTTPS probe.
	DefaultConnectTarget = "www.google.com:443"

	// DefaultDNSLeakDomain is the leak-test domain.
	DefaultDNSLeakDomain = "bash.ws"

	// DefaultDNSLeakSubdomains is how many unique subdomains are resolved per check.
	DefaultDNSLeakSubdomains = 10

	// DefaultDNSLeakReportURL is the leak-test report endpoint.
	DefaultDNSLeakReportURL = "https://bash.ws/dnsleak/test/{token}?json"

	// DefaultLocationURL is the geolocation endpoint; the proxy host is appended.
	DefaultLocationURL = "http://ip-api.com/json/"

	// DefaultBatchSize is the number of proxies checked at once by the CLI.
	DefaultBatchSize = 10

	// DefaultMaxConcurrent is the server queue concurrency.
	DefaultMaxConcurrent = 250

	// DefaultListenAddr is where the HTTP front-end listens.
	DefaultListenAddr = ":6969"

	// DefaultJudgeListenAddr is where the judge server listens.
	DefaultJudgeListenAddr = ":8888"

	// DefaultRateLimit is the number of requests per second one client may send to the server.
	DefaultRateLimit = 10.0

	// DefaultRateBurst is the burst size of the per-client limiter.
	DefaultRateBurst = 20

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Report formats.
const (
	FormatSimple   = "simple"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// DefaultSites returns the sites checked by the site-support probe.
func DefaultSites() []string {
	return []string{"https://www.google.com/"}
}

// Config holds all configuration options for proxyprobe.
// It is populated from defaults, the config file, the environment and CLI
// flags, in that order, and passed through the application explicitly.
type Config struct {
	// Timeout bounds each individual probe.
	Timeout time.Duration

	// Probes is the comma-separated list of probe kinds to run.
	// Empty selects the essential probes.
	Probes string

	// JudgeURL is the header-echo endpoint used by the anonymity probe.
	JudgeURL string

	// PublicIPURL returns the caller's public IP. Fetched directly, never through the proxy.
	PublicIPURL string

	// PublicIPTTL is how long the server reuses a resolved public IP.
	PublicIPTTL time.Duration

	// TestPageURL is the fixed content page used by the content probe.
	// Empty disables the content probe.
	TestPageURL string

	// ExpectedContent is the exact body served at TestPageURL.
	ExpectedContent string

	// ConnectTarget is the host:port requested by the HTTPS probe.
	ConnectTarget string

	// DNSLeakDomain, DNSLeakSubdomains and DNSLeakReportURL configure the DNS leak probe.
	DNSLeakDomain     string
	DNSLeakSubdomains int
	DNSLeakReportURL  string

	// LocationURL is the geolocation endpoint used when no GeoIP database is set.
	LocationURL string

	// GeoIPDatabase is the path to a GeoLite2/GeoIP2 City database.
	// When set, locations are looked up offline.
	GeoIPDatabase string

	// Sites are the URLs checked by the site-support probe.
	Sites []string

	// UserAgents are the user agents proxied requests pick from.
	UserAgents []string

	// Scheme, Username and Password apply to targets given on the command line.
	Scheme   model.Scheme
	Username string
	Password string

	// BatchSize is the number of proxies the CLI checks at once.
	BatchSize int

	// MaxConcurrent, MaxThroughput and Window bound the server queue.
	MaxConcurrent int
	MaxThroughput int
	Window        time.Duration

	// ListenAddr is the address of the HTTP front-end.
	ListenAddr string

	// JudgeListenAddr is the address of the judge server.
	JudgeListenAddr string

	// RateLimit and RateBurst configure the per-client request limiter.
	// A RateLimit of zero disables it.
	RateLimit float64
	RateBurst int

	// LogFile receives rotated JSON logs from the server when set.
	LogFile string

	// LogJSON switches console logs to JSON.
	LogJSON bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	ConfigFilePath string

	// File is the loaded configuration file, if any.
	File *File

	// Format is the report format: simple, json or markdown.
	Format string

	// ReportFile is the output file path for the report. Empty means stdout.
	ReportFile string

	// Targets are the proxies given on the command line in host:port form.
	Targets []string

	// DBDir is the directory of the history database.
	DBDir string

	// SaveToDB enables saving check results to the history database.
	SaveToDB bool

	// EmbeddedTor starts a Tor daemon and checks its SOCKS5 port.
	EmbeddedTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Timeout:           DefaultTimeout,
		JudgeURL:          DefaultJudgeURL,
		PublicIPURL:       DefaultPublicIPURL,
		PublicIPTTL:       DefaultPublicIPTTL,
		ExpectedContent:   probe.DefaultExpectedContent,
		ConnectTarget:     DefaultConnectTarget,
		DNSLeakDomain:     DefaultDNSLeakDomain,
		DNSLeakSubdomains: DefaultDNSLeakSubdomains,
		DNSLeakReportURL:  DefaultDNSLeakReportURL,
		LocationURL:       DefaultLocationURL,
		Sites:             DefaultSites(),
		UserAgents:        transport.DefaultUserAgents(),
		Scheme:            model.SchemeHTTP,
		BatchSize:         DefaultBatchSize,
		MaxConcurrent:     DefaultMaxConcurrent,
		MaxThroughput:     queue.DefaultMaxThroughput,
		Window:            queue.DefaultWindow,
		ListenAddr:        DefaultListenAddr,
		JudgeListenAddr:   DefaultJudgeListenAddr,
		RateLimit:         DefaultRateLimit,
		RateBurst:         DefaultRateBurst,
		Format:            FormatSimple,
		DBDir:             XDGDataDir(),
		SaveToDB:          true,
		TorStartupTimeout: DefaultTorStartupTimeout,
	}
}

// XDGDataDir returns the XDG data directory for proxyprobe.
// On Linux: ~/.local/share/proxyprobe
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for proxyprobe.
// On Linux: ~/.config/proxyprobe
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.MaxConcurrent <= 0 || c.MaxThroughput <= 0 || c.Window <= 0 {
		return ErrInvalidQueueBounds
	}
	switch c.Format {
	case FormatSimple, FormatJSON, FormatMarkdown:
	default:
		return ErrInvalidFormat
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.DNSLeakSubdomains <= 0 {
		return ErrInvalidSubdomainCount
	}
	if _, err := model.ParseKinds(c.Probes); err != nil {
		return err
	}
	if _, err := model.ParseScheme(string(c.Scheme)); err != nil {
		return err
	}
	return nil
}

// Kinds returns the parsed probe kinds.
func (c *Config) Kinds() ([]model.ProbeKind, error) {
	return model.ParseKinds(c.Probes)
}

// ProbeEnv returns the probe configuration.
func (c *Config) ProbeEnv() probe.Env {
	return probe.Env{
		JudgeURL:          c.JudgeURL,
		TestPageURL:       c.TestPageURL,
		ExpectedContent:   c.ExpectedContent,
		ConnectTarget:     c.ConnectTarget,
		DNSLeakDomain:     c.DNSLeakDomain,
		DNSLeakSubdomains: c.DNSLeakSubdomains,
		DNSLeakReportURL:  c.DNSLeakReportURL,
		LocationURL:       c.LocationURL,
		Sites:             append([]string(nil), c.Sites...),
		UserAgents:        append([]string(nil), c.UserAgents...),
	}
}
