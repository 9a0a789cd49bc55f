package config

import (
	"sort"
	"strings"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// ProxyConfig holds the settings of one proxy listed in the config file.
type ProxyConfig struct {
	// Username and Password authenticate against the proxy.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Scheme is "http" (default) or "socks5".
	Scheme string `yaml:"scheme,omitempty"`

	// Timeout overrides the probe timeout for this proxy.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Settings are the global options of the config file. Zero values keep the
// built-in defaults.
type Settings struct {
	JudgeURL          string        `yaml:"judge_url,omitempty"`
	PublicIPURL       string        `yaml:"public_ip_url,omitempty"`
	TestPageURL       string        `yaml:"test_page_url,omitempty"`
	ConnectTarget     string        `yaml:"connect_target,omitempty"`
	DNSLeakDomain     string        `yaml:"dns_leak_domain,omitempty"`
	DNSLeakSubdomains int           `yaml:"dns_leak_subdomains,omitempty"`
	DNSLeakReportURL  string        `yaml:"dns_leak_report_url,omitempty"`
	LocationURL       string        `yaml:"location_url,omitempty"`
	GeoIPDatabase     string        `yaml:"geoip_database,omitempty"`
	Sites             []string      `yaml:"sites,omitempty"`
	UserAgents        []string      `yaml:"user_agents,omitempty"`
	MaxConcurrent     int           `yaml:"max_concurrent,omitempty"`
	MaxThroughput     int           `yaml:"max_throughput,omitempty"`
	Window            time.Duration `yaml:"window,omitempty"`
	ListenAddr        string        `yaml:"listen_addr,omitempty"`
	RateLimit         float64       `yaml:"rate_limit,omitempty"`
	RateBurst         int           `yaml:"rate_burst,omitempty"`
	LogFile           string        `yaml:"log_file,omitempty"`
	DBDir             string        `yaml:"db_dir,omitempty"`
}

// Defaults are applied to every check unless overridden.
type Defaults struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Probes  []string      `yaml:"probes,omitempty"`
	Scheme  string        `yaml:"scheme,omitempty"`
	Format  string        `yaml:"format,omitempty"`
}

// File represents the structure of the proxyprobe configuration file.
type File struct {
	Settings Settings `yaml:"settings,omitempty"`
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Proxies maps "host:port" to the settings of that proxy.
	Proxies map[string]ProxyConfig `yaml:"proxies,omitempty"`
}

// GetProxyConfig returns the configuration for one proxy address.
// The scheme falls back to the file defaults.
func (f *File) GetProxyConfig(address string) (ProxyConfig, bool) {
	pc, ok := f.Proxies[address]
	if pc.Scheme == "" {
		pc.Scheme = f.Defaults.Scheme
	}
	return pc, ok
}

// Addresses returns the configured proxy addresses in sorted order.
func (f *File) Addresses() []string {
	addrs := make([]string, 0, len(f.Proxies))
	for addr := range f.Proxies {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// ApplyFile overlays the non-zero values of f onto c.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.File = f

	s := f.Settings
	setString(&c.JudgeURL, s.JudgeURL)
	setString(&c.PublicIPURL, s.PublicIPURL)
	setString(&c.TestPageURL, s.TestPageURL)
	setString(&c.ConnectTarget, s.ConnectTarget)
	setString(&c.DNSLeakDomain, s.DNSLeakDomain)
	setString(&c.DNSLeakReportURL, s.DNSLeakReportURL)
	setString(&c.LocationURL, s.LocationURL)
	setString(&c.GeoIPDatabase, s.GeoIPDatabase)
	setString(&c.ListenAddr, s.ListenAddr)
	setString(&c.LogFile, s.LogFile)
	setString(&c.DBDir, s.DBDir)
	setInt(&c.DNSLeakSubdomains, s.DNSLeakSubdomains)
	setInt(&c.MaxConcurrent, s.MaxConcurrent)
	setInt(&c.MaxThroughput, s.MaxThroughput)
	setInt(&c.RateBurst, s.RateBurst)
	setDuration(&c.Window, s.Window)
	if s.RateLimit != 0 {
		c.RateLimit = s.RateLimit
	}
	if len(s.Sites) > 0 {
		c.Sites = append([]string(nil), s.Sites...)
	}
	if len(s.UserAgents) > 0 {
		c.UserAgents = append([]string(nil), s.UserAgents...)
	}

	d := f.Defaults
	setDuration(&c.Timeout, d.Timeout)
	setString(&c.Format, d.Format)
	if len(d.Probes) > 0 {
		c.Probes = strings.Join(d.Probes, ",")
	}
	if d.Scheme != "" {
		c.Scheme = model.Scheme(d.Scheme)
	}
}

// ProbeTargets builds the targets to check from the command-line addresses
// and, when none were given, from the proxies listed in the config file.
// Command-line credentials win over file credentials.
func (c *Config) ProbeTargets() ([]model.ProbeTarget, error) {
	addrs := c.Targets
	if len(addrs) == 0 && c.File != nil {
		addrs = c.File.Addresses()
	}
	if len(addrs) == 0 {
		return nil, ErrNoTarget
	}

	targets := make([]model.ProbeTarget, 0, len(addrs))
	for _, raw := range addrs {
		t, err := c.probeTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (c *Config) probeTarget(raw string) (model.ProbeTarget, error) {
	t, err := model.ParseTarget(raw)
	if err != nil {
		return model.ProbeTarget{}, err
	}
	t.Timeout = c.Timeout

	explicitScheme := strings.Contains(raw, "://")
	if !explicitScheme && c.Scheme != "" {
		if t.Scheme, err = model.ParseScheme(string(c.Scheme)); err != nil {
			return model.ProbeTarget{}, err
		}
	}

	if c.File != nil {
		if pc, ok := c.File.GetProxyConfig(t.Address()); ok {
			if pc.Timeout > 0 {
				t.Timeout = pc.Timeout
			}
			if !explicitScheme && pc.Scheme != "" {
				if t.Scheme, err = model.ParseScheme(pc.Scheme); err != nil {
					return model.ProbeTarget{}, err
				}
			}
			if t.Credentials == nil && pc.Username != "" {
				t.Credentials = &model.Credentials{Username: pc.Username, Password: pc.Password}
			}
		}
	}

	if c.Username != "" {
		t.Credentials = &model.Credentials{Username: c.Username, Password: c.Password}
	}
	return t, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
