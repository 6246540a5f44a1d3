// Package config loads process configuration: defaults, then an optional
// YAML file, then SUBMERGE_* environment variables, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen"`
	// DBPath is the SQLite file; empty keeps everything in memory.
	DBPath string `yaml:"db"`
	// Seed is a YAML records file imported at startup.
	Seed      string `yaml:"seed"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// PublicBaseURL is how the converter reaches us. Empty derives it from
	// each request's Host.
	PublicBaseURL  string        `yaml:"publicBaseURL"`
	CallbackSecret string        `yaml:"callbackSecret"`
	CallbackTTL    time.Duration `yaml:"callbackTTL"`

	CacheTTL       time.Duration `yaml:"cacheTTL"`
	RefreshTimeout time.Duration `yaml:"refreshTimeout"`

	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	IndirectTimeout  time.Duration `yaml:"indirectTimeout"`
	ConvertTimeout   time.Duration `yaml:"convertTimeout"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	FetchConcurrency int           `yaml:"fetchConcurrency"`

	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`

	// TLSDomain turns on HTTPS with ACME certificates for that host.
	TLSDomain    string `yaml:"tlsDomain"`
	ACMEListen   string `yaml:"acmeListen"`
	CertCacheDir string `yaml:"certCacheDir"`
}

const envConfigFile = "SUBMERGE_CONFIG"

func Defaults() Config {
	return Config{
		Listen:            "127.0.0.1:25600",
		LogLevel:          "info",
		LogFormat:         "text",
		CallbackTTL:       5 * time.Minute,
		CacheTTL:          30 * time.Minute,
		RefreshTimeout:    60 * time.Second,
		FetchTimeout:      10 * time.Second,
		IndirectTimeout:   15 * time.Second,
		ConvertTimeout:    15 * time.Second,
		RetryAttempts:     3,
		RetryBaseDelay:    500 * time.Millisecond,
		FetchConcurrency:  8,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ACMEListen:        ":80",
		CertCacheDir:      "certs",
	}
}

// Parse builds the serve configuration from args (without the program or
// subcommand name).
func Parse(args []string) (Config, error) {
	// First pass only discovers -config; everything else is re-parsed once
	// the file and environment have been applied.
	var path string
	pre := flag.NewFlagSet("serve", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	scratch := Defaults()
	bind(pre, &scratch)
	pre.StringVar(&path, "config", os.Getenv(envConfigFile), "")
	// Errors (including -h) surface from the second pass.
	_ = pre.Parse(args)

	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bind(fs, &cfg)
	fs.String("config", path, "YAML config file (env "+envConfigFile+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.TLSDomain = strings.ToLower(strings.TrimSpace(cfg.TLSDomain))
	if cfg.PublicBaseURL == "" && cfg.TLSDomain != "" {
		cfg.PublicBaseURL = "https://" + cfg.TLSDomain
	}
	return cfg, cfg.Validate()
}

func bind(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Listen, "listen", c.Listen, "HTTP listen address")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path (empty: in-memory)")
	fs.StringVar(&c.Seed, "seed", c.Seed, "YAML records file imported at startup")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text|json")
	fs.StringVar(&c.PublicBaseURL, "public-url", c.PublicBaseURL, "Public base URL used in converter callbacks")
	fs.StringVar(&c.CallbackSecret, "callback-secret", c.CallbackSecret, "HMAC secret for callback tokens (empty: random per process)")
	fs.DurationVar(&c.CallbackTTL, "callback-ttl", c.CallbackTTL, "Callback token lifetime")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "Age after which a cached list is refreshed in the background")
	fs.DurationVar(&c.RefreshTimeout, "refresh-timeout", c.RefreshTimeout, "Upper bound for one cache refresh")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "Direct upstream fetch timeout")
	fs.DurationVar(&c.IndirectTimeout, "indirect-timeout", c.IndirectTimeout, "Converter-proxied upstream fetch timeout")
	fs.DurationVar(&c.ConvertTimeout, "convert-timeout", c.ConvertTimeout, "Timeout per converter endpoint")
	fs.IntVar(&c.RetryAttempts, "retry-attempts", c.RetryAttempts, "Direct fetch attempts on timeouts and network errors")
	fs.DurationVar(&c.RetryBaseDelay, "retry-base-delay", c.RetryBaseDelay, "First retry delay, doubled per attempt")
	fs.IntVar(&c.FetchConcurrency, "fetch-concurrency", c.FetchConcurrency, "Parallel upstream fetches per refresh")
	fs.DurationVar(&c.ReadHeaderTimeout, "read-header-timeout", c.ReadHeaderTimeout, "HTTP ReadHeaderTimeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Graceful shutdown wait")
	fs.StringVar(&c.TLSDomain, "tls-domain", c.TLSDomain, "Serve HTTPS with ACME certificates for this host (empty: plain HTTP)")
	fs.StringVar(&c.ACMEListen, "acme-listen", c.ACMEListen, "Listen address for ACME HTTP-01 challenges")
	fs.StringVar(&c.CertCacheDir, "cert-cache", c.CertCacheDir, "Directory for ACME certificates")
}

func loadFile(path string, c *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	c.Listen = envOrDefault("SUBMERGE_LISTEN", c.Listen)
	c.DBPath = envOrDefault("SUBMERGE_DB", c.DBPath)
	c.Seed = envOrDefault("SUBMERGE_SEED", c.Seed)
	c.LogLevel = envOrDefault("SUBMERGE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("SUBMERGE_LOG_FORMAT", c.LogFormat)
	c.PublicBaseURL = envOrDefault("SUBMERGE_PUBLIC_URL", c.PublicBaseURL)
	c.CallbackSecret = envOrDefault("SUBMERGE_CALLBACK_SECRET", c.CallbackSecret)
	c.TLSDomain = envOrDefault("SUBMERGE_TLS_DOMAIN", c.TLSDomain)
	c.ACMEListen = envOrDefault("SUBMERGE_ACME_LISTEN", c.ACMEListen)
	c.CertCacheDir = envOrDefault("SUBMERGE_CERT_CACHE", c.CertCacheDir)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SUBMERGE_CALLBACK_TTL", &c.CallbackTTL},
		{"SUBMERGE_CACHE_TTL", &c.CacheTTL},
		{"SUBMERGE_REFRESH_TIMEOUT", &c.RefreshTimeout},
		{"SUBMERGE_FETCH_TIMEOUT", &c.FetchTimeout},
		{"SUBMERGE_INDIRECT_TIMEOUT", &c.IndirectTimeout},
		{"SUBMERGE_CONVERT_TIMEOUT", &c.ConvertTimeout},
		{"SUBMERGE_RETRY_BASE_DELAY", &c.RetryBaseDelay},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	if c.RetryAttempts, err = envInt("SUBMERGE_RETRY_ATTEMPTS", c.RetryAttempts); err != nil {
		return err
	}
	if c.FetchConcurrency, err = envInt("SUBMERGE_FETCH_CONCURRENCY", c.FetchConcurrency); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.New("log format must be one of: text, json")
	}
	if c.PublicBaseURL != "" && !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return errors.New("public url must start with http:// or https://")
	}
	if c.TLSDomain != "" && (strings.ContainsAny(c.TLSDomain, ":/") || strings.TrimSpace(c.ACMEListen) == "" || strings.TrimSpace(c.CertCacheDir) == "") {
		return errors.New("tls domain must be a bare host name, with an acme listen address and cert cache directory")
	}
	if c.CallbackSecret != "" && len(c.CallbackSecret) < 16 {
		return errors.New("callback secret must be at least 16 bytes")
	}
	positive := map[string]time.Duration{
		"callback ttl":        c.CallbackTTL,
		"cache ttl":           c.CacheTTL,
		"refresh timeout":     c.RefreshTimeout,
		"fetch timeout":       c.FetchTimeout,
		"indirect timeout":    c.IndirectTimeout,
		"convert timeout":     c.ConvertTimeout,
		"read header timeout": c.ReadHeaderTimeout,
		"shutdown timeout":    c.ShutdownTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.RetryBaseDelay < 0 {
		return errors.New("retry base delay must be >= 0")
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry attempts must be >= 1")
	}
	if c.FetchConcurrency < 1 {
		return errors.New("fetch concurrency must be >= 1")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
