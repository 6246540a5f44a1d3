package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SUBMERGE_CONFIG", "SUBMERGE_LISTEN", "SUBMERGE_DB", "SUBMERGE_LOG_LEVEL",
		"SUBMERGE_LOG_FORMAT", "SUBMERGE_PUBLIC_URL", "SUBMERGE_CALLBACK_SECRET",
		"SUBMERGE_CACHE_TTL", "SUBMERGE_FETCH_CONCURRENCY", "SUBMERGE_RETRY_ATTEMPTS",
		"SUBMERGE_SEED", "SUBMERGE_TLS_DOMAIN", "SUBMERGE_ACME_LISTEN", "SUBMERGE_CERT_CACHE",
	} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Defaults() {
		t.Fatalf("cfg=%+v, want defaults", cfg)
	}
}

func TestParse_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "submerge.yaml")
	doc := "listen: 0.0.0.0:9000\ncacheTTL: 5m\nfetchConcurrency: 2\nlogFormat: json\npublicBaseURL: https://sub.example.com/\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUBMERGE_CONFIG", path)
	t.Setenv("SUBMERGE_CACHE_TTL", "10m")
	t.Setenv("SUBMERGE_FETCH_CONCURRENCY", "4")

	cfg, err := Parse([]string{"--fetch-concurrency", "6"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen=%q, want from file", cfg.Listen)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("cacheTTL=%v, want env value", cfg.CacheTTL)
	}
	if cfg.FetchConcurrency != 6 {
		t.Fatalf("fetchConcurrency=%d, want flag value", cfg.FetchConcurrency)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("logFormat=%q", cfg.LogFormat)
	}
	if cfg.PublicBaseURL != "https://sub.example.com" {
		t.Fatalf("publicBaseURL=%q", cfg.PublicBaseURL)
	}
}

func TestParse_ConfigFlag(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("db: /tmp/x.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Parse([]string{"-config", path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("db=%q", cfg.DBPath)
	}
}

func TestParse_TLSDomainDefaultsPublicURL(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]string{"-tls-domain", "Sub.Example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TLSDomain != "sub.example.com" {
		t.Fatalf("tlsDomain=%q", cfg.TLSDomain)
	}
	if got, want := cfg.PublicBaseURL, "https://sub.example.com"; got != want {
		t.Fatalf("publicBaseURL=%q, want=%q", got, want)
	}

	if _, err := Parse([]string{"-tls-domain", "sub.example.com:443"}); err == nil {
		t.Fatalf("expected error for host with port")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file string
		env  map[string]string
	}{
		{name: "zero concurrency", args: []string{"--fetch-concurrency", "0"}},
		{name: "bad log format", args: []string{"--log-format", "xml"}},
		{name: "short secret", args: []string{"--callback-secret", "short"}},
		{name: "bad public url", args: []string{"--public-url", "sub.example.com"}},
		{name: "negative ttl", args: []string{"--cache-ttl", "-1s"}},
		{name: "unknown flag", args: []string{"--nope"}},
		{name: "unknown yaml field", file: "bogus: 1\n"},
		{name: "bad env duration", env: map[string]string{"SUBMERGE_CACHE_TTL": "soon"}},
		{name: "bad env int", env: map[string]string{"SUBMERGE_RETRY_ATTEMPTS": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "c.yaml")
				if err := os.WriteFile(path, []byte(tt.file), 0o600); err != nil {
					t.Fatal(err)
				}
				t.Setenv("SUBMERGE_CONFIG", path)
			}
			if _, err := Parse(tt.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
