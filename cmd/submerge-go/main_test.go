package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/submerge-go/internal/store"
	"github.com/John-Robertt/submerge-go/internal/store/sqlite"
)

func TestDeriveHealthzURL_FromListenAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:25600", "http://127.0.0.1:25600/healthz"},
		{"0.0.0.0:25600", "http://127.0.0.1:25600/healthz"},
		{":25600", "http://127.0.0.1:25600/healthz"},
		{"25600", "http://127.0.0.1:25600/healthz"},
		{"[::]:25600", "http://127.0.0.1:25600/healthz"},
		{"http://127.0.0.1:25600/", "http://127.0.0.1:25600/healthz"},
	}
	for _, tt := range tests {
		got, err := deriveHealthzURL(tt.in)
		if err != nil {
			t.Fatalf("deriveHealthzURL(%q) unexpected err: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("deriveHealthzURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := deriveHealthzURL("  "); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestRunHealthcheck_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	defer ts.Close()

	if err := runHealthcheck(ts.URL+"/healthz", 200*time.Millisecond); err != nil {
		t.Fatalf("runHealthcheck unexpected err: %v", err)
	}
}

func TestRunHealthcheck_StatusNotOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := runHealthcheck(ts.URL, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "unexpected status") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "unexpected status")
	}
}

func TestRunImport_WritesRecords(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	dbPath := filepath.Join(dir, "data", "submerge.db")

	seed := `settings:
  token: tok
  profileToken: ptok
subscriptions:
  - id: s1
    url: https://feed.example.com/sub
    name: Feed
profiles:
  - id: p1
    name: Family
    subscriptions: [s1]
`
	if err := os.WriteFile(seedPath, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runImport([]string{"-db", dbPath, seedPath}); err != nil {
		t.Fatalf("runImport: %v", err)
	}

	kv, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	records := store.NewRecords(kv)

	settings, err := records.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if settings.Token != "tok" {
		t.Fatalf("token=%q, want=%q", settings.Token, "tok")
	}
	sources, err := records.Sources(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].ID != "s1" || !sources[0].Enabled {
		t.Fatalf("sources=%+v", sources)
	}
}

func TestRunImport_Usage(t *testing.T) {
	if err := runImport([]string{"-db", filepath.Join(t.TempDir(), "x.db")}); err == nil {
		t.Fatalf("expected error without a seed file")
	}
	t.Setenv("SUBMERGE_DB", "")
	if err := runImport([]string{"seed.yaml"}); err == nil {
		t.Fatalf("expected error without -db")
	}
}
