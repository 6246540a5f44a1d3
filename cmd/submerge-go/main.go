package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"

	"github.com/John-Robertt/submerge-go/internal/cache"
	"github.com/John-Robertt/submerge-go/internal/callback"
	"github.com/John-Robertt/submerge-go/internal/config"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/httpapi"
	"github.com/John-Robertt/submerge-go/internal/logging"
	"github.com/John-Robertt/submerge-go/internal/pipeline"
	"github.com/John-Robertt/submerge-go/internal/store"
	"github.com/John-Robertt/submerge-go/internal/store/sqlite"
	"github.com/John-Robertt/submerge-go/internal/task"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "import":
		err = runImport(args)
	case "healthcheck":
		err = runHealthcheckCmd(args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, import or healthcheck)", cmd)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

// kvStore is a KV that may hold resources.
type kvStore interface {
	store.KV
	io.Closer
}

type memoryKV struct{ *store.Memory }

func (memoryKV) Close() error { return nil }

func openKV(path string) (kvStore, error) {
	if strings.TrimSpace(path) == "" {
		return memoryKV{store.NewMemory()}, nil
	}
	s, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func importSeed(ctx context.Context, records *store.Records, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer f.Close()

	seed, err := store.LoadSeed(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return records.Import(ctx, seed)
}

func runServe(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	kv, err := openKV(cfg.DBPath)
	if err != nil {
		return err
	}
	defer kv.Close()
	if cfg.DBPath == "" {
		log.Warn("no database configured, records and cache live in memory")
	}

	records := store.NewRecords(kv)
	if cfg.Seed != "" {
		if err := importSeed(context.Background(), records, cfg.Seed); err != nil {
			return err
		}
		log.WithField("seed", cfg.Seed).Info("records imported")
	}

	runner := task.NewRunner(log)
	cm, err := cache.New(kv, runner, cache.Options{
		TTL:            cfg.CacheTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	p := pipeline.New(records, pipeline.Options{
		Concurrency: cfg.FetchConcurrency,
		Logger:      log,
		OnFetch:     httpapi.ObserveFetch,
		Fetch: fetch.FallbackOptions{
			DirectTimeout:   cfg.FetchTimeout,
			IndirectTimeout: cfg.IndirectTimeout,
			Retry: fetch.RetryOptions{
				Attempts:  cfg.RetryAttempts,
				BaseDelay: cfg.RetryBaseDelay,
			},
			Logger: log,
		},
	})

	secret := []byte(cfg.CallbackSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		log.Warn("no callback secret configured, using a random one for this process")
	}
	signer, err := callback.NewSigner(secret, cfg.CallbackTTL)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewHandler(httpapi.Options{
			Pipeline:       p,
			Cache:          cm,
			Signer:         signer,
			PublicBaseURL:  cfg.PublicBaseURL,
			ConvertTimeout: cfg.ConvertTimeout,
			Logger:         log,
		}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	// With a TLS domain, the main listener serves HTTPS and ACMEListen
	// answers HTTP-01 challenges and redirects everything else.
	var challenge *http.Server
	if cfg.TLSDomain != "" {
		manager := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.CertCacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLSDomain),
		}
		srv.TLSConfig = manager.TLSConfig()
		challenge = &http.Server{
			Addr:              cfg.ACMEListen,
			Handler:           manager.HTTPHandler(nil),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	if challenge != nil {
		go func() {
			log.Infof("ACME challenge server on %s", cfg.ACMEListen)
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("challenge server: %w", err)
			}
		}()
		go func() {
			log.Infof("listening on https://%s (%s)", cfg.Listen, cfg.TLSDomain)
			errCh <- srv.ListenAndServeTLS("", "")
		}()
	} else {
		go func() {
			log.Infof("listening on http://%s", cfg.Listen)
			errCh <- srv.ListenAndServe()
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, s := range []*http.Server{srv, challenge} {
		if s == nil {
			continue
		}
		if err := s.Shutdown(shCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
			_ = s.Close()
		}
	}
	// Background refreshes still write to the store.
	if err := runner.Drain(shCtx); err != nil {
		log.WithError(err).Warn("background refreshes did not finish")
	}
	return serveErr
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	db := fs.String("db", os.Getenv("SUBMERGE_DB"), "SQLite database path")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: submerge-go import -db <path> <seed.yaml>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("import needs exactly one seed file")
	}
	if strings.TrimSpace(*db) == "" {
		return errors.New("import needs -db (an in-memory import would be lost)")
	}

	kv, err := sqlite.Open(*db)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := importSeed(context.Background(), store.NewRecords(kv), fs.Arg(0)); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"db": *db, "seed": fs.Arg(0)}).Info("records imported")
	return nil
}

func runHealthcheckCmd(args []string) error {
	fs := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	listen := fs.String("listen", envOr("SUBMERGE_LISTEN", config.Defaults().Listen), "listen address or base URL of the server")
	timeout := fs.Duration("timeout", 3*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := deriveHealthzURL(*listen)
	if err != nil {
		return err
	}
	return runHealthcheck(u, *timeout)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// deriveHealthzURL maps a listen address to a loopback /healthz URL.
// Wildcard hosts are dialed on 127.0.0.1.
func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if s == "" {
		return "", errors.New("empty listen address")
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return strings.TrimRight(s, "/") + "/healthz", nil
	}
	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("listen address %q: %w", listen, err)
	}
	if port == "" {
		return "", fmt.Errorf("listen address %q has no port", listen)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
