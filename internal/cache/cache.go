// Package cache serves aggregated node lists with stale-while-revalidate
// semantics. Entries live in a store.KV; at most one refresh per key runs at
// a time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/store"
	"github.com/John-Robertt/submerge-go/internal/task"
)

const keyPrefix = "cache:"

const (
	DefaultTTL            = 30 * time.Minute
	DefaultRefreshTimeout = 60 * time.Second
)

// Status is how a Resolve call was answered.
type Status string

const (
	StatusHit   Status = "hit"
	StatusMiss  Status = "miss"
	StatusStale Status = "stale"
)

// State is the lifecycle state of a key.
type State string

const (
	StateMissing    State = "missing"
	StateFresh      State = "fresh"
	StateStale      State = "stale"
	StateRefreshing State = "refreshing"
)

// Snapshot is what a refresh produces.
type Snapshot struct {
	Content     string
	SourceNames []string
	UserInfo    *model.UserInfo
	// Degraded marks a refresh where every remote source failed and nothing
	// else produced nodes. It never replaces non-empty cached content.
	Degraded bool
}

type RefreshFunc func(ctx context.Context) (Snapshot, error)

// Entry is the persisted form of one key.
type Entry struct {
	Key         string          `json:"key"`
	Content     string          `json:"content"`
	SourceNames []string        `json:"sourceNames,omitempty"`
	UserInfo    *model.UserInfo `json:"userInfo,omitempty"`
	RefreshedAt time.Time       `json:"refreshedAt"`
}

type Result struct {
	Content     string
	SourceNames []string
	UserInfo    *model.UserInfo
	Status      Status
	Age         time.Duration
}

type Options struct {
	TTL            time.Duration // default 30m
	RefreshTimeout time.Duration // default 60s
	Logger         logrus.FieldLogger
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Manager struct {
	kv    store.KV
	sched task.Scheduler
	opt   Options
	log   logrus.FieldLogger

	group singleflight.Group

	mu      sync.Mutex
	pending map[string]bool // background refresh scheduled or running
	running map[string]bool // a refresh function is executing

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New(kv store.KV, sched task.Scheduler, opt Options) (*Manager, error) {
	if kv == nil {
		return nil, errors.New("cache: nil store")
	}
	if sched == nil {
		return nil, errors.New("cache: nil scheduler")
	}
	opt = opt.withDefaults()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("cache: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("cache: zstd decoder: %w", err)
	}
	return &Manager{
		kv:      kv,
		sched:   sched,
		opt:     opt,
		log:     opt.Logger.WithField("component", "cache"),
		pending: make(map[string]bool),
		running: make(map[string]bool),
		enc:     enc,
		dec:     dec,
	}, nil
}

// Resolve answers from the cache when possible. Missing entries and force
// block on a refresh (joining one already in flight); stale entries are
// returned immediately and refreshed in the background.
func (m *Manager) Resolve(ctx context.Context, key string, force bool, refresh RefreshFunc) (Result, error) {
	now := m.opt.Now()

	var prev *Entry
	e, ok, err := m.Peek(ctx, key)
	if err != nil {
		m.log.WithError(err).WithField("key", key).Warn("cache read failed, treating as miss")
	} else if ok {
		prev = &e
	}

	if prev != nil && !force {
		age := now.Sub(prev.RefreshedAt)
		if age < m.opt.TTL {
			return resultFrom(*prev, StatusHit, age), nil
		}
		m.scheduleRefresh(key, prev.RefreshedAt, refresh)
		return resultFrom(*prev, StatusStale, age), nil
	}

	out, err := m.refreshNow(ctx, key, refresh)
	if err != nil {
		if prev != nil {
			m.log.WithError(err).WithField("key", key).Warn("forced refresh failed, serving cached entry")
			return resultFrom(*prev, StatusStale, now.Sub(prev.RefreshedAt)), nil
		}
		return Result{}, err
	}
	if out.kept {
		return resultFrom(out.entry, StatusStale, m.opt.Now().Sub(out.entry.RefreshedAt)), nil
	}
	return resultFrom(out.entry, StatusMiss, 0), nil
}

// Write stores snap as a fresh entry.
func (m *Manager) Write(ctx context.Context, key string, snap Snapshot) (Entry, error) {
	e := Entry{
		Key:         key,
		Content:     snap.Content,
		SourceNames: snap.SourceNames,
		UserInfo:    snap.UserInfo,
		RefreshedAt: m.opt.Now().UTC(),
	}
	b, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := m.kv.Put(ctx, keyPrefix+key, m.enc.EncodeAll(b, nil)); err != nil {
		return Entry{}, fmt.Errorf("cache: write entry: %w", err)
	}
	return e, nil
}

// Peek returns the stored entry without touching refresh state.
func (m *Manager) Peek(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := m.kv.Get(ctx, keyPrefix+key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	b, err := m.dec.DecodeAll(raw, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: decompress entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return e, true, nil
}

func (m *Manager) Status(ctx context.Context, key string) (State, error) {
	m.mu.Lock()
	busy := m.pending[key] || m.running[key]
	m.mu.Unlock()
	if busy {
		return StateRefreshing, nil
	}

	e, ok, err := m.Peek(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return StateMissing, nil
	}
	if m.opt.Now().Sub(e.RefreshedAt) < m.opt.TTL {
		return StateFresh, nil
	}
	return StateStale, nil
}

type outcome struct {
	entry Entry
	kept  bool // refresh result discarded, entry is the previous one
}

func (m *Manager) refreshNow(ctx context.Context, key string, refresh RefreshFunc) (outcome, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		return m.runRefresh(context.WithoutCancel(ctx), key, refresh)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return outcome{}, r.Err
		}
		return r.Val.(outcome), nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

// scheduleRefresh refreshes key in the background for a caller that saw the
// entry written at seen. The task runs on the scheduler's context, so a
// scheduler shutdown cancels it.
func (m *Manager) scheduleRefresh(key string, seen time.Time, refresh RefreshFunc) {
	m.mu.Lock()
	if m.pending[key] || m.running[key] {
		m.mu.Unlock()
		return
	}
	m.pending[key] = true
	m.mu.Unlock()

	err := m.sched.Go("cache-refresh", func(ctx context.Context) {
		defer m.clear(m.pending, key)
		// Another refresh may have completed after the caller read the entry.
		if e, ok, err := m.Peek(ctx, key); err == nil && ok && e.RefreshedAt.After(seen) {
			return
		}
		ch := m.group.DoChan(key, func() (any, error) {
			return m.runRefresh(ctx, key, refresh)
		})
		<-ch
	})
	if err != nil {
		m.clear(m.pending, key)
		m.log.WithError(err).WithField("key", key).Warn("background refresh not scheduled")
	}
}

func (m *Manager) runRefresh(ctx context.Context, key string, refresh RefreshFunc) (outcome, error) {
	m.mu.Lock()
	m.running[key] = true
	m.mu.Unlock()
	defer m.clear(m.running, key)

	ctx, cancel := context.WithTimeout(ctx, m.opt.RefreshTimeout)
	defer cancel()

	start := time.Now()
	log := m.log.WithField("key", key)

	snap, err := refresh(ctx)
	if err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Warn("refresh failed, keeping previous entry")
		return outcome{}, err
	}

	// The refresh may have used up the deadline; persisting must not fail
	// because of that.
	wctx := context.WithoutCancel(ctx)

	if snap.Degraded {
		prev, ok, perr := m.Peek(wctx, key)
		if perr == nil && ok && prev.Content != "" {
			log.WithField("elapsed", time.Since(start)).Warn("all sources failed, keeping previous entry")
			return outcome{entry: prev, kept: true}, nil
		}
	}

	e, err := m.Write(wctx, key, snap)
	if err != nil {
		log.WithError(err).Error("cache write failed")
		return outcome{}, err
	}
	log.WithFields(logrus.Fields{
		"elapsed": time.Since(start),
		"sources": len(snap.SourceNames),
	}).Debug("cache refreshed")
	return outcome{entry: e}, nil
}

func (m *Manager) clear(set map[string]bool, key string) {
	m.mu.Lock()
	delete(set, key)
	m.mu.Unlock()
}

func resultFrom(e Entry, st Status, age time.Duration) Result {
	if age < 0 {
		age = 0
	}
	return Result{
		Content:     e.Content,
		SourceNames: e.SourceNames,
		UserInfo:    e.UserInfo,
		Status:      st,
		Age:         age,
	}
}
