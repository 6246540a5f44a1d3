// Package store defines the key-value storage collaborator and typed access
// to the records the service reads from it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// Record keys.
const (
	KeySubscriptions = "subscriptions"
	KeyProfiles      = "profiles"
	KeySettings      = "settings"
)

// KV is a flat byte store. Get reports ok=false for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

var ErrEmptyKey = errors.New("store: empty key")

// Memory is an in-process KV. Values are copied on the way in and out.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Memory) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.m[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

// Records reads and writes the JSON-encoded configuration records.
type Records struct {
	kv KV
}

func NewRecords(kv KV) *Records {
	return &Records{kv: kv}
}

func (r *Records) Sources(ctx context.Context) ([]model.Source, error) {
	var out []model.Source
	if err := r.get(ctx, KeySubscriptions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Records) Profiles(ctx context.Context) ([]model.Profile, error) {
	var out []model.Profile
	if err := r.get(ctx, KeyProfiles, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Settings returns the zero value when nothing has been stored yet.
func (r *Records) Settings(ctx context.Context) (model.Settings, error) {
	var out model.Settings
	if err := r.get(ctx, KeySettings, &out); err != nil {
		return model.Settings{}, err
	}
	return out, nil
}

func (r *Records) PutSources(ctx context.Context, v []model.Source) error {
	return r.put(ctx, KeySubscriptions, v)
}

func (r *Records) PutProfiles(ctx context.Context, v []model.Profile) error {
	return r.put(ctx, KeyProfiles, v)
}

func (r *Records) PutSettings(ctx context.Context, v model.Settings) error {
	return r.put(ctx, KeySettings, v)
}

func (r *Records) get(ctx context.Context, key string, dst any) error {
	b, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Records) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
