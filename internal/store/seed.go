package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// Seed is the YAML document accepted by the import command.
type Seed struct {
	Settings      model.Settings  `yaml:"settings"`
	Subscriptions []model.Source  `yaml:"subscriptions"`
	Profiles      []model.Profile `yaml:"profiles"`
}

type seedSource struct {
	ID       string          `yaml:"id"`
	URL      string          `yaml:"url"`
	Name     string          `yaml:"name"`
	Enabled  *bool           `yaml:"enabled"`
	UserInfo *model.UserInfo `yaml:"userInfo"`
}

type seedProfile struct {
	ID            string     `yaml:"id"`
	CustomID      string     `yaml:"customId"`
	Name          string     `yaml:"name"`
	Enabled       *bool      `yaml:"enabled"`
	Subscriptions []string   `yaml:"subscriptions"`
	ManualNodes   []string   `yaml:"manualNodes"`
	ExpiresAt     *time.Time `yaml:"expiresAt"`
	SubConverter  string     `yaml:"subConverter"`
	SubConfig     string     `yaml:"subConfig"`
}

// LoadSeed decodes and validates a seed document. Sources and profiles
// without an id get a random one; enabled defaults to true when omitted.
func LoadSeed(r io.Reader) (Seed, error) {
	var raw struct {
		Settings      model.Settings `yaml:"settings"`
		Subscriptions []seedSource   `yaml:"subscriptions"`
		Profiles      []seedProfile  `yaml:"profiles"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Seed{}, errors.New("seed: empty document")
		}
		return Seed{}, fmt.Errorf("seed: %w", err)
	}

	seed := Seed{Settings: raw.Settings}
	seen := map[string]bool{}
	for i, s := range raw.Subscriptions {
		src := model.Source{
			ID:       strings.TrimSpace(s.ID),
			URL:      strings.TrimSpace(s.URL),
			Name:     strings.TrimSpace(s.Name),
			Enabled:  s.Enabled == nil || *s.Enabled,
			UserInfo: s.UserInfo,
		}
		if src.URL == "" {
			return Seed{}, fmt.Errorf("seed: subscriptions[%d]: url is required", i)
		}
		if src.ID == "" {
			src.ID = uuid.NewString()
		}
		if seen[src.ID] {
			return Seed{}, fmt.Errorf("seed: duplicate subscription id %q", src.ID)
		}
		seen[src.ID] = true
		seed.Subscriptions = append(seed.Subscriptions, src)
	}

	for i, p := range raw.Profiles {
		prof := model.Profile{
			ID:            strings.TrimSpace(p.ID),
			CustomID:      strings.TrimSpace(p.CustomID),
			Name:          strings.TrimSpace(p.Name),
			Enabled:       p.Enabled == nil || *p.Enabled,
			Subscriptions: p.Subscriptions,
			ManualNodes:   p.ManualNodes,
			ExpiresAt:     p.ExpiresAt,
			SubConverter:  strings.TrimSpace(p.SubConverter),
			SubConfig:     strings.TrimSpace(p.SubConfig),
		}
		if prof.ID == "" {
			prof.ID = uuid.NewString()
		}
		for _, id := range prof.Subscriptions {
			if !seen[id] {
				return Seed{}, fmt.Errorf("seed: profiles[%d]: unknown subscription id %q", i, id)
			}
		}
		seed.Profiles = append(seed.Profiles, prof)
	}
	return seed, nil
}

// Import replaces all three records with the seed contents.
func (r *Records) Import(ctx context.Context, seed Seed) error {
	if err := r.PutSettings(ctx, seed.Settings); err != nil {
		return err
	}
	if err := r.PutSources(ctx, seed.Subscriptions); err != nil {
		return err
	}
	return r.PutProfiles(ctx, seed.Profiles)
}
