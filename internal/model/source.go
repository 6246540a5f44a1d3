package model

import (
	"strings"
	"time"
)

// Source is one configured upstream entry. URL is either a remote feed
// (http/https) or a raw node link ("manual node").
type Source struct {
	ID       string    `json:"id" yaml:"id"`
	URL      string    `json:"url" yaml:"url"`
	Name     string    `json:"name" yaml:"name"`
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	UserInfo *UserInfo `json:"userInfo,omitempty" yaml:"userInfo,omitempty"`
}

// IsRemote reports whether the source must be fetched over HTTP.
func (s Source) IsRemote() bool {
	u := strings.ToLower(strings.TrimSpace(s.URL))
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// DisplayName is the name used for prefixing and logs.
func (s Source) DisplayName() string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return s.ID
}

// Profile selects a subset of sources under its own shareable link.
type Profile struct {
	ID            string     `json:"id" yaml:"id"`
	CustomID      string     `json:"customId,omitempty" yaml:"customId,omitempty"`
	Name          string     `json:"name" yaml:"name"`
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	Subscriptions []string   `json:"subscriptions" yaml:"subscriptions"`
	ManualNodes   []string   `json:"manualNodes" yaml:"manualNodes"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	SubConverter  string     `json:"subConverter,omitempty" yaml:"subConverter,omitempty"`
	SubConfig     string     `json:"subConfig,omitempty" yaml:"subConfig,omitempty"`
}

// Expired reports whether the profile expiry lies strictly before now.
func (p Profile) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// Matches reports whether id addresses this profile by id or custom id.
func (p Profile) Matches(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	return p.ID == id || (p.CustomID != "" && p.CustomID == id)
}

// PrefixPolicy controls name prefixing per source class.
type PrefixPolicy struct {
	Manual       bool `json:"manual" yaml:"manual"`
	Subscription bool `json:"subscription" yaml:"subscription"`
}

// Settings is the operator-controlled record shared by all requests.
type Settings struct {
	Token            string       `json:"token" yaml:"token"`
	ProfileToken     string       `json:"profileToken" yaml:"profileToken"`
	FileName         string       `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	SubConverter     string       `json:"subConverter,omitempty" yaml:"subConverter,omitempty"`
	SubConfig        string       `json:"subConfig,omitempty" yaml:"subConfig,omitempty"`
	ConverterMirrors []string     `json:"converterMirrors,omitempty" yaml:"converterMirrors,omitempty"`
	UserAgent        string       `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Prefix           PrefixPolicy `json:"prefix" yaml:"prefix"`
}

// UserInfo mirrors the subscription-userinfo header (bytes / unix seconds).
type UserInfo struct {
	Upload   int64 `json:"upload" yaml:"upload"`
	Download int64 `json:"download" yaml:"download"`
	Total    int64 `json:"total" yaml:"total"`
	Expire   int64 `json:"expire,omitempty" yaml:"expire,omitempty"`
}
