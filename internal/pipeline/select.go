// Package pipeline resolves a caller identity to its sources and builds the
// refresh function that turns those sources into one node list.
package pipeline

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// ExpiredNode replaces the whole list of an expired profile.
const ExpiredNode = "trojan://00000000-0000-0000-0000-000000000000@127.0.0.1:443#Subscription%20Expired"

type IdentityError struct {
	Status   int
	AppError model.AppError
}

func (e *IdentityError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
}

func forbidden() error {
	return &IdentityError{
		Status: http.StatusForbidden,
		AppError: model.AppError{
			Code:    "INVALID_IDENTITY",
			Message: "unknown token",
			Stage:   "select",
		},
	}
}

func notFound(id string) error {
	return &IdentityError{
		Status: http.StatusNotFound,
		AppError: model.AppError{
			Code:    "PROFILE_NOT_FOUND",
			Message: "profile not found or disabled",
			Stage:   "select",
			Hint:    "profile: " + id,
		},
	}
}

// Selection is everything a request needs after identity resolution.
type Selection struct {
	Key          string
	Sources      []model.Source // enabled, in configuration order
	Profile      *model.Profile
	Expired      bool
	FileName     string
	SubConverter string
	SubConfig    string
	Settings     model.Settings
}

// CacheKey fingerprints an identity. kind is "token" or "profile".
func CacheKey(kind, id string) string {
	sum := sha256.Sum256([]byte(kind + ":" + id))
	return hex.EncodeToString(sum[:16])
}

// Select maps (token, profileID) to a Selection. Without a profile the main
// token selects every enabled source; with one, the profile token selects
// that profile's enabled members.
func (p *Pipeline) Select(ctx context.Context, token, profileID string) (Selection, error) {
	settings, err := p.records.Settings(ctx)
	if err != nil {
		return Selection{}, err
	}
	sources, err := p.records.Sources(ctx)
	if err != nil {
		return Selection{}, err
	}
	enabled := lo.Filter(sources, func(s model.Source, _ int) bool {
		return s.Enabled && strings.TrimSpace(s.URL) != ""
	})

	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		if !tokenEqual(token, settings.Token) {
			return Selection{}, forbidden()
		}
		return Selection{
			Key:          CacheKey("token", settings.Token),
			Sources:      enabled,
			FileName:     settings.FileName,
			SubConverter: settings.SubConverter,
			SubConfig:    settings.SubConfig,
			Settings:     settings,
		}, nil
	}

	if !tokenEqual(token, settings.ProfileToken) {
		return Selection{}, forbidden()
	}
	profiles, err := p.records.Profiles(ctx)
	if err != nil {
		return Selection{}, err
	}
	prof, ok := lo.Find(profiles, func(pr model.Profile) bool { return pr.Matches(profileID) })
	if !ok || !prof.Enabled {
		return Selection{}, notFound(profileID)
	}

	members := lo.Uniq(append(append([]string(nil), prof.Subscriptions...), prof.ManualNodes...))
	sel := Selection{
		Key:          CacheKey("profile", prof.ID),
		Sources:      lo.Filter(enabled, func(s model.Source, _ int) bool { return lo.Contains(members, s.ID) }),
		Profile:      &prof,
		Expired:      prof.Expired(p.opt.Now()),
		FileName:     lo.CoalesceOrEmpty(strings.TrimSpace(prof.Name), settings.FileName),
		SubConverter: lo.CoalesceOrEmpty(prof.SubConverter, settings.SubConverter),
		SubConfig:    lo.CoalesceOrEmpty(prof.SubConfig, settings.SubConfig),
		Settings:     settings,
	}
	return sel, nil
}

func tokenEqual(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
