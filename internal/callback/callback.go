// Package callback issues the short-lived tokens the external converter uses
// to fetch an aggregated node list back from this service.
package callback

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 5 * time.Minute

// Path is the route the converter calls back on.
const Path = "/internal/callback"

var ErrInvalidToken = errors.New("callback token invalid")

// Claims identify a cache entry. Expired asks for the expired-profile
// sentinel instead of the cached list.
type Claims struct {
	Expired bool `json:"xp,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("callback secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: append([]byte(nil), secret...), ttl: ttl, now: time.Now}, nil
}

// Sign returns a token for the given cache key.
func (s *Signer) Sign(subject string, expired bool) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("callback subject is empty")
	}
	now := s.now()
	claims := Claims{
		Expired: expired,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return tok, nil
}

func (s *Signer) Verify(token string) (Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// URL builds the callback URL under baseURL for subject.
func (s *Signer) URL(baseURL, subject string, expired bool) (string, error) {
	tok, err := s.Sign(subject, expired)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(baseURL, "/") + Path + "?token=" + url.QueryEscape(tok), nil
}
