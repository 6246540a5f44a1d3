package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/submerge-go/internal/model"
)

const (
	DefaultDirectTimeout   = 10 * time.Second
	DefaultIndirectTimeout = 15 * time.Second
)

var (
	errEmptyBody     = errors.New("empty body")
	errChallengePage = errors.New("bot challenge page")
)

type FallbackOptions struct {
	UserAgent string
	// ConverterHost enables the indirect tier when non-empty.
	ConverterHost   string
	DirectTimeout   time.Duration
	IndirectTimeout time.Duration
	Retry           RetryOptions
	Logger          logrus.FieldLogger
}

func (o FallbackOptions) withDefaults() FallbackOptions {
	if o.DirectTimeout <= 0 {
		o.DirectTimeout = DefaultDirectTimeout
	}
	if o.IndirectTimeout <= 0 {
		o.IndirectTimeout = DefaultIndirectTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// FetchWithFallback fetches one subscription source: directly first, then
// through the converter service. It never returns an error; failures are
// reported in the result so one bad source cannot fail a whole refresh.
func FetchWithFallback(ctx context.Context, rawURL string, opt FallbackOptions) model.FetchResult {
	opt = opt.withDefaults()
	start := time.Now()
	log := opt.Logger.WithField("url", rawURL)

	resp, directErr := fetchDirect(ctx, rawURL, opt)
	if directErr == nil {
		res := model.FetchResult{
			Success:       true,
			Content:       resp.Body,
			UserAgentUsed: opt.UserAgent,
			Method:        model.FetchDirect,
		}
		if ui, ok := model.ParseUserInfo(resp.Header.Get("Subscription-Userinfo")); ok {
			res.UserInfo = ui
		}
		return res
	}
	log.WithError(directErr).Debug("direct fetch failed")

	host := strings.TrimSpace(opt.ConverterHost)
	if host == "" {
		err := fmt.Errorf("direct: %w; indirect: no converter host configured", directErr)
		log.WithError(err).WithField("elapsed", time.Since(start).Round(time.Millisecond)).Warn("source unreachable")
		return failed(opt.UserAgent, err)
	}

	content, indirectErr := fetchIndirect(ctx, host, rawURL, opt)
	if indirectErr == nil {
		log.WithField("converter", host).Info("source fetched through converter")
		return model.FetchResult{
			Success:       true,
			Content:       content,
			UserAgentUsed: opt.UserAgent,
			Method:        model.FetchIndirect,
		}
	}

	err := errors.Join(fmt.Errorf("direct: %w", directErr), fmt.Errorf("indirect: %w", indirectErr))
	log.WithError(err).WithField("elapsed", time.Since(start).Round(time.Millisecond)).Warn("source unreachable")
	return failed(opt.UserAgent, err)
}

func failed(ua string, err error) model.FetchResult {
	return model.FetchResult{
		Success:       false,
		UserAgentUsed: ua,
		Method:        model.FetchFailed,
		Error:         strings.ReplaceAll(err.Error(), "\n", "; "),
	}
}

func fetchDirect(ctx context.Context, rawURL string, opt FallbackOptions) (*Response, error) {
	resp, err := Retry(ctx, opt.Retry, func(ctx context.Context) (*Response, error) {
		return Fetch(ctx, KindSubscription, rawURL, Options{
			Timeout:   opt.DirectTimeout,
			UserAgent: opt.UserAgent,
			Insecure:  true,
		})
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Body) == "" {
		return nil, errEmptyBody
	}
	if IsChallengePage(resp.Body) {
		return nil, errChallengePage
	}
	return resp, nil
}

func fetchIndirect(ctx context.Context, host, rawURL string, opt FallbackOptions) (string, error) {
	resp, err := Fetch(ctx, KindIndirect, IndirectURL(host, rawURL), Options{
		Timeout:   opt.IndirectTimeout,
		UserAgent: opt.UserAgent,
	})
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(resp.Body)
	if body == "" {
		return "", errEmptyBody
	}
	if decoded, ok := decodeBase64Text(body); ok {
		return decoded, nil
	}
	// Not base64 after all: hand the raw body to the normalizer.
	return body, nil
}

// IndirectURL asks the converter at host to re-emit rawURL as base64.
func IndirectURL(host, rawURL string) string {
	base := strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	q := url.Values{}
	q.Set("target", "base64")
	q.Set("url", rawURL)
	q.Set("insert", "false")
	return base + "/sub?" + q.Encode()
}

func decodeBase64Text(s string) (string, bool) {
	s = strings.Join(strings.Fields(s), "")
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil && utf8.Valid(b) {
			return string(b), true
		}
	}
	return "", false
}
