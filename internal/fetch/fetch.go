package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/submerge-go/internal/model"
)

type Kind int

const (
	KindSubscription Kind = iota
	KindIndirect
	KindConverter
)

func (k Kind) stage() string {
	switch k {
	case KindSubscription:
		return "fetch_sub"
	case KindIndirect:
		return "fetch_indirect"
	case KindConverter:
		return "convert"
	default:
		return "fetch"
	}
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindSubscription, KindIndirect:
		return 5 * 1024 * 1024
	case KindConverter:
		return 8 * 1024 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5
	UserAgent    string
	// Insecure skips TLS verification. Upstream feeds are often self-signed
	// and their content is not secret.
	Insecure bool
}

// Response is a successfully fetched text body.
type Response struct {
	Body   string
	Header http.Header
	URL    string // final URL after redirects
}

type FetchError struct {
	Status int
	// UpstreamStatus is the HTTP status the remote returned, 0 when the
	// request never produced a response.
	UpstreamStatus int
	AppError       model.AppError
	Cause          error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Transient reports whether the failure is a timeout or a network error.
// HTTP status failures (4xx and 5xx alike) are never transient.
func (e *FetchError) Transient() bool {
	if e == nil || e.UpstreamStatus != 0 {
		return false
	}
	switch e.AppError.Code {
	case "FETCH_TIMEOUT":
		return true
	case "FETCH_FAILED":
		return e.Cause != nil && !errors.Is(e.Cause, errTooManyRedirects)
	default:
		return false
	}
}

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

var (
	strictTransport = sync.OnceValue(func() *http.Transport {
		return http.DefaultTransport.(*http.Transport).Clone()
	})
	insecureTransport = sync.OnceValue(func() *http.Transport {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		return t
	})
)

func Fetch(ctx context.Context, kind Kind, rawURL string, opt Options) (*Response, error) {
	stage := kind.stage()

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = kind.defaultMaxBytes()
	}
	if maxBytes <= 0 {
		return nil, &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "response size limit must be > 0",
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "only http/https URLs are allowed",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: errors.Join(errInvalidURLOrScheme, err),
		}
	}

	transport := strictTransport()
	if opt.Insecure {
		transport = insecureTransport()
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1, 5th redirect => len(via)==5.
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "invalid request URL",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if opt.UserAgent != "" {
		req.Header.Set("User-Agent", opt.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if errors.Is(err, errTooManyRedirects) {
			return nil, &FetchError{
				Status: http.StatusBadGateway,
				AppError: model.AppError{
					Code:    "FETCH_FAILED",
					Message: fmt.Sprintf("too many redirects (>%d)", maxRedirects),
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}
		if errors.Is(err, errRedirectBadScheme) {
			return nil, &FetchError{
				Status: http.StatusBadRequest,
				AppError: model.AppError{
					Code:    "INVALID_ARGUMENT",
					Message: "redirect target must be http/https",
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}

		// Go may wrap timeouts (e.g. *url.Error).
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutError(stage, rawURL, err)
		}

		return nil, &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "remote request failed",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Status:         http.StatusBadGateway,
			UpstreamStatus: resp.StatusCode,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: fmt.Sprintf("upstream returned non-2xx status: %d", resp.StatusCode),
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, timeoutError(stage, rawURL, err)
		}
		return nil, &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "reading upstream response failed",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if int64(len(body)) > maxBytes {
		return nil, &FetchError{
			Status:         http.StatusUnprocessableEntity,
			UpstreamStatus: resp.StatusCode,
			AppError: model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("remote resource too large (>%d bytes)", maxBytes),
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}
	if !utf8.Valid(body) {
		return nil, &FetchError{
			Status:         http.StatusUnprocessableEntity,
			UpstreamStatus: resp.StatusCode,
			AppError: model.AppError{
				Code:    "FETCH_INVALID_UTF8",
				Message: "remote resource is not valid UTF-8 text",
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}

	return &Response{
		Body:   string(body),
		Header: resp.Header,
		URL:    resp.Request.URL.String(),
	}, nil
}

func timeoutError(stage, rawURL string, cause error) *FetchError {
	return &FetchError{
		Status: http.StatusGatewayTimeout,
		AppError: model.AppError{
			Code:    "FETCH_TIMEOUT",
			Message: "remote request timed out",
			Stage:   stage,
			URL:     rawURL,
		},
		Cause: cause,
	}
}
