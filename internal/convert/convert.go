// Package convert calls an external subscription converter and degrades to
// plain base64 output when no endpoint answers.
package convert

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/uapolicy"
)

const DefaultTimeout = 15 * time.Second

// maxErrorHeader bounds the diagnostic header value.
const maxErrorHeader = 200

// Attempt records one failed endpoint.
type Attempt struct {
	Endpoint string
	Err      error
}

type ConverterError struct {
	AppError model.AppError
	Attempts []Attempt
}

func (e *ConverterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return fmt.Sprintf("%s: %s: %s", e.AppError.Code, e.AppError.Message, strings.Join(parts, "; "))
}

func (e *ConverterError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Endpoints lists every endpoint that was tried.
func (e *ConverterError) Endpoints() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Endpoint)
	}
	return out
}

var errEmptyResponse = errors.New("converter returned an empty body")

// FetchFromCandidates GETs {candidate}/sub?{params} on each candidate in
// order with a per-attempt timeout and returns the first non-empty 2xx body.
func FetchFromCandidates(ctx context.Context, candidates []string, params url.Values, timeout time.Duration, log logrus.FieldLogger) (string, string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	cerr := &ConverterError{
		AppError: model.AppError{
			Code:    "CONVERTER_UNREACHABLE",
			Message: "all converter endpoints failed",
			Stage:   "convert",
		},
	}
	if len(candidates) == 0 {
		cerr.AppError.Message = "no converter endpoint configured"
		return "", "", cerr
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			cerr.Attempts = append(cerr.Attempts, Attempt{Endpoint: c, Err: err})
			break
		}
		start := time.Now()
		endpoint := c + "/sub?" + params.Encode()
		resp, err := fetch.Fetch(ctx, fetch.KindConverter, endpoint, fetch.Options{
			Timeout: timeout,
			// Converters want a client UA to pick the right template.
			UserAgent: uapolicy.DefaultOutboundUA,
		})
		if err == nil && strings.TrimSpace(resp.Body) == "" {
			err = errEmptyResponse
		}
		if err == nil {
			return resp.Body, c, nil
		}
		log.WithFields(logrus.Fields{
			"endpoint": c,
			"elapsed":  time.Since(start),
		}).WithError(err).Warn("converter endpoint failed")
		cerr.Attempts = append(cerr.Attempts, Attempt{Endpoint: c, Err: err})
	}
	cerr.AppError.URL = strings.Join(cerr.Endpoints(), ",")
	return "", "", cerr
}

type Request struct {
	Host        string
	Mirrors     []string
	Config      string // remote rule template URL, optional
	CallbackURL string // where the converter reads the node list
	Timeout     time.Duration
	Logger      logrus.FieldLogger
}

// Response is the final body plus what the HTTP layer needs to describe it.
type Response struct {
	Status   int
	Body     string
	Endpoint string // converter that answered, empty otherwise
	Fallback bool   // degraded to base64
	Error    string // truncated diagnostic, set on degraded paths
	Err      error
}

// Convert renders nodes (newline-joined links) in format. A base64 target is
// encoded locally. When every converter fails, non-empty node lists degrade
// to base64 with 200; an empty list yields 502.
func Convert(ctx context.Context, nodes string, format uapolicy.Format, req Request) Response {
	if format == uapolicy.FormatBase64 {
		return Response{Status: http.StatusOK, Body: EncodeBase64(nodes)}
	}

	params := url.Values{}
	params.Set("target", string(format))
	if format == uapolicy.FormatSurge {
		params.Set("ver", "4")
	}
	params.Set("url", req.CallbackURL)
	if strings.TrimSpace(req.Config) != "" {
		params.Set("config", strings.TrimSpace(req.Config))
	}
	params.Set("new_name", "true")

	body, endpoint, err := FetchFromCandidates(ctx, Candidates(req.Host, req.Mirrors), params, req.Timeout, req.Logger)
	if err == nil {
		return Response{Status: http.StatusOK, Body: body, Endpoint: endpoint}
	}

	if strings.TrimSpace(nodes) == "" {
		return Response{Status: http.StatusBadGateway, Err: err, Error: truncate(err.Error(), maxErrorHeader)}
	}
	return Response{
		Status:   http.StatusOK,
		Body:     EncodeBase64(nodes),
		Fallback: true,
		Error:    truncate(err.Error(), maxErrorHeader),
		Err:      err,
	}
}

func EncodeBase64(nodes string) string {
	return base64.StdEncoding.EncodeToString([]byte(nodes))
}

func truncate(s string, max int) string {
	// Header values cannot carry line breaks.
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
