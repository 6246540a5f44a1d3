package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/John-Robertt/submerge-go/internal/model"
)

func TestMetrics_CountsRequestsAndErrors(t *testing.T) {
	metrics = newMetricsStore()

	up := newUpstream(t, nodeA, nil)
	h := newHarness(t,
		model.Settings{Token: "tok", SubConverter: deadServerURL()},
		[]model.Source{{ID: "s1", URL: up.URL, Enabled: true}},
		nil,
	)

	if rr := h.get(t, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr := h.get(t, "/nope", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("sub status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr := h.get(t, "/tok?target=clash", ""); rr.Code != http.StatusOK {
		t.Fatalf("sub status=%d body=%q", rr.Code, rr.Body.String())
	}

	// The /metrics request itself is counted after its response is written.
	rr := h.get(t, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()

	for _, want := range []string{
		"submerge_http_requests_total 3\n",
		`pattern="GET /healthz",status="200"} 1`,
		`pattern="GET /{token}",status="403"} 1`,
		`pattern="GET /{token}",status="200"} 1`,
		`submerge_app_errors_total{stage="select",code="INVALID_IDENTITY"} 1`,
		`submerge_cache_results_total{result="miss"} 1`,
		`submerge_upstream_fetch_total{method="direct"} 1`,
		"submerge_converter_fallback_total 1\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics body missing %q, got:\n%s", want, body)
		}
	}
}

func TestPromLabelEscape(t *testing.T) {
	if got, want := promLabelEscape("a\"b\\c\nd"), `a\"b\\c\nd`; got != want {
		t.Fatalf("escape=%q, want=%q", got, want)
	}
}
