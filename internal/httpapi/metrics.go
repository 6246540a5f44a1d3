package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// metricsStore holds a handful of process-wide counters rendered in the
// Prometheus text format.
type metricsStore struct {
	mu sync.Mutex

	httpRequestsTotal uint64
	httpByPattern     map[reqKey]uint64

	appErrors map[errKey]uint64

	cacheResults      map[string]uint64
	upstreamFetches   map[string]uint64
	converterFallback uint64
}

type reqKey struct {
	Pattern string
	Status  int
}

type errKey struct {
	Stage string
	Code  string
}

func newMetricsStore() *metricsStore {
	return &metricsStore{
		httpByPattern: make(map[reqKey]uint64),
		appErrors:     make(map[errKey]uint64),

		cacheResults:    make(map[string]uint64),
		upstreamFetches: make(map[string]uint64),
	}
}

var metrics = newMetricsStore()

func metricsIncRequest(pattern string, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	if pattern == "" {
		pattern = "(unknown)"
	}

	metrics.mu.Lock()
	metrics.httpRequestsTotal++
	metrics.httpByPattern[reqKey{Pattern: pattern, Status: status}]++
	metrics.mu.Unlock()
}

func metricsIncAppError(stage, code string) {
	stage = strings.TrimSpace(stage)
	code = strings.TrimSpace(code)
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}

	metrics.mu.Lock()
	metrics.appErrors[errKey{Stage: stage, Code: code}]++
	metrics.mu.Unlock()
}

func metricsIncCacheResult(result string) {
	metrics.mu.Lock()
	metrics.cacheResults[strings.ToLower(result)]++
	metrics.mu.Unlock()
}

func metricsIncConverterFallback() {
	metrics.mu.Lock()
	metrics.converterFallback++
	metrics.mu.Unlock()
}

// ObserveFetch counts one upstream subscription fetch by the method that
// produced its outcome.
func ObserveFetch(method model.FetchMethod) {
	m := string(method)
	if m == "" {
		m = "(unknown)"
	}
	metrics.mu.Lock()
	metrics.upstreamFetches[m]++
	metrics.mu.Unlock()
}

type reqMetric struct {
	reqKey
	N uint64
}

type errMetric struct {
	errKey
	N uint64
}

type labeledMetric struct {
	Label string
	N     uint64
}

type metricsView struct {
	httpTotal uint64
	reqs      []reqMetric
	errs      []errMetric
	cache     []labeledMetric
	fetches   []labeledMetric
	fallback  uint64
}

func sortedLabels(m map[string]uint64) []labeledMetric {
	out := make([]labeledMetric, 0, len(m))
	for k, n := range m {
		out = append(out, labeledMetric{Label: k, N: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func metricsSnapshot() metricsView {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	reqs := make([]reqMetric, 0, len(metrics.httpByPattern))
	for k, n := range metrics.httpByPattern {
		reqs = append(reqs, reqMetric{reqKey: k, N: n})
	}
	errs := make([]errMetric, 0, len(metrics.appErrors))
	for k, n := range metrics.appErrors {
		errs = append(errs, errMetric{errKey: k, N: n})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Pattern != reqs[j].Pattern {
			return reqs[i].Pattern < reqs[j].Pattern
		}
		return reqs[i].Status < reqs[j].Status
	})
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Stage != errs[j].Stage {
			return errs[i].Stage < errs[j].Stage
		}
		return errs[i].Code < errs[j].Code
	})
	return metricsView{
		httpTotal: metrics.httpRequestsTotal,
		reqs:      reqs,
		errs:      errs,
		cache:     sortedLabels(metrics.cacheResults),
		fetches:   sortedLabels(metrics.upstreamFetches),
		fallback:  metrics.converterFallback,
	}
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	v := metricsSnapshot()

	var b strings.Builder

	b.WriteString("# HELP submerge_http_requests_total Total HTTP requests.\n")
	b.WriteString("# TYPE submerge_http_requests_total counter\n")
	b.WriteString("submerge_http_requests_total ")
	b.WriteString(strconv.FormatUint(v.httpTotal, 10))
	b.WriteByte('\n')

	b.WriteString("# HELP submerge_http_requests_by_pattern_total HTTP requests by ServeMux pattern and status.\n")
	b.WriteString("# TYPE submerge_http_requests_by_pattern_total counter\n")
	for _, m := range v.reqs {
		b.WriteString("submerge_http_requests_by_pattern_total{pattern=\"")
		b.WriteString(promLabelEscape(m.Pattern))
		b.WriteString("\",status=\"")
		b.WriteString(strconv.Itoa(m.Status))
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(m.N, 10))
		b.WriteByte('\n')
	}

	b.WriteString("# HELP submerge_app_errors_total Application errors returned to clients.\n")
	b.WriteString("# TYPE submerge_app_errors_total counter\n")
	for _, m := range v.errs {
		b.WriteString("submerge_app_errors_total{stage=\"")
		b.WriteString(promLabelEscape(m.Stage))
		b.WriteString("\",code=\"")
		b.WriteString(promLabelEscape(m.Code))
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(m.N, 10))
		b.WriteByte('\n')
	}

	writeLabeled(&b, "submerge_cache_results_total", "Subscription responses by cache result.", "result", v.cache)
	writeLabeled(&b, "submerge_upstream_fetch_total", "Upstream subscription fetches by method.", "method", v.fetches)

	b.WriteString("# HELP submerge_converter_fallback_total Responses degraded to base64 after every converter failed.\n")
	b.WriteString("# TYPE submerge_converter_fallback_total counter\n")
	b.WriteString("submerge_converter_fallback_total ")
	b.WriteString(strconv.FormatUint(v.fallback, 10))
	b.WriteByte('\n')

	_, _ = fmt.Fprint(w, b.String())
}

func writeLabeled(b *strings.Builder, name, help, label string, ms []labeledMetric) {
	b.WriteString("# HELP " + name + " " + help + "\n")
	b.WriteString("# TYPE " + name + " counter\n")
	for _, m := range ms {
		b.WriteString(name)
		b.WriteString("{" + label + "=\"")
		b.WriteString(promLabelEscape(m.Label))
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(m.N, 10))
		b.WriteByte('\n')
	}
}

func promLabelEscape(s string) string {
	// Prometheus label value escaping: backslash and double quote.
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
