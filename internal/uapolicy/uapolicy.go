// Package uapolicy decides the outbound User-Agent for upstream fetches and
// the output format requested by a client.
package uapolicy

import (
	"net/url"
	"strings"
)

// DefaultOutboundUA impersonates a permissive client: many feeds filter their
// node list by User-Agent.
const DefaultOutboundUA = "v2rayN/7.23"

type Format string

const (
	FormatClash   Format = "clash"
	FormatSingbox Format = "singbox"
	FormatSurge   Format = "surge"
	FormatLoon    Format = "loon"
	FormatBase64  Format = "base64"
)

// legacyFlags is checked in order; the first present flag wins.
var legacyFlags = []struct {
	keys   []string
	format Format
}{
	{[]string{"clash"}, FormatClash},
	{[]string{"singbox", "sb"}, FormatSingbox},
	{[]string{"surge"}, FormatSurge},
	{[]string{"loon"}, FormatLoon},
	{[]string{"base64", "b64"}, FormatBase64},
}

// OutboundUserAgent returns the UA used for upstream fetches. The declared
// client UA is ignored on purpose; override is the operator's configured UA.
func OutboundUserAgent(declared, override string) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	return DefaultOutboundUA
}

// TargetFormat resolves the output format:
// target= > legacy flags > UA sniffing > clash.
func TargetFormat(requestUA string, q url.Values) Format {
	if t := strings.ToLower(strings.TrimSpace(q.Get("target"))); t != "" {
		switch t {
		case "sb", "sing-box":
			return FormatSingbox
		case "b64":
			return FormatBase64
		}
		return Format(t)
	}
	for _, f := range legacyFlags {
		for _, k := range f.keys {
			if q.Has(k) {
				return f.format
			}
		}
	}
	if strings.Contains(strings.ToLower(requestUA), "sing-box") {
		return FormatSingbox
	}
	return FormatClash
}
