// Package node normalizes subscription text into canonical node links.
//
// Links are treated as opaque strings: only the scheme (for allow-listing)
// and the display name are understood. vmess is the exception, its payload
// is base64 JSON and is canonicalized so that equal nodes dedupe.
package node

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Schemes lists the protocol families that survive normalization.
var Schemes = []string{
	"ss", "ssr", "vmess", "vless", "trojan",
	"hysteria", "hysteria2", "hy2", "tuic", "anytls",
}

// Stats counts what happened to each input line.
type Stats struct {
	Lines       int // non-empty input lines
	Kept        int
	Unsupported int // scheme not allow-listed
	Malformed   int // undecodable payload
	Injected    int // display name carries an embedded URL
}

// Normalize turns raw subscription text (plain or base64-wrapped) into node
// links. When applyPrefix is set, every name is prefixed with sourceName.
// Bad lines are dropped and counted; they never fail the whole list.
func Normalize(raw, sourceName string, applyPrefix bool) ([]string, Stats) {
	var st Stats

	text := decodeIfBase64(stripUTF8BOM(raw))

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		// TrimSpace also drops the \r of CRLF input.
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		st.Lines++

		scheme, ok := SchemeOf(line)
		if !ok {
			st.Unsupported++
			continue
		}

		link := line
		if scheme == "vmess" {
			canon, err := CanonicalVmess(line)
			if err != nil {
				st.Malformed++
				continue
			}
			link = canon
		}

		name, err := DisplayName(link)
		if err != nil {
			st.Malformed++
			continue
		}
		if strings.Contains(name, "://") {
			st.Injected++
			continue
		}

		if applyPrefix {
			link, err = PrependName(link, sourceName)
			if err != nil {
				st.Malformed++
				continue
			}
		}

		out = append(out, link)
		st.Kept++
	}
	return out, st
}

// SchemeOf returns the lower-cased allow-listed scheme of link.
func SchemeOf(link string) (string, bool) {
	i := strings.Index(link, "://")
	if i <= 0 {
		return "", false
	}
	scheme := strings.ToLower(link[:i])
	for _, s := range Schemes {
		if s == scheme {
			return scheme, true
		}
	}
	return "", false
}

// decodeIfBase64 decodes text when it plausibly is a base64 blob; otherwise
// (or when decoding fails) the original text is returned.
func decodeIfBase64(text string) string {
	compact := removeSpaceTabCRLF(strings.TrimSpace(text))
	if len(compact) <= 20 || !isBase64Alphabet(compact) {
		return text
	}
	b, err := decodeB64ToBytes(compact)
	if err != nil || !utf8.Valid(b) {
		return text
	}
	return stripUTF8BOM(string(b))
}

func isBase64Alphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func decodeB64ToBytes(s string) ([]byte, error) {
	// Try standard alphabet (with padding) first, then URL-safe, then raw (no padding).
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
