package node

import (
	"net/url"
	"strings"
)

// DisplayName returns the decoded display name of link: the vmess "ps"
// field, or the percent-decoded fragment after the final '#'.
func DisplayName(link string) (string, error) {
	if s, ok := SchemeOf(link); ok && s == "vmess" {
		cfg, err := DecodeVmess(link)
		if err != nil {
			return "", err
		}
		return cfg.PS, nil
	}
	i := strings.LastIndexByte(link, '#')
	if i < 0 {
		return "", nil
	}
	return unescapeName(link[i+1:]), nil
}

// PrependName prefixes the display name with "{prefix} - ". Names that
// already start with prefix are left untouched, so the operation is
// idempotent. An empty name becomes the bare prefix.
func PrependName(link, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return link, nil
	}

	if s, ok := SchemeOf(link); ok && s == "vmess" {
		cfg, err := DecodeVmess(link)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(cfg.PS, prefix) {
			return link, nil
		}
		cfg.PS = prefixed(prefix, cfg.PS)
		return EncodeVmess(cfg)
	}

	base, name := link, ""
	if i := strings.LastIndexByte(link, '#'); i >= 0 {
		base, name = link[:i], unescapeName(link[i+1:])
	}
	if strings.HasPrefix(name, prefix) {
		return link, nil
	}
	return base + "#" + pctEncode(prefixed(prefix, name)), nil
}

func prefixed(prefix, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return prefix
	}
	return prefix + " - " + name
}

func unescapeName(frag string) string {
	if s, err := url.PathUnescape(frag); err == nil {
		return s
	}
	return frag
}

func pctEncode(s string) string {
	// Go's QueryEscape uses '+' for spaces; fragments want %20.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
