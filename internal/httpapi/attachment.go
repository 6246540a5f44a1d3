package httpapi

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/uapolicy"
)

// attachmentName returns the download name for a profile's fileName. Names
// with control characters, path separators or excessive length are skipped.
func attachmentName(base string, format uapolicy.Format) (string, bool) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", false
	}
	if strings.ContainsAny(base, "\r\n\x00/\\") || len(base) > 200 {
		return "", false
	}
	if hasExt(base) {
		return base, true
	}
	return base + defaultExt(format), true
}

func hasExt(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i > 0 && i < len(name)-1
}

func defaultExt(format uapolicy.Format) string {
	switch format {
	case uapolicy.FormatClash:
		return ".yaml"
	case uapolicy.FormatSingbox:
		return ".json"
	case uapolicy.FormatSurge, uapolicy.FormatLoon:
		return ".conf"
	case uapolicy.FormatBase64:
		return ".txt"
	default:
		return ""
	}
}

func contentDispositionAttachment(filename string) string {
	// RFC 6266 + RFC 5987.
	escaped := strings.ReplaceAll(filename, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", escaped, pctEncode(filename))
}

func pctEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}
