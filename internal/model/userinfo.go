package model

import (
	"strconv"
	"strings"
)

// ParseUserInfo parses a subscription-userinfo header value such as
// "upload=1; download=2; total=3; expire=4". Unknown keys are ignored.
func ParseUserInfo(h string) (*UserInfo, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil, false
	}
	var (
		u     UserInfo
		found bool
	)
	for _, part := range strings.Split(h, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || n < 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "upload":
			u.Upload = int64(n)
		case "download":
			u.Download = int64(n)
		case "total":
			u.Total = int64(n)
		case "expire":
			u.Expire = int64(n)
		default:
			continue
		}
		found = true
	}
	if !found {
		return nil, false
	}
	return &u, true
}

// Add sums traffic counters; the earliest non-zero expiry wins.
func (u UserInfo) Add(o UserInfo) UserInfo {
	out := UserInfo{
		Upload:   u.Upload + o.Upload,
		Download: u.Download + o.Download,
		Total:    u.Total + o.Total,
		Expire:   u.Expire,
	}
	if o.Expire > 0 && (out.Expire == 0 || o.Expire < out.Expire) {
		out.Expire = o.Expire
	}
	return out
}

// Header renders the value for the Subscription-Userinfo response header.
func (u UserInfo) Header() string {
	var b strings.Builder
	b.WriteString("upload=")
	b.WriteString(strconv.FormatInt(u.Upload, 10))
	b.WriteString("; download=")
	b.WriteString(strconv.FormatInt(u.Download, 10))
	b.WriteString("; total=")
	b.WriteString(strconv.FormatInt(u.Total, 10))
	if u.Expire > 0 {
		b.WriteString("; expire=")
		b.WriteString(strconv.FormatInt(u.Expire, 10))
	}
	return b.String()
}
