package httpapi

import (
	"testing"

	"github.com/John-Robertt/submerge-go/internal/uapolicy"
)

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		base   string
		format uapolicy.Format
		want   string
		ok     bool
	}{
		{"MySub", uapolicy.FormatClash, "MySub.yaml", true},
		{"MySub", uapolicy.FormatSingbox, "MySub.json", true},
		{"MySub", uapolicy.FormatSurge, "MySub.conf", true},
		{"MySub", uapolicy.FormatLoon, "MySub.conf", true},
		{"MySub", uapolicy.FormatBase64, "MySub.txt", true},
		{"MySub", uapolicy.Format("quanx"), "MySub", true},
		{"nodes.list", uapolicy.FormatClash, "nodes.list", true},
		{"  ", uapolicy.FormatClash, "", false},
		{"a/b", uapolicy.FormatClash, "", false},
		{"a\r\nX-Evil: 1", uapolicy.FormatClash, "", false},
	}
	for _, tt := range tests {
		got, ok := attachmentName(tt.base, tt.format)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("attachmentName(%q, %q)=(%q, %v), want=(%q, %v)", tt.base, tt.format, got, ok, tt.want, tt.ok)
		}
	}
}

func TestContentDispositionAttachment(t *testing.T) {
	got := contentDispositionAttachment(`机场 "A".yaml`)
	want := `attachment; filename="机场 \"A\".yaml"; filename*=UTF-8''%E6%9C%BA%E5%9C%BA%20%22A%22.yaml`
	if got != want {
		t.Fatalf("Content-Disposition=%q, want=%q", got, want)
	}
}
