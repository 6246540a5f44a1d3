package node

import (
	"encoding/base64"
	"strings"
	"testing"
)

func vmessLink(t *testing.T, json string) string {
	t.Helper()
	return "vmess://" + base64.StdEncoding.EncodeToString([]byte(json))
}

func TestNormalize_VmessPrefix(t *testing.T) {
	links, st := Normalize("vmess://eyJwcyI6Im5vZGUxIn0=", "SourceA", true)
	if len(links) != 1 {
		t.Fatalf("len=%d, want=1 (stats=%+v)", len(links), st)
	}
	cfg, err := DecodeVmess(links[0])
	if err != nil {
		t.Fatalf("DecodeVmess: %v", err)
	}
	if cfg.PS != "SourceA - node1" {
		t.Fatalf("ps=%q, want=%q", cfg.PS, "SourceA - node1")
	}
	if links[0] != vmessLink(t, `{"ps":"SourceA - node1"}`) {
		t.Fatalf("link=%q, want canonical encoding", links[0])
	}
}

func TestNormalize_Base64List(t *testing.T) {
	raw := "trojan://pw@example.com:443#A\r\nss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201\r\n"
	b64 := base64.StdEncoding.EncodeToString([]byte(raw))

	links, st := Normalize(b64, "", false)
	want := []string{
		"trojan://pw@example.com:443#A",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201",
	}
	if strings.Join(links, "\n") != strings.Join(want, "\n") {
		t.Fatalf("links=%q, want=%q", links, want)
	}
	if st.Lines != 2 || st.Kept != 2 {
		t.Fatalf("stats=%+v, want lines=2 kept=2", st)
	}
}

func TestNormalize_Base64URLAlphabet(t *testing.T) {
	raw := "vless://uuid@example.com:443?security=tls&sni=a.example.com#URL%20safe?~~"
	b64 := base64.RawURLEncoding.EncodeToString([]byte(raw))

	links, _ := Normalize(b64, "", false)
	if len(links) != 1 || links[0] != raw {
		t.Fatalf("links=%q, want=[%q]", links, raw)
	}
}

func TestNormalize_DropsUnsupportedAndMalformed(t *testing.T) {
	raw := strings.Join([]string{
		"# comment",
		"http://example.com/not-a-node",
		"socks5://127.0.0.1:1080",
		"vmess://!!!notbase64",
		vmessLink(t, `not json`),
		"HY2://pw@example.com:443#upper",
		"anytls://pw@example.com:443#any",
	}, "\n")

	links, st := Normalize(raw, "", false)
	if len(links) != 2 {
		t.Fatalf("len=%d, want=2: %q", len(links), links)
	}
	if links[0] != "HY2://pw@example.com:443#upper" {
		t.Fatalf("links[0]=%q", links[0])
	}
	if st.Unsupported != 3 {
		t.Fatalf("unsupported=%d, want=3", st.Unsupported)
	}
	if st.Malformed != 2 {
		t.Fatalf("malformed=%d, want=2", st.Malformed)
	}
}

func TestNormalize_DropsEmbeddedURLNames(t *testing.T) {
	raw := strings.Join([]string{
		"trojan://pw@example.com:443#http%3A%2F%2Fevil.example.com%2Fsub",
		vmessLink(t, `{"ps":"see vmess://other","add":"example.com","port":443}`),
		"trojan://pw@example.com:443#ok",
	}, "\n")

	links, st := Normalize(raw, "", false)
	if len(links) != 1 || links[0] != "trojan://pw@example.com:443#ok" {
		t.Fatalf("links=%q", links)
	}
	if st.Injected != 2 {
		t.Fatalf("injected=%d, want=2", st.Injected)
	}
}

func TestNormalize_VmessCanonicalization(t *testing.T) {
	a := vmessLink(t, `{"add":"example.com","port":443,"id":"u","ps":"n","aid":0,"v":"2"}`)
	b := vmessLink(t, "{\n  \"v\": 2,\n  \"ps\": \"n\",\n  \"add\": \"example.com\",\n  \"port\": \"443\",\n  \"id\": \"u\",\n  \"aid\": \"0\"\n}")

	links, _ := Normalize(a+"\n"+b, "", false)
	if len(links) != 2 {
		t.Fatalf("len=%d, want=2", len(links))
	}
	if links[0] != links[1] {
		t.Fatalf("canonical forms differ:\n%s\n%s", links[0], links[1])
	}
	want := vmessLink(t, `{"v":"2","ps":"n","add":"example.com","port":"443","id":"u","aid":"0"}`)
	if links[0] != want {
		t.Fatalf("link=%q, want=%q", links[0], want)
	}
}

func TestNormalize_VmessKeepsHTMLChars(t *testing.T) {
	links, _ := Normalize(vmessLink(t, `{"ps":"a<b>&c"}`), "", false)
	if len(links) != 1 {
		t.Fatalf("len=%d, want=1", len(links))
	}
	if links[0] != vmessLink(t, `{"ps":"a<b>&c"}`) {
		t.Fatalf("link=%q", links[0])
	}
}

func TestNormalize_FixedPoint(t *testing.T) {
	raw := strings.Join([]string{
		"trojan://pw@example.com:443",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388#Node%201",
		"vless://uuid@example.com:443#a#b",
		vmessLink(t, `{"port":8443,"ps":" spaced "}`),
	}, "\n")

	for _, prefix := range []bool{false, true} {
		first, _ := Normalize(raw, "Src", prefix)
		second, _ := Normalize(strings.Join(first, "\n"), "Src", prefix)
		if strings.Join(first, "\n") != strings.Join(second, "\n") {
			t.Fatalf("prefix=%v not a fixed point:\nfirst=%q\nsecond=%q", prefix, first, second)
		}
	}
}

func TestPrependName(t *testing.T) {
	cases := []struct {
		link   string
		prefix string
		want   string
	}{
		{"trojan://pw@h:443#Node%201", "P", "trojan://pw@h:443#P%20-%20Node%201"},
		{"trojan://pw@h:443", "P", "trojan://pw@h:443#P"},
		{"trojan://pw@h:443#", "P", "trojan://pw@h:443#P"},
		{"trojan://pw@h:443#P%20-%20x", "P", "trojan://pw@h:443#P%20-%20x"},
		{"trojan://pw@h:443#x", "", "trojan://pw@h:443#x"},
		{"trojan://pw@h:443#x", "  ", "trojan://pw@h:443#x"},
	}
	for _, tc := range cases {
		got, err := PrependName(tc.link, tc.prefix)
		if err != nil {
			t.Fatalf("PrependName(%q, %q): %v", tc.link, tc.prefix, err)
		}
		if got != tc.want {
			t.Fatalf("PrependName(%q, %q)=%q, want=%q", tc.link, tc.prefix, got, tc.want)
		}
	}
}

func TestPrependName_Idempotent(t *testing.T) {
	links := []string{
		"trojan://pw@h:443#Node",
		"ss://abc@h:1",
		vmessLink(t, `{"ps":"node1"}`),
		vmessLink(t, `{"ps":""}`),
	}
	for _, link := range links {
		once, err := PrependName(link, "Src")
		if err != nil {
			t.Fatalf("PrependName(%q): %v", link, err)
		}
		twice, err := PrependName(once, "Src")
		if err != nil {
			t.Fatalf("PrependName(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: once=%q twice=%q", once, twice)
		}
	}
}

func TestPrependName_VmessEmptyName(t *testing.T) {
	got, err := PrependName(vmessLink(t, `{"ps":"","add":"h"}`), "Src")
	if err != nil {
		t.Fatalf("PrependName: %v", err)
	}
	cfg, err := DecodeVmess(got)
	if err != nil {
		t.Fatalf("DecodeVmess: %v", err)
	}
	if cfg.PS != "Src" {
		t.Fatalf("ps=%q, want=%q", cfg.PS, "Src")
	}
	if cfg.Add != "h" {
		t.Fatalf("add=%q, want=%q", cfg.Add, "h")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		link string
		want string
	}{
		{"trojan://pw@h:443#Node%201", "Node 1"},
		{"trojan://pw@h:443", ""},
		{"ss://a@h:1#bad%zz", "bad%zz"},
		{vmessLink(t, `{"ps":"香港 01"}`), "香港 01"},
	}
	for _, tc := range cases {
		got, err := DisplayName(tc.link)
		if err != nil {
			t.Fatalf("DisplayName(%q): %v", tc.link, err)
		}
		if got != tc.want {
			t.Fatalf("DisplayName(%q)=%q, want=%q", tc.link, got, tc.want)
		}
	}
}

func TestSchemeOf(t *testing.T) {
	cases := map[string]string{
		"ss://x":        "ss",
		"SSR://x":       "ssr",
		"Hysteria2://x": "hysteria2",
		"tuic://x":      "tuic",
		"socks://x":     "",
		"://x":          "",
		"ss:/x":         "",
	}
	for in, want := range cases {
		got, _ := SchemeOf(in)
		if got != want {
			t.Fatalf("SchemeOf(%q)=%q, want=%q", in, got, want)
		}
	}
}
