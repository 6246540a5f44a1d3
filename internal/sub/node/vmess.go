package node

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/submerge-go/internal/model"
)

const vmessPrefix = "vmess://"

// VmessConfig is the JSON payload of a vmess:// link. Field order is the
// serialization order, which keeps canonical links byte-stable.
type VmessConfig struct {
	V    FlexString `json:"v,omitempty"`
	PS   string     `json:"ps"`
	Add  string     `json:"add,omitempty"`
	Port FlexString `json:"port,omitempty"`
	ID   string     `json:"id,omitempty"`
	Aid  FlexString `json:"aid,omitempty"`
	Scy  string     `json:"scy,omitempty"`
	Net  string     `json:"net,omitempty"`
	Type string     `json:"type,omitempty"`
	Host string     `json:"host,omitempty"`
	Path string     `json:"path,omitempty"`
	TLS  string     `json:"tls,omitempty"`
	SNI  string     `json:"sni,omitempty"`
	ALPN string     `json:"alpn,omitempty"`
	FP   string     `json:"fp,omitempty"`
}

// FlexString accepts both JSON strings and numbers; publishers disagree on
// whether port/aid/v are quoted. It always serializes as a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(link, message string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    "NODE_PARSE_ERROR",
			Message: message,
			Stage:   "normalize",
			Snippet: truncateSnippet(link, 200),
		},
		Cause: cause,
	}
}

// DecodeVmess parses a vmess:// link into its typed payload.
func DecodeVmess(link string) (VmessConfig, error) {
	if len(link) < len(vmessPrefix) || !strings.EqualFold(link[:len(vmessPrefix)], vmessPrefix) {
		return VmessConfig{}, newParseError(link, "not a vmess link", nil)
	}
	payload := link[len(vmessPrefix):]
	// A stray fragment is not part of the base64 body.
	payload, _, _ = strings.Cut(payload, "#")
	payload = removeSpaceTabCRLF(payload)
	if payload == "" {
		return VmessConfig{}, newParseError(link, "empty vmess payload", nil)
	}

	raw, err := decodeB64ToBytes(payload)
	if err != nil {
		return VmessConfig{}, newParseError(link, "vmess base64 decode failed", err)
	}
	if !utf8.Valid(raw) {
		return VmessConfig{}, newParseError(link, "vmess payload is not valid UTF-8", nil)
	}

	var cfg VmessConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return VmessConfig{}, newParseError(link, "vmess JSON decode failed", err)
	}
	return cfg, nil
}

// EncodeVmess renders cfg as a canonical vmess:// link.
func EncodeVmess(cfg VmessConfig) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return "", err
	}
	body := bytes.TrimRight(buf.Bytes(), "\n")
	return vmessPrefix + base64.StdEncoding.EncodeToString(body), nil
}

// CanonicalVmess re-encodes a vmess link with stable field order, removing
// whitespace and key-order differences that would defeat deduplication.
func CanonicalVmess(link string) (string, error) {
	cfg, err := DecodeVmess(link)
	if err != nil {
		return "", err
	}
	return EncodeVmess(cfg)
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
