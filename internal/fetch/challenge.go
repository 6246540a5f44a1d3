package fetch

import "strings"

// challengeMarkers are substrings of known bot-verification interstitials.
// This is a heuristic: providers change their pages at will.
var challengeMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"cf_chl_opt",
	"<title>just a moment...</title>",
	"attention required! | cloudflare",
	"ddos protection by",
}

// IsChallengePage reports whether body looks like a bot-challenge page
// rather than subscription content.
func IsChallengePage(body string) bool {
	// Challenge pages are HTML; only the first 64 KiB is inspected.
	head := body
	if len(head) > 64*1024 {
		head = head[:64*1024]
	}
	head = strings.ToLower(head)
	for _, m := range challengeMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}
