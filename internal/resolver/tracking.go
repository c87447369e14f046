package resolver

import "strings"

// trackingPatterns are substrings seen in listing-API redirector URLs.
var trackingPatterns = []string{
	"jobviewtrack.com",
	"careerjet.",
	"adzuna.",
	"/jobclick",
	"/redirect",
	"/click",
	"/track",
	"clickid=",
	"utm_",
}

// IsTrackingURL reports whether rawURL looks like a redirector rather than
// a job's landing page. It is a heuristic used for logging only.
func IsTrackingURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, p := range trackingPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
