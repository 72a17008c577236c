// Package policy enforces the bus message policies: a sliding-window rate
// limiter, a secret-pattern content filter, and the inactivity sweeper that
// auto-closes stale discussion threads.
package policy

import (
	"regexp"

	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// secretPatterns are high-confidence matches only. Technical conversation is
// full of near-misses (key names, example snippets), so anything with a
// meaningful false-positive rate stays out of this list.
var secretPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AWS Access Key ID"},
	{regexp.MustCompile(`ASIA[0-9A-Z]{16}`), "AWS Temporary Access Key"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]{20,}\.eyJ[A-Za-z0-9_-]{20,}`), "JWT Token"},
	{regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), "GitHub Personal Access Token"},
	{regexp.MustCompile(`gho_[A-Za-z0-9]{36}`), "GitHub OAuth Token"},
	{regexp.MustCompile(`ghs_[A-Za-z0-9]{36}`), "GitHub App Token"},
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`), "Private Key"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}T3BlbkFJ[A-Za-z0-9]{20,}`), "OpenAI API Key"},
	{regexp.MustCompile(`xox[bprs]-[0-9A-Za-z\-]{10,}`), "Slack Token"},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), "Google API Key"},
	{regexp.MustCompile(`[Aa][Zz][Uu][Rr][Ee][A-Za-z0-9_]{10,}=[A-Za-z0-9+/]{43}=`), "Azure Storage Key"},
}

// ContentFilter scans message content for known secret shapes before it gets
// persisted. Disabled filters accept everything.
type ContentFilter struct {
	enabled bool
}

func NewContentFilter(enabled bool) *ContentFilter {
	return &ContentFilter{enabled: enabled}
}

// Check returns a ContentBlockedError naming the first matching pattern, or
// nil when the text is clean.
func (f *ContentFilter) Check(text string) error {
	if !f.enabled {
		return nil
	}
	for _, p := range secretPatterns {
		if p.re.MatchString(text) {
			return &errdefs.ContentBlockedError{PatternLabel: p.label}
		}
	}
	return nil
}
