// Package guardrails applies the content policy to every assistant response:
// length bounds, banned-substring rejection, and an optional disclaimer.
// Apply is pure over a configuration snapshot, so the dispatcher can run it
// on fresh and cached responses alike without holding any lock.
package guardrails

import (
	"fmt"
	"strings"
)

// Config is the active policy. Zero MinLength/MaxLength disable the
// respective bound.
type Config struct {
	BannedPhrases     []string `json:"bannedPhrases"`
	MinLength         int      `json:"minLength"`
	MaxLength         int      `json:"maxLength"`
	RequireDisclaimer bool     `json:"requireDisclaimer"`
	Disclaimer        string   `json:"disclaimer,omitempty"`
}

// Clone returns a copy whose slice state is independent of the receiver.
func (c Config) Clone() Config {
	cp := c
	cp.BannedPhrases = make([]string, len(c.BannedPhrases))
	copy(cp.BannedPhrases, c.BannedPhrases)
	return cp
}

// Rejection reasons.
const (
	ReasonTooShort     = "ResponseTooShort"
	ReasonBannedPhrase = "BannedPhrase"
)

// CheckError reports why a response was rejected.
type CheckError struct {
	Reason string
	Phrase string // set for ReasonBannedPhrase
}

func (e *CheckError) Error() string {
	if e.Reason == ReasonBannedPhrase {
		return fmt.Sprintf("guardrails: %s: %q", e.Reason, e.Phrase)
	}
	return "guardrails: " + e.Reason
}

// Apply runs the policy over text and returns the transformed text.
// Order matters: the minimum-length check rejects first, over-long text is
// truncated, banned phrases are matched case-insensitively against the text
// before any disclaimer is appended, and finally the disclaimer is added.
// The append is idempotent so that re-applying the same policy to an
// already-filtered (cached) response leaves it byte-identical.
func Apply(cfg Config, text string) (string, error) {
	if cfg.MinLength > 0 && len(text) < cfg.MinLength {
		return "", &CheckError{Reason: ReasonTooShort}
	}
	if cfg.MaxLength > 0 && len(text) > cfg.MaxLength {
		text = text[:cfg.MaxLength]
	}
	if len(cfg.BannedPhrases) > 0 {
		lower := strings.ToLower(text)
		for _, phrase := range cfg.BannedPhrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return "", &CheckError{Reason: ReasonBannedPhrase, Phrase: phrase}
			}
		}
	}
	if cfg.RequireDisclaimer && cfg.Disclaimer != "" {
		suffix := "\n\n" + cfg.Disclaimer
		if !strings.HasSuffix(text, suffix) {
			text += suffix
		}
	}
	return text, nil
}
