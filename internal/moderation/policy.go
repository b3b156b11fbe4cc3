package moderation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrBlockedLanguage = errors.New("content contains blocked language")
	ErrBlockedLink     = errors.New("onion links are not allowed")
	ErrBlockedUsername = errors.New("username contains blocked language")
)

var (
	onionPattern  = regexp.MustCompile(`(?i)\b[a-z2-7]{16,56}\.onion\b`)
	schemePattern = regexp.MustCompile(`(?i)(https?)://`)
)

// defaultBannedTerms are matched as substrings of the normalized text, so
// they are written without spaces or punctuation.
var defaultBannedTerms = []string{
	"nigger",
	"nigga",
	"faggot",
	"retard",
	"tranny",
	"kike",
	"chink",
	"wetback",
	"killyourself",
	"childporn",
	"heilhitler",
	"siegheil",
}

// ContentOptions tunes EnsureCleanContent for the caller.
type ContentOptions struct {
	// AllowLinks keeps links verbatim and permits onion addresses.
	AllowLinks bool
}

// Policy is the accept/reject gate for user text. It is immutable after
// construction and safe for concurrent use.
type Policy struct {
	terms []string
}

// NewPolicy returns a policy with the default banned terms plus extra.
func NewPolicy(extra ...string) *Policy {
	terms := make([]string, 0, len(defaultBannedTerms)+len(extra))
	terms = append(terms, defaultBannedTerms...)
	terms = append(terms, extra...)
	return NewPolicyWithTerms(terms)
}

// NewPolicyWithTerms returns a policy that bans exactly terms. Terms are
// normalized on load; terms that normalize to nothing are dropped.
func NewPolicyWithTerms(terms []string) *Policy {
	p := &Policy{}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		p.terms = append(p.terms, n)
	}
	return p
}

// Terms returns the normalized banned terms.
func (p *Policy) Terms() []string {
	out := make([]string, len(p.terms))
	copy(out, p.terms)
	return out
}

// ContainsBannedLanguage reports whether the normalized text contains a banned term.
func (p *Policy) ContainsBannedLanguage(text string) bool {
	normalized := Normalize(text)
	if normalized == "" {
		return false
	}
	for _, t := range p.terms {
		if strings.Contains(normalized, t) {
			return true
		}
	}
	return false
}

// EnsureCleanContent validates text and returns the form that may be stored.
// Without AllowLinks, onion addresses are rejected and http(s) schemes are
// rewritten as "http[:]//" so that renderers do not auto-link them.
func (p *Policy) EnsureCleanContent(text string, opts ContentOptions) (string, error) {
	if p.ContainsBannedLanguage(text) {
		return "", ErrBlockedLanguage
	}
	if opts.AllowLinks {
		return text, nil
	}
	if onionPattern.MatchString(text) {
		return "", ErrBlockedLink
	}
	return DefangLinks(text), nil
}

// AssertCleanUsername applies only the banned-language check.
func (p *Policy) AssertCleanUsername(name string) error {
	if p.ContainsBannedLanguage(name) {
		return ErrBlockedUsername
	}
	return nil
}

// DefangLinks inserts a bracket inside every http:// or https:// scheme.
func DefangLinks(text string) string {
	return schemePattern.ReplaceAllString(text, "${1}[:]//")
}

// IsPolicyViolation reports whether err is one of the policy errors that
// should be shown to the user verbatim.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrBlockedLanguage) ||
		errors.Is(err, ErrBlockedLink) ||
		errors.Is(err, ErrBlockedUsername) ||
		errors.Is(err, ErrDisposableEmail)
}
