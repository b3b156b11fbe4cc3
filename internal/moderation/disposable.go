package moderation

import (
	"errors"
	"strings"
)

var ErrDisposableEmail = errors.New("disposable email addresses are not allowed")

var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"discard.email":     {},
	"dispostable.com":   {},
	"emailondeck.com":   {},
	"fakeinbox.com":     {},
	"getnada.com":       {},
	"guerrillamail.com": {},
	"guerrillamail.net": {},
	"maildrop.cc":       {},
	"mailinator.com":    {},
	"mailnesia.com":     {},
	"mintemail.com":     {},
	"mohmal.com":        {},
	"sharklasers.com":   {},
	"temp-mail.org":     {},
	"tempmail.com":      {},
	"tempmailo.com":     {},
	"throwawaymail.com": {},
	"trashmail.com":     {},
	"yopmail.com":       {},
}

// IsDisposableEmail reports whether the address belongs to a throwaway
// provider. Subdomains of a listed domain match too.
func IsDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(email[at+1:])), ".")
	for domain != "" {
		if _, ok := disposableDomains[domain]; ok {
			return true
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return false
}
