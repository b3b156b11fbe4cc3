package middleware

import (
	"net/http"
	"strings"

	"github.com/optiplay/backend/internal/util"
)

const maxLoggedValue = 200

var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-forwarded-for":     {},
	"x-real-ip":           {},
}

// SanitizeHeaders returns a copy of h safe for logging. Credentials and
// client address headers are redacted, everything else is excerpted.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := redactedHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, util.Excerpt(v, maxLoggedValue))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath strips the query string and control characters from p.
func SanitizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i != -1 {
		p = p[:i]
	}
	return util.Excerpt(p, maxLoggedValue)
}
