// Package validation holds request-level validation helpers shared by services.
package validation

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrRedirectInvalid    = errors.New("redirect url is not a valid absolute http(s) url")
	ErrRedirectNotAllowed = errors.New("redirect url domain is not in the tenancy allow-list")
)

// ValidateRedirectURL checks a caller-supplied redirect URL against the
// tenancy's trusted domains. Entries match the host exactly, or any subdomain
// when prefixed with "*.". Localhost (any port) is accepted only when
// allowLocalhost is set.
func ValidateRedirectURL(raw string, trustedDomains []string, allowLocalhost bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrRedirectInvalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrRedirectInvalid
	}
	host := u.Hostname()
	if host == "" {
		return ErrRedirectInvalid
	}

	if isLocalhost(host) {
		if allowLocalhost {
			return nil
		}
		return ErrRedirectNotAllowed
	}

	for _, d := range trustedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if wild, ok := strings.CutPrefix(d, "*."); ok {
			if strings.HasSuffix(strings.ToLower(host), "."+wild) || strings.EqualFold(host, wild) {
				return nil
			}
			continue
		}
		if strings.EqualFold(host, d) {
			return nil
		}
	}
	return ErrRedirectNotAllowed
}

func isLocalhost(host string) bool {
	h := strings.ToLower(host)
	return h == "localhost" || h == "127.0.0.1" || h == "::1" || strings.HasSuffix(h, ".localhost")
}
