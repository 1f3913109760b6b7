package callback

import (
	"net/http"
	"time"
)

// CookieJar is the minimal cookie access the guard needs, so the service
// stays testable without a real request/response pair.
type CookieJar interface {
	Get(name string) (string, bool)
	// Delete expires the cookie in the response. Must take effect even when
	// validation fails afterwards.
	Delete(name string)
}

const (
	innerCookiePrefix = "lumakey-oauth-inner-"
	innerCookieValue  = "true"
)

// InnerCookieName derives the marker cookie name from the inner-state value.
func InnerCookieName(innerState string) string {
	return innerCookiePrefix + innerState
}

// CookieGuard validates the single-use browser-side marker cookie. The
// inner-state token travels through the provider redirect and is visible to
// network observers; the cookie binds the callback to the browser session
// that initiated the flow.
type CookieGuard struct{}

// Validate checks the marker cookie for the given inner state. The cookie is
// deleted unconditionally: a second callback with the same state fails fast
// regardless of database contents.
func (CookieGuard) Validate(innerState string, jar CookieJar) error {
	name := InnerCookieName(innerState)
	val, ok := jar.Get(name)
	jar.Delete(name)
	if !ok || val != innerCookieValue {
		return ErrInvalidOAuthCookie
	}
	return nil
}

// Issue writes the marker cookie at the start of the outbound authorize leg.
func (CookieGuard) Issue(jar interface{ Set(name, value string, ttl time.Duration) }, innerState string, ttl time.Duration) {
	jar.Set(InnerCookieName(innerState), innerCookieValue, ttl)
}

// HTTPCookieJar adapts an http request/response pair to CookieJar.
type HTTPCookieJar struct {
	R      *http.Request
	W      http.ResponseWriter
	Secure bool
}

func (j *HTTPCookieJar) Get(name string) (string, bool) {
	c, err := j.R.Cookie(name)
	if err != nil || c == nil {
		return "", false
	}
	return c.Value, true
}

func (j *HTTPCookieJar) Delete(name string) {
	http.SetCookie(j.W, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j *HTTPCookieJar) Set(name, value string, ttl time.Duration) {
	http.SetCookie(j.W, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
