package models

import (
	"net/http"
	"time"
)

// Credential is an authenticated portal session: the cookie set harvested
// after login plus an estimate of how long it stays valid. A Credential is
// never modified after it is issued.
type Credential struct {
	Cookies   []*http.Cookie
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewCredential builds a credential from harvested cookies. The expiry is the
// earliest finite cookie expiry, capped at issuedAt+ttl.
func NewCredential(cookies []*http.Cookie, issuedAt time.Time, ttl time.Duration) *Credential {
	expires := issuedAt.Add(ttl)
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.After(issuedAt) && c.Expires.Before(expires) {
			expires = c.Expires
		}
	}
	cp := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		cc := *c
		cp[i] = &cc
	}
	return &Credential{Cookies: cp, IssuedAt: issuedAt, ExpiresAt: expires}
}

// Valid reports whether the credential is expected to still be accepted.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && len(c.Cookies) > 0 && now.Before(c.ExpiresAt)
}

// Cookie returns the named cookie, if present.
func (c *Credential) Cookie(name string) (*http.Cookie, bool) {
	if c == nil {
		return nil, false
	}
	for _, ck := range c.Cookies {
		if ck.Name == name {
			return ck, true
		}
	}
	return nil, false
}
