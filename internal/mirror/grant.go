package mirror

import (
	"sync/atomic"
	"time"
)

// Consent is what a verified consent token proves: who agreed, and which token
// carried the agreement.
type Consent struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

// ConsentVerifier turns an opaque consent token into a Consent.
type ConsentVerifier interface {
	VerifyConsent(token string) (Consent, error)
}

// Grant is the process-wide permission to mirror the display. It stays usable
// for any number of runs until revoked.
type Grant struct {
	consent   Consent
	grantedAt time.Time
	revoked   atomic.Bool
}

// Valid reports whether the grant may still be used to open a mirror.
func (g *Grant) Valid() bool {
	return g != nil && !g.revoked.Load()
}

// Revoke withdraws the grant. Later OpenMirror calls fail with ErrGrantRevoked.
func (g *Grant) Revoke() {
	if g != nil {
		g.revoked.Store(true)
	}
}

// Subject returns who consented.
func (g *Grant) Subject() string {
	if g == nil {
		return ""
	}
	return g.consent.Subject
}

// GrantedAt returns when the consent token was exchanged.
func (g *Grant) GrantedAt() time.Time {
	if g == nil {
		return time.Time{}
	}
	return g.grantedAt
}
