// Package auth holds the credential and session state read by the request
// filters of every in-flight call.
package auth

import (
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
)

// Token is an access credential with an optional expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used. A zero expiry never
// expires; otherwise the token must outlive TokenExpirationBuffer.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return time.Now().Add(constants.TokenExpirationBuffer).Before(t.ExpiresAt)
}
