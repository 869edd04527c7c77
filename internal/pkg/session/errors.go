// Package session issues and verifies signed session tokens for two separate
// trust domains: end users and administrators. The two never share a key,
// an audience or a cookie.
package session

import "errors"

var (
	// ErrInvalidCredential covers every verification failure: bad signature,
	// wrong audience, expiry, malformed token, wrong admin password.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrMisconfigured     = errors.New("session secrets misconfigured")
)

const issuer = "citecheck"
