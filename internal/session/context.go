// Package session carries the caller's opaque session token through a request.
// The token is never inspected; it is forwarded to every collaborator as-is.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

type ctxKey string

const tokenKey ctxKey = "booking.session_token"

// WithToken stores the session token in context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext extracts the session token if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tokenKey)
	if val == nil {
		return "", false
	}
	token, ok := val.(string)
	return token, ok && token != ""
}

// Fingerprint returns a stable, non-reversible key for a token so it can be
// used in logs and rate-limit keys without leaking the credential.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
