// Package session implements the Session Authenticator contract shared by
// the chat engine and video engine (spec §4.2): extract a
// credential from a request or a duplex handshake, hand it to a Token
// Verifier, and attach the resulting user descriptor to the caller's
// session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relaymesh/conclave/internal/identity"
)

// AuthError is the {message, code} shape the spec's error taxonomy (§7)
// requires for auth failures.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// ErrAuthRequired and ErrAuthFailed are the two auth failure codes named in
// spec §4.2 / §7.
var (
	ErrAuthRequired = newAuthError("AUTH_REQUIRED", "authentication credential is required")
	ErrAuthFailed   = newAuthError("AUTH_FAILED", "credential was rejected")
)

// Authenticator wraps a Token Verifier to implement authenticate().
type Authenticator struct {
	verifier identity.Verifier
}

// New constructs an Authenticator backed by the given Token Verifier.
func New(verifier identity.Verifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// FromHeader implements the request/response path: reads the Authorization
// header, which must be "Bearer <token>".
func (a *Authenticator) FromHeader(ctx context.Context, header string) (identity.User, error) {
	token, err := bearerToken(header)
	if err != nil {
		return identity.User{}, ErrAuthRequired
	}
	return a.verify(ctx, token)
}

// FromHandshake implements the duplex handshake path: an auth payload value
// takes precedence, falling back to a query-string token (spec §4.2).
func (a *Authenticator) FromHandshake(ctx context.Context, authPayloadToken, queryToken string) (identity.User, error) {
	token := authPayloadToken
	if token == "" {
		token = queryToken
	}
	if token == "" {
		return identity.User{}, ErrAuthRequired
	}
	return a.verify(ctx, token)
}

func (a *Authenticator) verify(ctx context.Context, token string) (identity.User, error) {
	user, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrAuthRequired) {
			return identity.User{}, ErrAuthRequired
		}
		return identity.User{}, ErrAuthFailed
	}
	return user, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrAuthRequired
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrAuthRequired
	}
	return parts[1], nil
}

// BearerToken extracts the token portion of an "Authorization: Bearer
// <token>" header, or "" if header is empty or malformed. It exists so
// callers building a duplex handshake's auth-payload token from an
// Authorization header (as chatengine/videoengine's Handle do) can reuse
// the same parsing FromHeader uses, rather than hand-rolling it.
func BearerToken(header string) string {
	token, err := bearerToken(header)
	if err != nil {
		return ""
	}
	return token
}

// Anonymous synthesizes the Video Engine's documented anonymous descriptor
// (spec §4.2, §4.4.1): userId "anonymous_<sessionId>", displayName
// "Guest <sid-prefix>" where the prefix is the first 6 characters of the
// session id.
func (a *Authenticator) Anonymous(sessionID string) identity.User {
	prefix := sessionID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return identity.User{
		ID:          "anonymous_" + sessionID,
		DisplayName: "Guest " + prefix,
	}
}
