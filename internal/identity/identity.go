// Package identity wraps the external Token Verifier collaborator this
// system treats as out of scope (spec §2): something else owns account
// creation, passwords, and refresh — this package only knows how to turn a
// bearer credential into a User descriptor.
package identity

import (
	"context"
	"errors"
)

// User is the descriptor attached to a session on successful authentication.
type User struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

var (
	// ErrAuthRequired means no credential was presented.
	ErrAuthRequired = errors.New("identity: credential required")
	// ErrAuthFailed means a credential was presented but rejected.
	ErrAuthFailed = errors.New("identity: credential rejected")
)

// Verifier is the Token Verifier capability (spec §2, component A). Engines
// and the gateway depend on this interface, never on a concrete transport,
// per the "inject as capabilities" guidance in the DESIGN NOTES.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}
