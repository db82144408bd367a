package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload this system expects the external Token Verifier to
// issue, generalized from the userId/email claim shape into the richer
// descriptor the spec's User type carries.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
	jwt.RegisteredClaims
}

// JWTVerifier validates tokens locally against a shared secret instead of
// calling out to the identity service for every request. It is selected by
// IDENTITY_VERIFIER=jwt and is the right choice when the identity service
// issues HS256 tokens signed with a secret this process also holds.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier over the given signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrAuthRequired
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAuthFailed
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, ErrAuthFailed
		}
		return User{}, ErrAuthFailed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return User{}, ErrAuthFailed
	}
	return User{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		AvatarURL:   claims.AvatarURL,
	}, nil
}

var _ Verifier = (*JWTVerifier)(nil)
