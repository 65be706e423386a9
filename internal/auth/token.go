package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCredentialExpired is returned when the bearer credential's expiry has
// already passed. The caller must obtain a fresh token; retrying is pointless.
var ErrCredentialExpired = errors.New("credential expired")

// Claims are the token claims issued by the marketplace backend.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated user a session is scoped to.
type Identity struct {
	ID          string
	DisplayName string
	ExpiresAt   time.Time
}

// ParseCredential extracts the identity from a bearer token without verifying
// the signature. Verification happens server-side; the client only needs the
// identity fields and a fast expiry precheck before dialing.
func ParseCredential(token string) (*Identity, error) {
	parser := jwt.NewParser()

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	if claims.UserID == "" {
		return nil, errors.New("credential has no user id")
	}

	id := &Identity{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
		if time.Now().After(id.ExpiresAt) {
			return nil, fmt.Errorf("%w: expired at %s", ErrCredentialExpired, id.ExpiresAt.Format(time.RFC3339))
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = id.ID
	}
	return id, nil
}
