// Package rtmpingest implements the RTMP ingest & auth hook (C8): publish
// attempt parsing, signed publish-token verification, the room/user/media
// authorization checks, the atomic claim against the publisher registry, and
// the local StreamTracker + TTL refresher that keep a publishing session
// alive. Grounded on the teacher's JWT middleware (internal/v1/auth) for the
// claims-parsing shape, swapped from Auth0 JWKS verification to an HMAC
// shared secret since publish tokens are minted and verified by the same
// trust domain rather than a third-party identity provider.
package rtmpingest

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PublishClaims is the payload of a signed publish token.
type PublishClaims struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	MediaID string `json:"media_id"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HMAC-signed publish tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, checking signature, expiry, and
// that the token's room_id matches appName (spec §4.8 step 3).
func (v *TokenVerifier) Verify(tokenString, appName string) (*PublishClaims, error) {
	claims := &PublishClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid publish token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid publish token")
	}
	if claims.RoomID != appName {
		return nil, fmt.Errorf("token room_id %q does not match app_name %q", claims.RoomID, appName)
	}
	return claims, nil
}

// Issue mints a publish token for (roomID, userID, mediaID) valid for ttl.
// Used by whatever REST handler hands clients a stream key — out of scope
// here, but the verifier needs a matching issuer for tests.
func (v *TokenVerifier) Issue(roomID, userID, mediaID string, ttl time.Duration) (string, error) {
	claims := PublishClaims{
		RoomID:  roomID,
		UserID:  userID,
		MediaID: mediaID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
