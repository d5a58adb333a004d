package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL = 12 * time.Hour
	clockLeeway       = 30 * time.Second
)

// SessionClaims is the payload of the session cookie. UserID is the legacy
// numeric operator id.
type SessionClaims struct {
	InstitutionID int64 `json:"institution_id"`
	UserID        int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies HS256 session tokens.
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

// NewSessionCodec builds a codec; a non-positive ttl uses 12h.
func NewSessionCodec(secret string, ttl time.Duration) *SessionCodec {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionCodec{
		secret: []byte(secret),
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(clockLeeway),
		),
		now: time.Now,
	}
}

// Issue signs a session. The login flow lives elsewhere; this serves the CLI and tests.
func (s *SessionCodec) Issue(institutionID, userID int64) (string, time.Time, error) {
	issued := s.now()
	expires := issued.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{
		InstitutionID: institutionID,
		UserID:        userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(s.secret)
	return signed, expires, err
}

// Verify checks signature, expiry and required claims.
func (s *SessionCodec) Verify(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return nil, err
	}
	if claims.InstitutionID <= 0 || claims.UserID <= 0 {
		return nil, errors.New("session missing institution or user")
	}
	return claims, nil
}
