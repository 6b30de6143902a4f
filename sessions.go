package userauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the lifetime of issued session tokens
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionClaims are the claims carried by a session token
type SessionClaims struct {
	UserID  string `json:"userId"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies stateless bearer tokens carrying a user id.
// Every token expires after TTL. A negative TTL issues tokens without an expiry.
type SessionIssuer struct {
	SecretKey []byte
	Issuer    string
	TTL       time.Duration

	// Now is overridable for tests
	Now func() time.Time
}

func NewSessionIssuer(secretKey, issuer string, ttl time.Duration) *SessionIssuer {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{SecretKey: []byte(secretKey), Issuer: issuer, TTL: ttl, Now: time.Now}
}

func (s *SessionIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue creates a signed session token for userID
func (s *SessionIssuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}
	now := s.now()
	claims := SessionClaims{
		UserID:  userID,
		Purpose: PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   s.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify checks the token and returns the user id it carries.
// All failures are reported as INVALID_TOKEN.
func (s *SessionIssuer) Verify(tokenString string) (string, error) {
	invalid := func(cause error) error {
		return &AuthError{Kind: KindInvalidToken, Code: string(KindInvalidToken), Field: "token", Message: "Invalid token.", Cause: cause}
	}
	if tokenString == "" {
		return "", invalid(fmt.Errorf("empty token"))
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.SecretKey, nil
	}, opts...)
	if err != nil {
		return "", invalid(err)
	}
	if !token.Valid {
		return "", invalid(fmt.Errorf("invalid token"))
	}
	if claims.Purpose != PurposeSession {
		return "", invalid(fmt.Errorf("invalid token purpose"))
	}
	if claims.UserID == "" {
		return "", invalid(fmt.Errorf("missing user id"))
	}
	return claims.UserID, nil
}
