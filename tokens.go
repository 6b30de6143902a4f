package userauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default challenge validity windows
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPhoneVerification = 10 * time.Minute
)

// Token purposes carried in the "purpose" claim so a token minted for one
// flow is never accepted by another.
const (
	PurposeSession           = "session"
	PurposeEmailVerification = "email_verification"
	PurposeOAuthState        = "oauth_state"
)

var errMalformedToken = errors.New("malformed token")

// emailChallengeClaims binds a delivered email token to one Verification record
type emailChallengeClaims struct {
	UserID  string `json:"userId"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// signEmailChallenge creates the token delivered in the verification link.
// It is signed with the record's own secret, so deleting the record revokes it.
func signEmailChallenge(v *Verification) (string, error) {
	claims := emailChallengeClaims{
		UserID:  v.UserID,
		Purpose: PurposeEmailVerification,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  v.UserID,
			ID:       v.ID,
			IssuedAt: jwt.NewNumericDate(v.CreatedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign email challenge: %w", err)
	}
	return signed, nil
}

// decodeEmailChallenge reads the user id from a token without checking the signature.
// The signature can only be checked once the record (and its secret) is loaded.
func decodeEmailChallenge(tokenString string) (*emailChallengeClaims, error) {
	claims := &emailChallengeClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedToken, err)
	}
	if claims.UserID == "" || claims.Purpose != PurposeEmailVerification {
		return nil, errMalformedToken
	}
	return claims, nil
}

// verifyEmailChallenge checks the token signature against the record secret
// and that the token was minted for this exact record.
func verifyEmailChallenge(tokenString string, v *Verification) error {
	claims := &emailChallengeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.Secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	if claims.ID != v.ID || claims.UserID != v.UserID {
		return fmt.Errorf("token does not match challenge")
	}
	return nil
}
