// Package client is a typed Go client for the userauth HTTP API.
// It keeps the session token per server in a CredentialStore and attaches it
// to outgoing requests.
package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServerCredential holds the session for a single server
type ServerCredential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired returns true if the token has expired. Tokens without an expiry never do.
func (c *ServerCredential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// newCredential reads the expiry from the token without verifying it.
// The server is the only party that can check the signature.
func newCredential(token string, user *User) *ServerCredential {
	cred := &ServerCredential{Token: token, CreatedAt: time.Now()}
	if user != nil {
		cred.UserID = user.UserID
		cred.Username = user.Username
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	// SetCredential stores a credential for a server URL
	SetCredential(serverURL string, cred *ServerCredential) error

	// RemoveCredential removes a credential for a server URL
	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}
