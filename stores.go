package userauth

import (
	"context"
	"errors"
	"time"
)

// Store errors. Backends must return these (possibly wrapped) so the
// service layer can tell a missing record from a uniqueness violation.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// DuplicateError is a uniqueness violation on a known field.
// errors.Is(err, ErrDuplicate) holds for it.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return "duplicate " + e.Field
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// Fields named in DuplicateError
const (
	FieldUsername    = "username"
	FieldEmail       = "email"
	FieldPhoneNumber = "phoneNumber"
	FieldOAuth       = "oauth"
	FieldUserID      = "userId"
)

// OAuthLink ties a user to an account at a federated provider
type OAuthLink struct {
	Provider    string `json:"provider"`
	ProviderID  string `json:"provider_id"`
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
}

// User is a local account
type User struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	PasswordHash          string     `json:"password_hash,omitempty"`
	Email                 string     `json:"email,omitempty"`
	EmailVerifiedAt       *time.Time `json:"email_verified_at,omitempty"`
	PhoneNumber           string     `json:"phone_number,omitempty"`
	PhoneNumberVerifiedAt *time.Time `json:"phone_number_verified_at,omitempty"`
	OAuth                 *OAuthLink `json:"oauth,omitempty"`
	Avatar                string     `json:"avatar,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasPassword is true for accounts created with a local password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// MarkEmailVerified sets EmailVerifiedAt once; later calls keep the first timestamp
func (u *User) MarkEmailVerified(at time.Time) {
	if u.EmailVerifiedAt == nil {
		t := at
		u.EmailVerifiedAt = &t
	}
}

// MarkPhoneVerified sets PhoneNumberVerifiedAt once
func (u *User) MarkPhoneVerified(at time.Time) {
	if u.PhoneNumberVerifiedAt == nil {
		t := at
		u.PhoneNumberVerifiedAt = &t
	}
}

// Channel identifies which identity claim a verification proves
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Verification is a pending challenge. There is at most one per (Channel, UserID).
type Verification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Channel   Channel   `json:"channel"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt returns when the challenge stops being consumable
func (v *Verification) ExpiresAt(ttl time.Duration) time.Time {
	return v.CreatedAt.Add(ttl)
}

// IsExpired reports whether now is past the validity window
func (v *Verification) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.After(v.ExpiresAt(ttl))
}

// UserStore persists accounts.
// CreateUser and SaveUser return a *DuplicateError when a unique field collides.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByPhoneNumber(ctx context.Context, phoneNumber string) (*User, error)
	GetUserByOAuth(ctx context.Context, provider, providerID string) (*User, error)
}

// VerificationStore persists pending challenges.
// CreateVerification returns ErrDuplicate when the user already has a record on the channel.
// Deletes of missing records are not errors.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *Verification) error
	GetVerification(ctx context.Context, channel Channel, id string) (*Verification, error)
	GetVerificationByUser(ctx context.Context, channel Channel, userID string) (*Verification, error)
	DeleteVerification(ctx context.Context, channel Channel, id string) error
	DeleteUserVerification(ctx context.Context, channel Channel, userID string) error
}
