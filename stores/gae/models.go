//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	oa "github.com/panyam/userauth"
)

// Kind constants for Datastore entities
const (
	KindUser              = "User"
	KindUserUnique        = "UserUnique"
	KindEmailVerification = "EmailVerification"
	KindPhoneVerification = "PhoneVerification"
	KindVerificationOwner = "VerificationOwner"
)

// UserEntity is the Datastore entity for users.
// Zero times stand for "not verified".
type UserEntity struct {
	Key                   *datastore.Key `datastore:"__key__"`
	Username              string         `datastore:"username"`
	PasswordHash          string         `datastore:"password_hash,noindex"`
	Email                 string         `datastore:"email"`
	EmailVerifiedAt       time.Time      `datastore:"email_verified_at,noindex"`
	PhoneNumber           string         `datastore:"phone_number"`
	PhoneNumberVerifiedAt time.Time      `datastore:"phone_number_verified_at,noindex"`
	OAuthProvider         string         `datastore:"oauth_provider"`
	OAuthProviderID       string         `datastore:"oauth_provider_id"`
	OAuthAccessToken      string         `datastore:"oauth_access_token,noindex"`
	OAuthTokenType        string         `datastore:"oauth_token_type,noindex"`
	Avatar                string         `datastore:"avatar,noindex"`
	CreatedAt             time.Time      `datastore:"created_at"`
	UpdatedAt             time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *oa.User {
	u := &oa.User{
		ID:                    e.Key.Name,
		Username:              e.Username,
		PasswordHash:          e.PasswordHash,
		Email:                 e.Email,
		EmailVerifiedAt:       timePtr(e.EmailVerifiedAt),
		PhoneNumber:           e.PhoneNumber,
		PhoneNumberVerifiedAt: timePtr(e.PhoneNumberVerifiedAt),
		Avatar:                e.Avatar,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
	if e.OAuthProvider != "" {
		u.OAuth = &oa.OAuthLink{
			Provider:    e.OAuthProvider,
			ProviderID:  e.OAuthProviderID,
			AccessToken: e.OAuthAccessToken,
			TokenType:   e.OAuthTokenType,
		}
	}
	return u
}

func UserToEntity(u *oa.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:          key,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Email:        u.Email,
		PhoneNumber:  u.PhoneNumber,
		Avatar:       u.Avatar,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.EmailVerifiedAt != nil {
		e.EmailVerifiedAt = *u.EmailVerifiedAt
	}
	if u.PhoneNumberVerifiedAt != nil {
		e.PhoneNumberVerifiedAt = *u.PhoneNumberVerifiedAt
	}
	if u.OAuth != nil {
		e.OAuthProvider = u.OAuth.Provider
		e.OAuthProviderID = u.OAuth.ProviderID
		e.OAuthAccessToken = u.OAuth.AccessToken
		e.OAuthTokenType = u.OAuth.TokenType
	}
	return e
}

// UniqueEntity marks a unique user attribute as taken.
// Key format: Field + ":" + Value
type UniqueEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

// VerificationEntity is the Datastore entity for a pending challenge
type VerificationEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	Secret    string         `datastore:"secret,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *VerificationEntity) ToVerification(channel oa.Channel) *oa.Verification {
	return &oa.Verification{
		ID:        e.Key.Name,
		UserID:    e.UserID,
		Channel:   channel,
		Secret:    e.Secret,
		CreatedAt: e.CreatedAt,
	}
}

// OwnerEntity points a (channel, user) pair at its pending challenge.
// Key format: Channel + ":" + UserID
type OwnerEntity struct {
	Key            *datastore.Key `datastore:"__key__"`
	VerificationID string         `datastore:"verification_id,noindex"`
}

func verificationKind(channel oa.Channel) string {
	if channel == oa.ChannelPhone {
		return KindPhoneVerification
	}
	return KindEmailVerification
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
