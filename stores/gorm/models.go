//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	oa "github.com/panyam/userauth"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID                    string  `gorm:"primaryKey;size:64"`
	Username              string  `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash          string  `gorm:"size:128"`
	Email                 *string `gorm:"size:255;uniqueIndex"`
	EmailVerifiedAt       *time.Time
	PhoneNumber           *string `gorm:"size:32;uniqueIndex"`
	PhoneNumberVerifiedAt *time.Time
	OAuthProvider         *string `gorm:"column:oauth_provider;size:32;uniqueIndex:idx_users_oauth"`
	OAuthProviderID       *string `gorm:"column:oauth_provider_id;size:128;uniqueIndex:idx_users_oauth"`
	OAuthAccessToken      string  `gorm:"column:oauth_access_token;size:512"`
	OAuthTokenType        string  `gorm:"column:oauth_token_type;size:32"`
	Avatar                string  `gorm:"size:1024"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *UserModel) ToUser() *oa.User {
	u := &oa.User{
		ID:                    m.ID,
		Username:              m.Username,
		PasswordHash:          m.PasswordHash,
		Email:                 deref(m.Email),
		EmailVerifiedAt:       m.EmailVerifiedAt,
		PhoneNumber:           deref(m.PhoneNumber),
		PhoneNumberVerifiedAt: m.PhoneNumberVerifiedAt,
		Avatar:                m.Avatar,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
	if m.OAuthProvider != nil && m.OAuthProviderID != nil {
		u.OAuth = &oa.OAuthLink{
			Provider:    *m.OAuthProvider,
			ProviderID:  *m.OAuthProviderID,
			AccessToken: m.OAuthAccessToken,
			TokenType:   m.OAuthTokenType,
		}
	}
	return u
}

func UserToModel(u *oa.User) *UserModel {
	m := &UserModel{
		ID:                    u.ID,
		Username:              u.Username,
		PasswordHash:          u.PasswordHash,
		Email:                 nullable(u.Email),
		EmailVerifiedAt:       u.EmailVerifiedAt,
		PhoneNumber:           nullable(u.PhoneNumber),
		PhoneNumberVerifiedAt: u.PhoneNumberVerifiedAt,
		Avatar:                u.Avatar,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}
	if u.OAuth != nil {
		m.OAuthProvider = nullable(u.OAuth.Provider)
		m.OAuthProviderID = nullable(u.OAuth.ProviderID)
		m.OAuthAccessToken = u.OAuth.AccessToken
		m.OAuthTokenType = u.OAuth.TokenType
	}
	return m
}

// VerificationRecord holds the columns shared by both verification tables
type VerificationRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;not null;uniqueIndex"`
	Secret    string `gorm:"size:255;not null"`
	CreatedAt time.Time
}

// EmailVerificationModel is the GORM model for pending email challenges
type EmailVerificationModel struct {
	VerificationRecord `gorm:"embedded"`
}

func (EmailVerificationModel) TableName() string {
	return "email_verifications"
}

// PhoneVerificationModel is the GORM model for pending SMS challenges
type PhoneVerificationModel struct {
	VerificationRecord `gorm:"embedded"`
}

func (PhoneVerificationModel) TableName() string {
	return "phone_verifications"
}

func verificationTable(channel oa.Channel) string {
	if channel == oa.ChannelPhone {
		return PhoneVerificationModel{}.TableName()
	}
	return EmailVerificationModel{}.TableName()
}

func (r *VerificationRecord) toVerification(channel oa.Channel) *oa.Verification {
	return &oa.Verification{
		ID:        r.ID,
		UserID:    r.UserID,
		Channel:   channel,
		Secret:    r.Secret,
		CreatedAt: r.CreatedAt,
	}
}
