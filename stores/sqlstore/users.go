package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	oa "github.com/panyam/userauth"
)

const userColumns = `id, username, password_hash, email, email_verified_at, phone_number,
	phone_number_verified_at, oauth_provider, oauth_provider_id, oauth_access_token,
	oauth_token_type, avatar, created_at, updated_at`

// UserStore implements oa.UserStore over database/sql
type UserStore struct {
	db *sql.DB
	rebinder
}

func NewUserStore(db *sql.DB, driver string) *UserStore {
	return &UserStore{db: db, rebinder: newRebinder(driver)}
}

// userArgs returns the column values in userColumns order
func userArgs(u *oa.User) []any {
	var provider, providerID, accessToken, tokenType string
	if u.OAuth != nil {
		provider, providerID = u.OAuth.Provider, u.OAuth.ProviderID
		accessToken, tokenType = u.OAuth.AccessToken, u.OAuth.TokenType
	}
	return []any{
		u.ID, u.Username, u.PasswordHash, nullString(u.Email), nullTime(u.EmailVerifiedAt),
		nullString(u.PhoneNumber), nullTime(u.PhoneNumberVerifiedAt), nullString(provider),
		nullString(providerID), accessToken, tokenType, u.Avatar, u.CreatedAt, u.UpdatedAt,
	}
}

func (s *UserStore) CreateUser(ctx context.Context, user *oa.User) error {
	query := `INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.bind(query), userArgs(user)...); err != nil {
		return translate(err)
	}
	return nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *oa.User) error {
	query := `UPDATE users SET username = ?, password_hash = ?, email = ?, email_verified_at = ?,
		phone_number = ?, phone_number_verified_at = ?, oauth_provider = ?, oauth_provider_id = ?,
		oauth_access_token = ?, oauth_token_type = ?, avatar = ?, updated_at = ?
		WHERE id = ?`
	// everything but id and created_at, then the id for the WHERE clause
	args := userArgs(user)
	args = append(args[1:12], args[13], user.ID)

	result, err := s.db.ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return translate(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return oa.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if unique, constraint := uniqueViolation(err); unique {
		return &oa.DuplicateError{Field: fieldForConstraint(constraint)}
	}
	return fmt.Errorf("error performing sql request: %w", err)
}

func (s *UserStore) first(ctx context.Context, where string, args ...any) (*oa.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	row := s.db.QueryRowContext(ctx, s.bind(query), args...)

	var (
		u                                  oa.User
		email, phone, provider, providerID sql.NullString
		emailVerifiedAt, phoneVerifiedAt   sql.NullTime
		accessToken, tokenType             string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &emailVerifiedAt, &phone,
		&phoneVerifiedAt, &provider, &providerID, &accessToken, &tokenType, &u.Avatar,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, oa.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	u.Email = email.String
	u.EmailVerifiedAt = timePtr(emailVerifiedAt)
	u.PhoneNumber = phone.String
	u.PhoneNumberVerifiedAt = timePtr(phoneVerifiedAt)
	if provider.Valid {
		u.OAuth = &oa.OAuthLink{
			Provider:    provider.String,
			ProviderID:  providerID.String,
			AccessToken: accessToken,
			TokenType:   tokenType,
		}
	}
	return &u, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*oa.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*oa.User, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	if email == "" {
		return nil, oa.ErrNotFound
	}
	return s.first(ctx, "email = ?", email)
}

func (s *UserStore) GetUserByPhoneNumber(ctx context.Context, phoneNumber string) (*oa.User, error) {
	if phoneNumber == "" {
		return nil, oa.ErrNotFound
	}
	return s.first(ctx, "phone_number = ?", phoneNumber)
}

func (s *UserStore) GetUserByOAuth(ctx context.Context, provider, providerID string) (*oa.User, error) {
	if provider == "" || providerID == "" {
		return nil, oa.ErrNotFound
	}
	return s.first(ctx, "oauth_provider = ? AND oauth_provider_id = ?", provider, providerID)
}

var _ oa.UserStore = (*UserStore)(nil)
