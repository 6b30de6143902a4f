//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	oa "github.com/panyam/userauth"
)

const uniqueViolation = "23505"

// AutoMigrate runs database migrations for all userauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&EmailVerificationModel{},
		&PhoneVerificationModel{},
	)
}

// isUniqueViolation reports whether err is a unique constraint failure, and
// returns the violated constraint name when the driver exposes it.
func isUniqueViolation(err error) (bool, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation, pgErr.ConstraintName
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true, ""
	}
	return false, ""
}

// fieldForConstraint maps a unique index name to the user attribute it guards
func fieldForConstraint(constraint string) string {
	switch {
	case constraint == "":
		return ""
	case strings.Contains(constraint, "oauth"):
		return oa.FieldOAuth
	case strings.Contains(constraint, "username"):
		return oa.FieldUsername
	case strings.Contains(constraint, "email"):
		return oa.FieldEmail
	case strings.Contains(constraint, "phone"):
		return oa.FieldPhoneNumber
	case strings.HasSuffix(constraint, "pkey"):
		return oa.FieldUserID
	}
	return ""
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements oa.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *oa.User) error {
	err := s.db.WithContext(ctx).Create(UserToModel(user)).Error
	if err != nil {
		return s.translate(ctx, user, err)
	}
	return nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *oa.User) error {
	result := s.db.WithContext(ctx).
		Model(&UserModel{ID: user.ID}).
		Select("*").Omit("id", "created_at").
		Updates(UserToModel(user))
	if result.Error != nil {
		return s.translate(ctx, user, result.Error)
	}
	if result.RowsAffected == 0 {
		return oa.ErrNotFound
	}
	return nil
}

// translate turns unique violations into *oa.DuplicateError.
// When the driver does not name the constraint, the colliding field is found by lookup.
func (s *UserStore) translate(ctx context.Context, user *oa.User, err error) error {
	unique, constraint := isUniqueViolation(err)
	if !unique {
		return err
	}
	if field := fieldForConstraint(constraint); field != "" {
		return &oa.DuplicateError{Field: field}
	}
	return &oa.DuplicateError{Field: s.collidingField(ctx, user)}
}

func (s *UserStore) collidingField(ctx context.Context, user *oa.User) string {
	held := func(u *oa.User, err error) bool {
		return err == nil && u.ID != user.ID
	}
	if held(s.GetUserByUsername(ctx, user.Username)) {
		return oa.FieldUsername
	}
	if user.Email != "" && held(s.GetUserByEmail(ctx, user.Email)) {
		return oa.FieldEmail
	}
	if user.PhoneNumber != "" && held(s.GetUserByPhoneNumber(ctx, user.PhoneNumber)) {
		return oa.FieldPhoneNumber
	}
	if user.OAuth != nil && held(s.GetUserByOAuth(ctx, user.OAuth.Provider, user.OAuth.ProviderID)) {
		return oa.FieldOAuth
	}
	return oa.FieldUserID
}

func (s *UserStore) first(ctx context.Context, query string, args ...any) (*oa.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
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

// =============================================================================
// VerificationStore
// =============================================================================

// VerificationStore implements oa.VerificationStore using GORM.
// The unique index on user_id makes the database the arbiter between concurrent issues.
type VerificationStore struct {
	db *gorm.DB
}

func NewVerificationStore(db *gorm.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

func (s *VerificationStore) table(ctx context.Context, channel oa.Channel) *gorm.DB {
	return s.db.WithContext(ctx).Table(verificationTable(channel))
}

func (s *VerificationStore) CreateVerification(ctx context.Context, v *oa.Verification) error {
	record := &VerificationRecord{ID: v.ID, UserID: v.UserID, Secret: v.Secret, CreatedAt: v.CreatedAt}
	if err := s.table(ctx, v.Channel).Create(record).Error; err != nil {
		if unique, _ := isUniqueViolation(err); unique {
			return oa.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *VerificationStore) first(ctx context.Context, channel oa.Channel, query string, arg any) (*oa.Verification, error) {
	var record VerificationRecord
	if err := s.table(ctx, channel).Where(query, arg).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return record.toVerification(channel), nil
}

func (s *VerificationStore) GetVerification(ctx context.Context, channel oa.Channel, id string) (*oa.Verification, error) {
	return s.first(ctx, channel, "id = ?", id)
}

func (s *VerificationStore) GetVerificationByUser(ctx context.Context, channel oa.Channel, userID string) (*oa.Verification, error) {
	return s.first(ctx, channel, "user_id = ?", userID)
}

func (s *VerificationStore) DeleteVerification(ctx context.Context, channel oa.Channel, id string) error {
	return s.table(ctx, channel).Where("id = ?", id).Delete(&VerificationRecord{}).Error
}

func (s *VerificationStore) DeleteUserVerification(ctx context.Context, channel oa.Channel, userID string) error {
	return s.table(ctx, channel).Where("user_id = ?", userID).Delete(&VerificationRecord{}).Error
}

var (
	_ oa.UserStore         = (*UserStore)(nil)
	_ oa.VerificationStore = (*VerificationStore)(nil)
)
