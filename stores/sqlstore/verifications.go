package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	oa "github.com/panyam/userauth"
)

// VerificationStore implements oa.VerificationStore over database/sql.
// The unique constraint on user_id arbitrates concurrent issues.
type VerificationStore struct {
	db *sql.DB
	rebinder
}

func NewVerificationStore(db *sql.DB, driver string) *VerificationStore {
	return &VerificationStore{db: db, rebinder: newRebinder(driver)}
}

func table(channel oa.Channel) string {
	if channel == oa.ChannelPhone {
		return "phone_verifications"
	}
	return "email_verifications"
}

func (s *VerificationStore) CreateVerification(ctx context.Context, v *oa.Verification) error {
	query := `INSERT INTO ` + table(v.Channel) + ` (id, user_id, secret, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.bind(query), v.ID, v.UserID, v.Secret, v.CreatedAt)
	if err != nil {
		if unique, _ := uniqueViolation(err); unique {
			return oa.ErrDuplicate
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *VerificationStore) first(ctx context.Context, channel oa.Channel, column, value string) (*oa.Verification, error) {
	query := `SELECT id, user_id, secret, created_at FROM ` + table(channel) + ` WHERE ` + column + ` = ?`
	v := &oa.Verification{Channel: channel}
	err := s.db.QueryRowContext(ctx, s.bind(query), value).Scan(&v.ID, &v.UserID, &v.Secret, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, oa.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return v, nil
}

func (s *VerificationStore) GetVerification(ctx context.Context, channel oa.Channel, id string) (*oa.Verification, error) {
	return s.first(ctx, channel, "id", id)
}

func (s *VerificationStore) GetVerificationByUser(ctx context.Context, channel oa.Channel, userID string) (*oa.Verification, error) {
	return s.first(ctx, channel, "user_id", userID)
}

func (s *VerificationStore) DeleteVerification(ctx context.Context, channel oa.Channel, id string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM `+table(channel)+` WHERE id = ?`), id)
	return err
}

func (s *VerificationStore) DeleteUserVerification(ctx context.Context, channel oa.Channel, userID string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM `+table(channel)+` WHERE user_id = ?`), userID)
	return err
}

var _ oa.VerificationStore = (*VerificationStore)(nil)
