package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	oa "github.com/panyam/userauth"
)

// FSVerificationStore implements oa.VerificationStore using filesystem storage.
//
// # File Structure
//
//	{StoragePath}/
//	└── verifications/
//	    └── {channel}/
//	        ├── records/{verificationId}.json
//	        └── users/{userId}          # holds the verification id
//
// # Concurrency Model
//
// The per-user file is created with O_EXCL, so of two concurrent creations for
// the same user and channel exactly one succeeds and the other sees ErrDuplicate.
type FSVerificationStore struct {
	StoragePath string
}

func NewFSVerificationStore(storagePath string) *FSVerificationStore {
	return &FSVerificationStore{StoragePath: storagePath}
}

func (s *FSVerificationStore) getRecordPath(channel oa.Channel, id string) string {
	return filepath.Join(s.StoragePath, "verifications", string(channel), "records", fileKey(id)+".json")
}

func (s *FSVerificationStore) getUserPath(channel oa.Channel, userID string) string {
	return filepath.Join(s.StoragePath, "verifications", string(channel), "users", fileKey(userID))
}

func (s *FSVerificationStore) CreateVerification(ctx context.Context, v *oa.Verification) error {
	userPath := s.getUserPath(v.Channel, v.UserID)
	if err := os.MkdirAll(filepath.Dir(userPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(userPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return oa.ErrDuplicate
		}
		return fmt.Errorf("failed to claim verification slot: %w", err)
	}
	_, werr := f.WriteString(v.ID)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(userPath)
		return fmt.Errorf("failed to claim verification slot: %w", werr)
	}

	if err := writeJSON(s.getRecordPath(v.Channel, v.ID), v); err != nil {
		os.Remove(userPath)
		return err
	}
	return nil
}

func (s *FSVerificationStore) GetVerification(ctx context.Context, channel oa.Channel, id string) (*oa.Verification, error) {
	var v oa.Verification
	if err := readJSON(s.getRecordPath(channel, id), &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *FSVerificationStore) userRecordID(channel oa.Channel, userID string) (string, error) {
	data, err := os.ReadFile(s.getUserPath(channel, userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", oa.ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FSVerificationStore) GetVerificationByUser(ctx context.Context, channel oa.Channel, userID string) (*oa.Verification, error) {
	id, err := s.userRecordID(channel, userID)
	if err != nil {
		return nil, err
	}
	return s.GetVerification(ctx, channel, id)
}

func (s *FSVerificationStore) DeleteVerification(ctx context.Context, channel oa.Channel, id string) error {
	v, err := s.GetVerification(ctx, channel, id)
	if errors.Is(err, oa.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := removeIfExists(s.getRecordPath(channel, id)); err != nil {
		return err
	}
	// only release the user slot if it still points at this record
	if current, err := s.userRecordID(channel, v.UserID); err == nil && current == id {
		return removeIfExists(s.getUserPath(channel, v.UserID))
	}
	return nil
}

func (s *FSVerificationStore) DeleteUserVerification(ctx context.Context, channel oa.Channel, userID string) error {
	id, err := s.userRecordID(channel, userID)
	if errors.Is(err, oa.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := removeIfExists(s.getRecordPath(channel, id)); err != nil {
		return err
	}
	return removeIfExists(s.getUserPath(channel, userID))
}

var _ oa.VerificationStore = (*FSVerificationStore)(nil)
