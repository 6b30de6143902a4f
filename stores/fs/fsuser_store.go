package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	oa "github.com/panyam/userauth"
)

// FSIndexEntry maps a unique user attribute to the owning user id
type FSIndexEntry struct {
	Value     string    `json:"value"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FSUserStore implements oa.UserStore with one JSON file per user plus
// one index file per unique attribute.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── {userId}.json
//	└── index/
//	    ├── username/{username}.json
//	    ├── email/{email}.json
//	    ├── phoneNumber/{phoneNumber}.json
//	    └── oauth/{provider}:{providerId}.json
//
// # Concurrency Model
//
// A store-wide mutex serializes writes, so uniqueness checks and index updates
// cannot interleave within a process. Sharing the directory between processes
// is not supported.
type FSUserStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) getUserPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", fileKey(userId)+".json")
}

func (s *FSUserStore) getIndexPath(field, value string) string {
	return filepath.Join(s.StoragePath, "index", field, fileKey(value)+".json")
}

// uniqueKeys lists the indexed attributes a user currently holds
func uniqueKeys(u *oa.User) map[string]string {
	keys := map[string]string{oa.FieldUsername: u.Username}
	if u.Email != "" {
		keys[oa.FieldEmail] = u.Email
	}
	if u.PhoneNumber != "" {
		keys[oa.FieldPhoneNumber] = u.PhoneNumber
	}
	if u.OAuth != nil && u.OAuth.Provider != "" && u.OAuth.ProviderID != "" {
		keys[oa.FieldOAuth] = u.OAuth.Provider + ":" + u.OAuth.ProviderID
	}
	return keys
}

// owner returns the user id holding value for field, or "" if it is free
func (s *FSUserStore) owner(field, value string) (string, error) {
	var entry FSIndexEntry
	if err := readJSON(s.getIndexPath(field, value), &entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return entry.UserID, nil
}

// checkFree fails with a DuplicateError for the first attribute already owned by another user
func (s *FSUserStore) checkFree(u *oa.User) error {
	for _, field := range []string{oa.FieldUsername, oa.FieldEmail, oa.FieldPhoneNumber, oa.FieldOAuth} {
		value, ok := uniqueKeys(u)[field]
		if !ok {
			continue
		}
		owner, err := s.owner(field, value)
		if err != nil {
			return err
		}
		if owner != "" && owner != u.ID {
			return &oa.DuplicateError{Field: field}
		}
	}
	return nil
}

func (s *FSUserStore) writeIndexes(u *oa.User) error {
	for field, value := range uniqueKeys(u) {
		entry := FSIndexEntry{Value: value, UserID: u.ID, CreatedAt: time.Now()}
		if err := writeJSON(s.getIndexPath(field, value), &entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *oa.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.getUserPath(user.ID)); err == nil {
		return &oa.DuplicateError{Field: oa.FieldUserID}
	}
	if err := s.checkFree(user); err != nil {
		return err
	}
	if err := writeJSON(s.getUserPath(user.ID), user); err != nil {
		return err
	}
	return s.writeIndexes(user)
}

func (s *FSUserStore) SaveUser(ctx context.Context, user *oa.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readUser(user.ID)
	if err != nil {
		return err
	}
	if err := s.checkFree(user); err != nil {
		return err
	}

	// drop index entries for attributes that changed or went away
	current := uniqueKeys(user)
	for field, value := range uniqueKeys(existing) {
		if current[field] != value {
			if err := removeIfExists(s.getIndexPath(field, value)); err != nil {
				return err
			}
		}
	}
	if err := writeJSON(s.getUserPath(user.ID), user); err != nil {
		return err
	}
	return s.writeIndexes(user)
}

func (s *FSUserStore) readUser(userId string) (*oa.User, error) {
	var user oa.User
	if err := readJSON(s.getUserPath(userId), &user); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByID(ctx context.Context, userId string) (*oa.User, error) {
	return s.readUser(userId)
}

func (s *FSUserStore) getBy(field, value string) (*oa.User, error) {
	if value == "" {
		return nil, oa.ErrNotFound
	}
	userId, err := s.owner(field, value)
	if err != nil {
		return nil, err
	}
	if userId == "" {
		return nil, oa.ErrNotFound
	}
	return s.readUser(userId)
}

func (s *FSUserStore) GetUserByUsername(ctx context.Context, username string) (*oa.User, error) {
	return s.getBy(oa.FieldUsername, username)
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	return s.getBy(oa.FieldEmail, email)
}

func (s *FSUserStore) GetUserByPhoneNumber(ctx context.Context, phoneNumber string) (*oa.User, error) {
	return s.getBy(oa.FieldPhoneNumber, phoneNumber)
}

func (s *FSUserStore) GetUserByOAuth(ctx context.Context, provider, providerID string) (*oa.User, error) {
	if provider == "" || providerID == "" {
		return nil, oa.ErrNotFound
	}
	return s.getBy(oa.FieldOAuth, provider+":"+providerID)
}

var _ oa.UserStore = (*FSUserStore)(nil)
