//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/userauth"
)

// maxAttempts bounds transaction retries under contention on a marker key
const maxAttempts = 10

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements oa.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{client: client, namespace: namespace}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) uniqueKey(field, value string) *datastore.Key {
	return s.namespacedKey(KindUserUnique, field+":"+value)
}

// uniqueValues lists the indexed attributes a user currently holds
func uniqueValues(u *oa.User) map[string]string {
	values := map[string]string{oa.FieldUsername: u.Username}
	if u.Email != "" {
		values[oa.FieldEmail] = u.Email
	}
	if u.PhoneNumber != "" {
		values[oa.FieldPhoneNumber] = u.PhoneNumber
	}
	if u.OAuth != nil && u.OAuth.Provider != "" && u.OAuth.ProviderID != "" {
		values[oa.FieldOAuth] = u.OAuth.Provider + ":" + u.OAuth.ProviderID
	}
	return values
}

var uniqueFields = []string{oa.FieldUsername, oa.FieldEmail, oa.FieldPhoneNumber, oa.FieldOAuth}

// claim checks every marker the user needs and writes the free ones.
// A marker held by another user aborts with a DuplicateError.
func (s *UserStore) claim(tx *datastore.Transaction, u *oa.User, now time.Time) error {
	values := uniqueValues(u)
	for _, field := range uniqueFields {
		value, ok := values[field]
		if !ok {
			continue
		}
		key := s.uniqueKey(field, value)
		var marker UniqueEntity
		err := tx.Get(key, &marker)
		switch {
		case err == nil && marker.UserID != u.ID:
			return &oa.DuplicateError{Field: field}
		case err == nil:
			continue
		case !errors.Is(err, datastore.ErrNoSuchEntity):
			return err
		}
		if _, err := tx.Put(key, &UniqueEntity{UserID: u.ID, CreatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserStore) CreateUser(ctx context.Context, user *oa.User) error {
	key := s.namespacedKey(KindUser, user.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err == nil {
			return &oa.DuplicateError{Field: oa.FieldUserID}
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err := s.claim(tx, user, time.Now()); err != nil {
			return err
		}
		_, err := tx.Put(key, UserToEntity(user, key))
		return err
	}, datastore.MaxAttempts(maxAttempts))
	return err
}

func (s *UserStore) SaveUser(ctx context.Context, user *oa.User) error {
	key := s.namespacedKey(KindUser, user.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return oa.ErrNotFound
			}
			return err
		}
		if err := s.claim(tx, user, time.Now()); err != nil {
			return err
		}
		// release markers for attributes that changed or went away
		current := uniqueValues(user)
		for field, value := range uniqueValues(existing.ToUser()) {
			if current[field] != value {
				if err := tx.Delete(s.uniqueKey(field, value)); err != nil {
					return err
				}
			}
		}
		_, err := tx.Put(key, UserToEntity(user, key))
		return err
	})
	return err
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*oa.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) getBy(ctx context.Context, field, value string) (*oa.User, error) {
	if value == "" {
		return nil, oa.ErrNotFound
	}
	var marker UniqueEntity
	if err := s.client.Get(ctx, s.uniqueKey(field, value), &marker); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, marker.UserID)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*oa.User, error) {
	return s.getBy(ctx, oa.FieldUsername, username)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	return s.getBy(ctx, oa.FieldEmail, email)
}

func (s *UserStore) GetUserByPhoneNumber(ctx context.Context, phoneNumber string) (*oa.User, error) {
	return s.getBy(ctx, oa.FieldPhoneNumber, phoneNumber)
}

func (s *UserStore) GetUserByOAuth(ctx context.Context, provider, providerID string) (*oa.User, error) {
	if provider == "" || providerID == "" {
		return nil, oa.ErrNotFound
	}
	return s.getBy(ctx, oa.FieldOAuth, provider+":"+providerID)
}

// ============================================================================
// VerificationStore
// ============================================================================

// VerificationStore implements oa.VerificationStore using Google Cloud Datastore
type VerificationStore struct {
	client    *datastore.Client
	namespace string
}

// NewVerificationStore creates a new Datastore-backed VerificationStore
func NewVerificationStore(client *datastore.Client, namespace string) *VerificationStore {
	return &VerificationStore{client: client, namespace: namespace}
}

func (s *VerificationStore) recordKey(channel oa.Channel, id string) *datastore.Key {
	key := datastore.NameKey(verificationKind(channel), id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *VerificationStore) ownerKey(channel oa.Channel, userID string) *datastore.Key {
	key := datastore.NameKey(KindVerificationOwner, string(channel)+":"+userID, nil)
	key.Namespace = s.namespace
	return key
}

func (s *VerificationStore) CreateVerification(ctx context.Context, v *oa.Verification) error {
	ownerKey := s.ownerKey(v.Channel, v.UserID)
	recordKey := s.recordKey(v.Channel, v.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var owner OwnerEntity
		if err := tx.Get(ownerKey, &owner); err == nil {
			return oa.ErrDuplicate
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(ownerKey, &OwnerEntity{VerificationID: v.ID}); err != nil {
			return err
		}
		_, err := tx.Put(recordKey, &VerificationEntity{UserID: v.UserID, Secret: v.Secret, CreatedAt: v.CreatedAt})
		return err
	}, datastore.MaxAttempts(maxAttempts))
	return err
}

func (s *VerificationStore) GetVerification(ctx context.Context, channel oa.Channel, id string) (*oa.Verification, error) {
	var entity VerificationEntity
	if err := s.client.Get(ctx, s.recordKey(channel, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return entity.ToVerification(channel), nil
}

func (s *VerificationStore) GetVerificationByUser(ctx context.Context, channel oa.Channel, userID string) (*oa.Verification, error) {
	var owner OwnerEntity
	if err := s.client.Get(ctx, s.ownerKey(channel, userID), &owner); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrNotFound
		}
		return nil, err
	}
	return s.GetVerification(ctx, channel, owner.VerificationID)
}

// remove deletes a record and, if it still points at the record, its owner marker
func (s *VerificationStore) remove(tx *datastore.Transaction, channel oa.Channel, id, userID string) error {
	ownerKey := s.ownerKey(channel, userID)
	var owner OwnerEntity
	err := tx.Get(ownerKey, &owner)
	if err == nil && owner.VerificationID == id {
		if err := tx.Delete(ownerKey); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	return tx.Delete(s.recordKey(channel, id))
}

func (s *VerificationStore) DeleteVerification(ctx context.Context, channel oa.Channel, id string) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity VerificationEntity
		if err := tx.Get(s.recordKey(channel, id), &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil
			}
			return err
		}
		return s.remove(tx, channel, id, entity.UserID)
	})
	return err
}

func (s *VerificationStore) DeleteUserVerification(ctx context.Context, channel oa.Channel, userID string) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var owner OwnerEntity
		if err := tx.Get(s.ownerKey(channel, userID), &owner); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil
			}
			return err
		}
		return s.remove(tx, channel, owner.VerificationID, userID)
	})
	return err
}

// PurgeExpired deletes challenges on channel created before cutoff and
// returns how many were removed. Expired records are already unusable;
// this only reclaims storage.
func (s *VerificationStore) PurgeExpired(ctx context.Context, channel oa.Channel, cutoff time.Time) (int, error) {
	query := datastore.NewQuery(verificationKind(channel)).
		Namespace(s.namespace).
		FilterField("created_at", "<", cutoff)

	purged := 0
	it := s.client.Run(ctx, query)
	for {
		var entity VerificationEntity
		key, err := it.Next(&entity)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return purged, fmt.Errorf("failed to list expired verifications: %w", err)
		}
		_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
			return s.remove(tx, channel, key.Name, entity.UserID)
		})
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

var (
	_ oa.UserStore         = (*UserStore)(nil)
	_ oa.VerificationStore = (*VerificationStore)(nil)
)
