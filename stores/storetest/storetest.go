// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	oa "github.com/panyam/userauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(username string) *oa.User {
	now := time.Now().UTC().Truncate(time.Second)
	return &oa.User{ID: uuid.NewString(), Username: username, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
}

// RunUserStoreTests exercises the oa.UserStore contract against a fresh store
func RunUserStoreTests(t *testing.T, newStore func(t *testing.T) oa.UserStore) {
	ctx := context.Background()

	t.Run("create and lookup", func(t *testing.T) {
		store := newStore(t)
		u := newUser("alice01")
		u.Email = "alice@example.com"
		u.PhoneNumber = "+15551234567"
		require.NoError(t, store.CreateUser(ctx, u))

		byID, err := store.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice01", byID.Username)
		assert.Equal(t, "hash", byID.PasswordHash)
		assert.Nil(t, byID.EmailVerifiedAt)

		byName, err := store.GetUserByUsername(ctx, "alice01")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)

		byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byPhone, err := store.GetUserByPhoneNumber(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byPhone.ID)
	})

	t.Run("missing users", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetUserByID(ctx, "nope")
		assert.ErrorIs(t, err, oa.ErrNotFound)
		_, err = store.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, oa.ErrNotFound)
		_, err = store.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, oa.ErrNotFound)
		_, err = store.GetUserByOAuth(ctx, "github", "1")
		assert.ErrorIs(t, err, oa.ErrNotFound)
	})

	t.Run("unique fields", func(t *testing.T) {
		store := newStore(t)
		first := newUser("taken01")
		first.Email = "taken@example.com"
		first.OAuth = &oa.OAuthLink{Provider: "github", ProviderID: "gh-1"}
		require.NoError(t, store.CreateUser(ctx, first))

		var dup *oa.DuplicateError

		err := store.CreateUser(ctx, newUser("taken01"))
		require.True(t, errors.As(err, &dup), "got %v", err)
		assert.Equal(t, oa.FieldUsername, dup.Field)
		assert.ErrorIs(t, err, oa.ErrDuplicate)

		other := newUser("other01")
		other.Email = "taken@example.com"
		err = store.CreateUser(ctx, other)
		require.True(t, errors.As(err, &dup), "got %v", err)
		assert.Equal(t, oa.FieldEmail, dup.Field)

		linked := newUser("linked01")
		linked.OAuth = &oa.OAuthLink{Provider: "github", ProviderID: "gh-1"}
		err = store.CreateUser(ctx, linked)
		assert.ErrorIs(t, err, oa.ErrDuplicate)

		// users without email or phone never collide with each other
		require.NoError(t, store.CreateUser(ctx, newUser("plain001")))
		require.NoError(t, store.CreateUser(ctx, newUser("plain002")))
	})

	t.Run("save updates fields and indexes", func(t *testing.T) {
		store := newStore(t)
		u := newUser("bob_0001")
		u.Email = "bob@example.com"
		require.NoError(t, store.CreateUser(ctx, u))

		at := time.Now().UTC().Truncate(time.Second)
		u.MarkEmailVerified(at)
		u.Email = "bobby@example.com"
		u.OAuth = &oa.OAuthLink{Provider: "github", ProviderID: "gh-123", AccessToken: "tok"}
		require.NoError(t, store.SaveUser(ctx, u))

		got, err := store.GetUserByOAuth(ctx, "github", "gh-123")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		require.NotNil(t, got.EmailVerifiedAt)
		assert.True(t, at.Equal(*got.EmailVerifiedAt))
		assert.Equal(t, "tok", got.OAuth.AccessToken)

		_, err = store.GetUserByEmail(ctx, "bob@example.com")
		assert.ErrorIs(t, err, oa.ErrNotFound)
		got, err = store.GetUserByEmail(ctx, "bobby@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("save rejects taking another user's field", func(t *testing.T) {
		store := newStore(t)
		a := newUser("carol001")
		a.Email = "carol@example.com"
		b := newUser("dave0001")
		require.NoError(t, store.CreateUser(ctx, a))
		require.NoError(t, store.CreateUser(ctx, b))

		b.Email = "carol@example.com"
		err := store.SaveUser(ctx, b)
		assert.ErrorIs(t, err, oa.ErrDuplicate)
	})
}

// RunVerificationStoreTests exercises the oa.VerificationStore contract.
// users must already hold rows for userIDs when the backend enforces foreign keys.
func RunVerificationStoreTests(t *testing.T, newStore func(t *testing.T) (oa.VerificationStore, []string)) {
	ctx := context.Background()

	record := func(userID string, channel oa.Channel) *oa.Verification {
		return &oa.Verification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Channel:   channel,
			Secret:    "secret-" + userID,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("create get delete", func(t *testing.T) {
		store, users := newStore(t)
		v := record(users[0], oa.ChannelEmail)
		require.NoError(t, store.CreateVerification(ctx, v))

		got, err := store.GetVerification(ctx, oa.ChannelEmail, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.UserID, got.UserID)
		assert.Equal(t, v.Secret, got.Secret)
		assert.True(t, v.CreatedAt.Equal(got.CreatedAt))

		byUser, err := store.GetVerificationByUser(ctx, oa.ChannelEmail, users[0])
		require.NoError(t, err)
		assert.Equal(t, v.ID, byUser.ID)

		// channels are independent
		_, err = store.GetVerificationByUser(ctx, oa.ChannelPhone, users[0])
		assert.ErrorIs(t, err, oa.ErrNotFound)

		require.NoError(t, store.DeleteVerification(ctx, oa.ChannelEmail, v.ID))
		_, err = store.GetVerification(ctx, oa.ChannelEmail, v.ID)
		assert.ErrorIs(t, err, oa.ErrNotFound)
		_, err = store.GetVerificationByUser(ctx, oa.ChannelEmail, users[0])
		assert.ErrorIs(t, err, oa.ErrNotFound)

		// deleting again is not an error
		require.NoError(t, store.DeleteVerification(ctx, oa.ChannelEmail, v.ID))
		require.NoError(t, store.DeleteUserVerification(ctx, oa.ChannelEmail, users[0]))
	})

	t.Run("one record per user and channel", func(t *testing.T) {
		store, users := newStore(t)
		require.NoError(t, store.CreateVerification(ctx, record(users[0], oa.ChannelPhone)))
		err := store.CreateVerification(ctx, record(users[0], oa.ChannelPhone))
		assert.ErrorIs(t, err, oa.ErrDuplicate)

		require.NoError(t, store.CreateVerification(ctx, record(users[0], oa.ChannelEmail)))
		require.NoError(t, store.CreateVerification(ctx, record(users[1], oa.ChannelPhone)))

		require.NoError(t, store.DeleteUserVerification(ctx, oa.ChannelPhone, users[0]))
		require.NoError(t, store.CreateVerification(ctx, record(users[0], oa.ChannelPhone)))
	})

	t.Run("concurrent creates admit exactly one", func(t *testing.T) {
		store, users := newStore(t)
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = store.CreateVerification(ctx, record(users[0], oa.ChannelEmail))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, oa.ErrDuplicate)
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}
