package fs

import (
	"testing"

	oa "github.com/panyam/userauth"
	"github.com/panyam/userauth/stores/storetest"
)

func TestFSUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) oa.UserStore {
		return NewFSUserStore(t.TempDir())
	})
}

func TestFSVerificationStore(t *testing.T) {
	storetest.RunVerificationStoreTests(t, func(t *testing.T) (oa.VerificationStore, []string) {
		return NewFSVerificationStore(t.TempDir()), []string{"user-1", "user-2"}
	})
}
