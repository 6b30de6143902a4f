package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/userauth/client"
)

func openStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store, err := Open(path)
	require.NoError(t, err)
	return store, path
}

func live(token string) *client.ServerCredential {
	return &client.ServerCredential{Token: token, UserID: "u1", Username: "alice01", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestServerKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"HTTPS://Auth.Example.com:443/", "https://auth.example.com"},
		{"http://example.com:80/auth/", "http://example.com/auth"},
		{"auth.example.com/v1", "https://auth.example.com/v1"},
		{"https://example.com/auth?next=/me", "https://example.com/auth"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := serverKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := serverKey("http://")
	assert.Error(t, err)
}

func TestStore_GetSetCredential(t *testing.T) {
	store, _ := openStore(t)

	cred, err := store.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.SetCredential("http://localhost:8080/", live("test-token")))
	cred, err = store.GetCredential("http://LOCALHOST:8080")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "test-token", cred.Token)
	assert.Equal(t, "u1", cred.UserID)
	assert.Equal(t, "alice01", cred.Username)

	// callers get a copy
	cred.Token = "mutated"
	again, _ := store.GetCredential("http://localhost:8080")
	assert.Equal(t, "test-token", again.Token)

	assert.Error(t, store.SetCredential("http://localhost:8080", &client.ServerCredential{}))
	assert.Error(t, store.SetCredential("http://localhost:8080", nil))
}

func TestStore_MountPrefixesAreSeparate(t *testing.T) {
	store, _ := openStore(t)
	require.NoError(t, store.SetCredential("https://example.com/auth", live("auth-token")))

	cred, _ := store.GetCredential("https://example.com/other")
	assert.Nil(t, cred)
	cred, _ = store.GetCredential("https://example.com")
	assert.Nil(t, cred)
	cred, _ = store.GetCredential("https://example.com/auth/")
	require.NotNil(t, cred)
	assert.Equal(t, "auth-token", cred.Token)
}

func TestStore_ExpiredSessionsAreDropped(t *testing.T) {
	store, path := openStore(t)
	expired := live("old")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.SetCredential("http://localhost:8080", expired))
	require.NoError(t, store.SetCredential("http://localhost:9090", live("fresh")))
	require.NoError(t, store.Save())

	// a reload prunes the expired entry and marks the file for rewrite
	reloaded, err := Open(path)
	require.NoError(t, err)
	servers, err := reloaded.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9090"}, servers)
	require.NoError(t, reloaded.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"old"`)

	// a session that expires while loaded is dropped on read
	soon := live("soon")
	soon.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	require.NoError(t, reloaded.SetCredential("http://localhost:7070", soon))
	time.Sleep(40 * time.Millisecond)
	cred, err := reloaded.GetCredential("http://localhost:7070")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestStore_RemoveAndLogins(t *testing.T) {
	store, _ := openStore(t)
	require.NoError(t, store.SetCredential("https://b.example.com", &client.ServerCredential{Token: "t", UserID: "u2", Username: "bob01"}))
	require.NoError(t, store.SetCredential("https://a.example.com", live("t")))

	logins := store.Logins()
	require.Len(t, logins, 2)
	assert.Equal(t, "https://a.example.com", logins[0].Server)
	assert.Equal(t, "alice01", logins[0].Username)
	assert.Equal(t, "bob01", logins[1].Username)
	assert.True(t, logins[1].ExpiresAt.IsZero())

	require.NoError(t, store.RemoveCredential("https://a.example.com/"))
	require.NoError(t, store.RemoveCredential("https://never.example.com"))
	servers, _ := store.ListServers()
	assert.Equal(t, []string{"https://b.example.com"}, servers)
}

func TestStore_SaveAndReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path := filepath.Join(dir, "sessions.json")
	store, err := Open(path)
	require.NoError(t, err)

	// nothing pending, nothing written
	require.NoError(t, store.Save())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, store.SetCredential("http://localhost:8080", live("persisted-token")))
	require.NoError(t, store.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	reloaded, err := Open(path)
	require.NoError(t, err)
	cred, err := reloaded.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "persisted-token", cred.Token)
	assert.Equal(t, "alice01", cred.Username)
}

func TestStore_RejectsNewerFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "sessions": {}}`), 0600))
	_, err := Open(path)
	assert.ErrorContains(t, err, "version 99")

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0600))
	_, err = Open(path)
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	path, err := DefaultPath("testapp")
	require.NoError(t, err)
	assert.Equal(t, "sessions.json", filepath.Base(path))
	assert.Equal(t, "testapp", filepath.Base(filepath.Dir(path)))

	store, err := Open("")
	require.NoError(t, err)
	assert.Equal(t, "userauth", filepath.Base(filepath.Dir(store.Path())))
}
