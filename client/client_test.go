package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CredentialStore
type memStore struct {
	mu    sync.Mutex
	creds map[string]*ServerCredential
	saves int
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]*ServerCredential)}
}

func (m *memStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[serverURL], nil
}

func (m *memStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[serverURL] = cred
	return nil
}

func (m *memStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serverURL)
	return nil
}

func (m *memStore) ListServers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.creds {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func signedToken(t *testing.T, exp time.Time) string {
	claims := jwt.RegisteredClaims{Subject: "u1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

func TestServerCredential_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", time.Now().Add(time.Hour), false},
		{"past", time.Now().Add(-time.Hour), true},
		{"no expiry", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &ServerCredential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, cred.IsExpired())
		})
	}
}

func TestNewCredentialReadsExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	cred := newCredential(signedToken(t, exp), &User{UserID: "u1", Username: "alice01"})
	assert.True(t, exp.Equal(cred.ExpiresAt))
	assert.Equal(t, "u1", cred.UserID)
	assert.Equal(t, "alice01", cred.Username)

	cred = newCredential(signedToken(t, time.Time{}), nil)
	assert.True(t, cred.ExpiresAt.IsZero())

	cred = newCredential("not-a-jwt", nil)
	assert.Equal(t, "not-a-jwt", cred.Token)
	assert.True(t, cred.ExpiresAt.IsZero())
}

func TestAuthClient_GetToken(t *testing.T) {
	store := newMemStore()
	c := NewAuthClient("http://localhost:8080/", store)
	assert.Equal(t, "http://localhost:8080", c.ServerURL())

	token, err := c.GetToken()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, c.IsLoggedIn())

	store.creds[c.ServerURL()] = &ServerCredential{Token: "live", ExpiresAt: time.Now().Add(time.Hour)}
	token, _ = c.GetToken()
	assert.Equal(t, "live", token)
	assert.True(t, c.IsLoggedIn())

	store.creds[c.ServerURL()] = &ServerCredential{Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	token, _ = c.GetToken()
	assert.Empty(t, token)
	assert.False(t, c.IsLoggedIn())
}

func TestAuthClient_Logout(t *testing.T) {
	store := newMemStore()
	c := NewAuthClient("http://localhost", store)
	store.creds[c.ServerURL()] = &ServerCredential{Token: "t"}

	require.NoError(t, c.Logout())
	assert.Empty(t, store.creds)
	assert.Equal(t, 1, store.saves)
}

func TestAuthTransport(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	client := &http.Client{Transport: NewAuthTransport("abc")}
	_, err := client.Get(server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)

	client = &http.Client{Transport: &AuthTransport{}}
	_, err = client.Get(server.URL)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuthClient_ForgetsRejectedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":{"token":["Invalid token."]}}`))
	}))
	defer server.Close()

	store := newMemStore()
	c := NewAuthClient(server.URL, store)
	store.creds[c.ServerURL()] = &ServerCredential{Token: "revoked"}

	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, []string{"Invalid token."}, apiErr.Fields["token"])
	assert.Contains(t, apiErr.Error(), "token: Invalid token.")
	assert.False(t, c.IsLoggedIn())
}

func TestAPIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"INVALID_TOKEN","message":"Invalid token."}`))
	}))
	defer server.Close()

	c := NewAuthClient(server.URL, newMemStore())
	_, err := c.VerifyEmail(context.Background(), "bogus")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_TOKEN", apiErr.Code)
	assert.Equal(t, "HTTP 400: INVALID_TOKEN: Invalid token.", apiErr.Error())
}

func TestWithHTTPClient(t *testing.T) {
	var calls int
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return http.DefaultTransport.RoundTrip(r)
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewAuthClient(server.URL, newMemStore(), WithHTTPClient(&http.Client{Transport: base, Timeout: time.Second}))
	require.NoError(t, c.ValidateUsername(context.Background(), "alice01"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Second, c.HTTPClient().Timeout)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
