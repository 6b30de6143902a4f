package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport with the given token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Token: token}
}

// storeTransport attaches whatever session the client currently holds.
// A 401 means the server no longer accepts the token, so it is forgotten.
type storeTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *storeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}
	resp, err := (&AuthTransport{Base: t.base, Token: token}).RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.forget(token)
	}
	return resp, nil
}
