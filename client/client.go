package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// User is the public view of an account returned by the API
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Session is a signed-in user with their token
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`

	// Set by verification calls
	EmailVerifiedAt       string `json:"emailVerifiedAt,omitempty"`
	PhoneNumberVerifiedAt string `json:"phoneNumberVerifiedAt,omitempty"`
}

// APIError is a non-2xx response decoded from the error envelope
type APIError struct {
	Status  int
	Code    string              `json:"error"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		var parts []string
		for field, msgs := range e.Fields {
			parts = append(parts, field+": "+strings.Join(msgs, " "))
		}
		return fmt.Sprintf("HTTP %d: %s", e.Status, strings.Join(parts, "; "))
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// AuthClient talks to one userauth server and remembers its session
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a client for serverURL. Paths on the URL are kept, so
// the API may be mounted under a prefix.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	c := &AuthClient{
		serverURL:     strings.TrimRight(serverURL, "/"),
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &storeTransport{client: c, base: c.baseTransport}
	// the API answers redirects only on the browser oauth routes
	c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored session token, or "" when signed out or expired
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	return cred.Token, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.GetToken()
	return err == nil && token != ""
}

// Logout removes the credential for this server
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// forget drops the stored credential if it still holds token
func (c *AuthClient) forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cred, err := c.store.GetCredential(c.serverURL); err == nil && cred != nil && cred.Token == token {
		_ = c.store.RemoveCredential(c.serverURL)
		_ = c.store.Save()
	}
}

func (c *AuthClient) remember(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SetCredential(c.serverURL, newCredential(s.Token, &s.User)); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// do sends body as JSON and decodes the data envelope into out.
// out may be nil for endpoints that answer 204.
func (c *AuthClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

func (c *AuthClient) signIn(ctx context.Context, path string, body any) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, path, body, &s); err != nil {
		return nil, err
	}
	if s.Token != "" {
		if err := c.remember(&s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// SignUpWithEmail registers a password account and sends the confirmation email
func (c *AuthClient) SignUpWithEmail(ctx context.Context, username, password, email string) (*Session, error) {
	return c.signIn(ctx, "/signUpWithEmail", map[string]string{
		"username":             username,
		"password":             password,
		"passwordConfirmation": password,
		"email":                email,
	})
}

// SignUpWithPhoneNumber registers a password account and sends an OTP
func (c *AuthClient) SignUpWithPhoneNumber(ctx context.Context, username, password, phoneNumber string) (*Session, error) {
	return c.signIn(ctx, "/signUpWithPhoneNumber", map[string]string{
		"username":             username,
		"password":             password,
		"passwordConfirmation": password,
		"phoneNumber":          phoneNumber,
	})
}

// OAuthConsentURL starts a federated signup and returns where to send the browser
func (c *AuthClient) OAuthConsentURL(ctx context.Context, provider string) (string, error) {
	var out struct {
		URL string `json:"oAuthConsentUrl"`
	}
	err := c.do(ctx, http.MethodPost, "/signUp", map[string]string{"authType": "oauth", "oAuthProvider": provider}, &out)
	return out.URL, err
}

// LogIn signs in with a username, email or phone number and password
func (c *AuthClient) LogIn(ctx context.Context, identifier, password string) (*Session, error) {
	return c.signIn(ctx, "/logIn", map[string]string{"username": identifier, "password": password})
}

// SignInWithToken exchanges a still-valid token for a fresh session
func (c *AuthClient) SignInWithToken(ctx context.Context, token string) (*Session, error) {
	return c.signIn(ctx, "/signInWithToken", map[string]string{"token": token})
}

// VerifyEmail consumes the token from a confirmation link
func (c *AuthClient) VerifyEmail(ctx context.Context, token string) (*Session, error) {
	return c.signIn(ctx, "/verifyEmail", map[string]string{"token": token})
}

// VerifyPhoneNumber consumes an SMS one-time password
func (c *AuthClient) VerifyPhoneNumber(ctx context.Context, userID, otp string) (*Session, error) {
	return c.signIn(ctx, "/verifyPhoneNumber", map[string]string{"userId": userID, "otp": otp})
}

// SendNewEmail re-issues the confirmation email for the signed in user.
// It returns the verification time when the email is already confirmed.
func (c *AuthClient) SendNewEmail(ctx context.Context) (string, error) {
	var out struct {
		VerifiedAt string `json:"emailVerifiedAt"`
	}
	err := c.do(ctx, http.MethodGet, "/sendNewEmail", nil, &out)
	return out.VerifiedAt, err
}

// SendNewOTP re-issues the SMS code for the signed in user
func (c *AuthClient) SendNewOTP(ctx context.Context) (string, error) {
	var out struct {
		VerifiedAt string `json:"phoneNumberVerifiedAt"`
	}
	err := c.do(ctx, http.MethodGet, "/sendNewOTP", nil, &out)
	return out.VerifiedAt, err
}

// Me returns the signed in user
func (c *AuthClient) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// ValidateUsername reports nil when username is well formed and free
func (c *AuthClient) ValidateUsername(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/validateUsername", map[string]string{"username": username}, nil)
}

// ValidateEmail reports nil when email is well formed and free
func (c *AuthClient) ValidateEmail(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/validateEmail", map[string]string{"email": email}, nil)
}

// ValidatePhoneNumber reports nil when phoneNumber is well formed and free
func (c *AuthClient) ValidatePhoneNumber(ctx context.Context, phoneNumber string) error {
	return c.do(ctx, http.MethodPost, "/validatePhoneNumber", map[string]string{"phoneNumber": phoneNumber}, nil)
}
