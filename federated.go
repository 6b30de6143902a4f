package userauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultStateTTL bounds how long a consent round trip may take
const DefaultStateTTL = 10 * time.Minute

const maxUsernameSuffixAttempts = 5

// FederatedProfile is what a provider tells us about the signed in user
type FederatedProfile struct {
	Provider    string
	ID          string
	Name        string
	Email       string
	AvatarURL   string
	AccessToken string
	TokenType   string
}

// OAuthProvider is a third-party identity provider. Implementations live in the oauth2 package.
type OAuthProvider interface {
	Name() string
	ConsentURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*FederatedProfile, error)
}

// OAuthCallback carries the query parameters a provider redirects back with
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// StateSigner issues and checks the anti-forgery state parameter.
// The state is not stored anywhere; a valid signature is the capability.
type StateSigner struct {
	SecretKey []byte
	TTL       time.Duration
	Secrets   *SecretGenerator

	// Now is overridable for tests
	Now func() time.Time
}

type stateClaims struct {
	Purpose string `json:"purpose"`
	Nonce   string `json:"nonce"`
	jwt.RegisteredClaims
}

func NewStateSigner(secretKey string) *StateSigner {
	return &StateSigner{SecretKey: []byte(secretKey), TTL: DefaultStateTTL, Secrets: NewSecretGenerator(), Now: time.Now}
}

func (s *StateSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue returns a fresh signed state value
func (s *StateSigner) Issue() (string, error) {
	nonce, err := s.Secrets.RandomToken(16)
	if err != nil {
		return "", err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	now := s.now()
	claims := stateClaims{
		Purpose: PurposeOAuthState,
		Nonce:   nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify fails with INVALID_OAUTH_STATE unless state was issued by this signer and is unexpired
func (s *StateSigner) Verify(state string) error {
	invalid := func(cause error) error {
		return &AuthError{Kind: KindInvalidOAuthState, Code: string(KindInvalidOAuthState), Message: "Access denied. Please log in.", Cause: cause}
	}
	if state == "" {
		return invalid(fmt.Errorf("missing state"))
	}
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.SecretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return invalid(err)
	}
	if !token.Valid || claims.Purpose != PurposeOAuthState || claims.Nonce == "" {
		return invalid(fmt.Errorf("invalid state claims"))
	}
	return nil
}

// FederatedResolver maps a provider profile to a local account and signs the user in
type FederatedResolver struct {
	Users    UserStore
	Sessions *SessionIssuer
	States   *StateSigner
	Secrets  *SecretGenerator

	// Now is overridable for tests
	Now func() time.Time
}

func NewFederatedResolver(users UserStore, sessions *SessionIssuer, states *StateSigner) *FederatedResolver {
	return &FederatedResolver{Users: users, Sessions: sessions, States: states, Secrets: NewSecretGenerator(), Now: time.Now}
}

func (r *FederatedResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ConsentURL returns where to send the browser to start signing in with provider
func (r *FederatedResolver) ConsentURL(provider OAuthProvider) (url string, state string, err error) {
	state, err = r.States.Issue()
	if err != nil {
		return "", "", WrapAuthError(KindUpstream, "failed to issue oauth state", err)
	}
	return provider.ConsentURL(state), state, nil
}

// HandleCallback validates a provider redirect, exchanges the code and resolves the profile
func (r *FederatedResolver) HandleCallback(ctx context.Context, provider OAuthProvider, cb OAuthCallback) (*User, string, error) {
	if cb.Error != "" {
		msg := cb.Error
		if cb.ErrorDescription != "" {
			msg = cb.ErrorDescription
		}
		return nil, "", NewAuthError(KindOAuthProvider, msg, "").WithCode(cb.Error)
	}
	if err := r.States.Verify(cb.State); err != nil {
		return nil, "", err
	}
	if cb.Code == "" {
		return nil, "", NewAuthError(KindMissingInput, "Code is required.", "code")
	}

	token, err := provider.ExchangeCode(ctx, cb.Code)
	if err != nil {
		slog.Info("oauth code exchange failed", "provider", provider.Name(), "err", err)
		return nil, "", WrapAuthError(KindOAuthExchange, "An error occurred.", err)
	}
	profile, err := provider.FetchProfile(ctx, token)
	if err != nil {
		slog.Info("oauth profile fetch failed", "provider", provider.Name(), "err", err)
		return nil, "", WrapAuthError(KindOAuthExchange, "An error occurred.", err)
	}
	if profile.Provider == "" {
		profile.Provider = provider.Name()
	}
	return r.Resolve(ctx, profile)
}

// Resolve finds or creates the local account for profile and issues a session for it.
// Lookup order: existing link, then an account owning the same verified email, then a new account.
func (r *FederatedResolver) Resolve(ctx context.Context, profile *FederatedProfile) (*User, string, error) {
	if profile == nil || profile.Provider == "" || profile.ID == "" {
		return nil, "", NewAuthError(KindOAuthExchange, "Provider returned an incomplete profile.", "")
	}
	link := &OAuthLink{
		Provider:    profile.Provider,
		ProviderID:  profile.ID,
		AccessToken: profile.AccessToken,
		TokenType:   profile.TokenType,
	}

	user, err := r.Users.GetUserByOAuth(ctx, profile.Provider, profile.ID)
	switch {
	case err == nil:
		user.OAuth = link
		user.UpdatedAt = r.now()
		if err := r.Users.SaveUser(ctx, user); err != nil {
			return nil, "", WrapAuthError(KindUpstream, "failed to save user", err)
		}
		return r.signIn(user)
	case !errors.Is(err, ErrNotFound):
		return nil, "", WrapAuthError(KindUpstream, "failed to load user", err)
	}

	emailTaken := false
	if profile.Email != "" {
		user, err := r.Users.GetUserByEmail(ctx, profile.Email)
		switch {
		case err == nil && user.EmailVerifiedAt != nil:
			user.OAuth = link
			if user.Avatar == "" {
				user.Avatar = profile.AvatarURL
			}
			user.UpdatedAt = r.now()
			if err := r.Users.SaveUser(ctx, user); err != nil {
				return nil, "", WrapAuthError(KindUpstream, "failed to link account", err)
			}
			slog.Info("linked oauth account", "provider", profile.Provider, "userId", user.ID)
			return r.signIn(user)
		case err == nil:
			emailTaken = true
		case !errors.Is(err, ErrNotFound):
			return nil, "", WrapAuthError(KindUpstream, "failed to load user", err)
		}
	}

	user, err = r.createFederatedUser(ctx, profile, link, emailTaken)
	if err != nil {
		return nil, "", err
	}
	return r.signIn(user)
}

func (r *FederatedResolver) createFederatedUser(ctx context.Context, profile *FederatedProfile, link *OAuthLink, emailTaken bool) (*User, error) {
	base := DeriveUsername(profile.Name)
	if base == "" {
		base = profile.Provider + profile.ID
	}

	username := base
	if _, err := r.Users.GetUserByUsername(ctx, username); err == nil {
		if username, err = r.suffixed(base); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, WrapAuthError(KindUpstream, "failed to load user", err)
	}

	now := r.now()
	user := &User{
		ID:        uuid.NewString(),
		OAuth:     link,
		Avatar:    profile.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !emailTaken {
		user.Email = profile.Email
	}

	for attempt := 0; attempt < maxUsernameSuffixAttempts; attempt++ {
		user.Username = username
		err := r.Users.CreateUser(ctx, user)
		if err == nil {
			slog.Info("created federated user", "provider", profile.Provider, "userId", user.ID, "username", username)
			return user, nil
		}
		var dup *DuplicateError
		if !errors.As(err, &dup) {
			return nil, WrapAuthError(KindUpstream, "failed to create user", err)
		}
		switch dup.Field {
		case FieldUsername:
			if username, err = r.suffixed(base); err != nil {
				return nil, err
			}
		case FieldEmail:
			user.Email = ""
		default:
			return nil, WrapAuthError(KindConflict, "An account for this provider already exists.", err)
		}
	}
	return nil, NewAuthError(KindConflict, "Could not allocate a unique username.", FieldUsername)
}

func (r *FederatedResolver) suffixed(base string) (string, error) {
	suffix, err := r.Secrets.RandomSuffix()
	if err != nil {
		return "", WrapAuthError(KindUpstream, "failed to generate username suffix", err)
	}
	return base + suffix, nil
}

func (r *FederatedResolver) signIn(user *User) (*User, string, error) {
	token, err := r.Sessions.Issue(user.ID)
	if err != nil {
		return nil, "", WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return user, token, nil
}

// DeriveUsername turns a provider display name into a username by dropping whitespace
func DeriveUsername(displayName string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, displayName)
}
