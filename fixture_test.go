package userauth_test

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/panyam/userauth"
	"github.com/panyam/userauth/stores/fs"
)

const testSecret = "test-secret-key"

// clock is a settable time source shared by every component of a fixture
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	To, Subject, Text, HTML string
}

// outbox captures mail instead of delivering it
type outbox struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (o *outbox) Send(ctx context.Context, to, subject, text, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

var linkTokenRe = regexp.MustCompile(`token=([A-Za-z0-9_\-\.]+)`)

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no mail sent")
	m := linkTokenRe.FindStringSubmatch(o.sent[len(o.sent)-1].Text)
	require.Len(t, m, 2, "no token in mail body")
	return m[1]
}

type sentSMS struct {
	To, Body string
}

// smsbox captures text messages
type smsbox struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (s *smsbox) Send(ctx context.Context, to, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSMS{To: to, Body: message})
	return nil
}

var otpRe = regexp.MustCompile(`(\d+)$`)

func (s *smsbox) lastOTP(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no sms sent")
	m := otpRe.FindStringSubmatch(s.sent[len(s.sent)-1].Body)
	require.Len(t, m, 2, "no otp in sms body")
	return m[1]
}

// countingHasher counts Hash calls
type countingHasher struct {
	userauth.Hasher
	hashes atomic.Int32
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	h.hashes.Add(1)
	return h.Hasher.Hash(plaintext)
}

// fakeProvider stands in for GitHub, Facebook or Google
type fakeProvider struct {
	name        string
	profile     userauth.FederatedProfile
	exchangeErr error
	codes       []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ConsentURL(state string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	p.codes = append(p.codes, code)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code, TokenType: "Bearer"}, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*userauth.FederatedProfile, error) {
	profile := p.profile
	profile.AccessToken = token.AccessToken
	profile.TokenType = token.TokenType
	return &profile, nil
}

type fixture struct {
	clock     *clock
	users     *fs.FSUserStore
	verifs    *fs.FSVerificationStore
	mail      *outbox
	sms       *smsbox
	hasher    *countingHasher
	engine    *userauth.VerificationEngine
	sessions  *userauth.SessionIssuer
	states    *userauth.StateSigner
	federated *userauth.FederatedResolver
	accounts  *userauth.AccountService
	github    *fakeProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		clock:  &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		users:  fs.NewFSUserStore(dir),
		verifs: fs.NewFSVerificationStore(dir),
		mail:   &outbox{},
		sms:    &smsbox{},
		hasher: &countingHasher{Hasher: userauth.NewBcryptHasher(4)},
		github: &fakeProvider{name: userauth.ProviderGithub},
	}
	f.engine = userauth.NewVerificationEngine(f.users, f.verifs, f.hasher, f.mail, f.sms, userauth.VerificationConfig{
		AppName:          "TestApp",
		EmailLinkBaseURL: "http://localhost:3000/verifyEmail",
	})
	f.engine.Now = f.clock.Now
	f.sessions = userauth.NewSessionIssuer(testSecret, "userauth-test", time.Hour)
	f.sessions.Now = f.clock.Now
	f.states = userauth.NewStateSigner(testSecret)
	f.states.Now = f.clock.Now
	f.federated = userauth.NewFederatedResolver(f.users, f.sessions, f.states)
	f.federated.Now = f.clock.Now
	f.accounts = userauth.NewAccountService(f.engine, f.sessions, f.federated, f.github)
	f.accounts.Now = f.clock.Now
	return f
}

// createUser stores a password-less account directly
func (f *fixture) createUser(t *testing.T, u *userauth.User) *userauth.User {
	t.Helper()
	if u.ID == "" {
		u.ID = u.Username + "-id"
	}
	u.CreatedAt = f.clock.Now()
	u.UpdatedAt = u.CreatedAt
	require.NoError(t, f.users.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) signUpAlice(t *testing.T) *userauth.SignupResult {
	t.Helper()
	res, err := f.accounts.SignUpWithEmail(context.Background(), userauth.SignupRequest{
		AuthType:             userauth.AuthTypeEmail,
		Username:             "alice01",
		Password:             "Aa1!aaaa",
		PasswordConfirmation: "Aa1!aaaa",
		Email:                "alice@example.com",
	})
	require.NoError(t, err)
	return res
}
