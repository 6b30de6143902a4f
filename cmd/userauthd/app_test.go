package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/panyam/userauth"
	"github.com/panyam/userauth/config"
	"github.com/panyam/userauth/notify"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AppName:          "TestApp",
		SecretKey:        "test-secret",
		Issuer:           "userauth",
		SessionTTL:       time.Hour,
		EmailLinkBaseURL: "http://localhost/verifyEmail",
		EmailTTL:         24 * time.Hour,
		PhoneTTL:         10 * time.Minute,
		BcryptCost:       4,
		Store:            config.StoreFS,
		StoragePath:      t.TempDir(),
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "v", line["k"])

	buf.Reset()
	newLogger(&buf, "text", "bogus").Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}

func TestSenders(t *testing.T) {
	cfg := testConfig(t)
	cfg.SMTP = config.SMTP{Host: "smtp.example.com", Port: 25, From: "a@example.com"}
	cfg.Twilio = config.Twilio{AccountSID: "AC1", AuthToken: "t", From: "+15550000000"}

	mailer, sms := senders(cfg)
	assert.IsType(t, &notify.SMTPMailer{}, mailer)
	assert.IsType(t, &notify.TwilioSender{}, sms)
}

func TestAppServesSignup(t *testing.T) {
	cfg := testConfig(t)
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.close()

	app, _ := newApp(cfg, b)
	server := httptest.NewServer(app.Handler())
	defer server.Close()

	body := `{"username":"alice01","password":"Aa1!aaaa","passwordConfirmation":"Aa1!aaaa","email":"alice@example.com"}`
	resp, err := http.Post(server.URL+"/signUpWithEmail", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Data.Token)
}

func TestPurgeUsesEngineWindows(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmailTTL = 0
	cfg.PhoneTTL = 0
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.close()

	var mu sync.Mutex
	cutoffs := map[userauth.Channel]time.Time{}
	b.purge = func(_ context.Context, channel userauth.Channel, cutoff time.Time) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		cutoffs[channel] = cutoff
		return 1, nil
	}

	app, _ := newApp(cfg, b)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	purgeExpired(context.Background(), b, app.Accounts.Engine.Config, now)

	assert.Equal(t, now.Add(-userauth.TokenExpiryEmailVerification), cutoffs[userauth.ChannelEmail])
	assert.Equal(t, now.Add(-userauth.TokenExpiryPhoneVerification), cutoffs[userauth.ChannelPhone])
}

func TestPurgeLoopStopsWithContext(t *testing.T) {
	b := &backend{}
	calls := make(chan userauth.Channel, 16)
	b.purge = func(_ context.Context, channel userauth.Channel, _ time.Time) (int, error) {
		select {
		case calls <- channel:
		default:
		}
		return 0, errors.New("store offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purgeLoop(ctx, b, userauth.VerificationConfig{EmailTTL: time.Hour, PhoneTTL: time.Minute}, time.Millisecond)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("purge never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("purge loop did not stop")
	}
}

func TestProvidersFromConfig(t *testing.T) {
	got := providers(config.OAuth{GithubClientID: "gh", GoogleClientID: "g"})
	require.Len(t, got, 2)
	assert.Equal(t, "github", got[0].Name())
	assert.Equal(t, "google", got[1].Name())
}

func TestGRPCHealthIsPublic(t *testing.T) {
	cfg := testConfig(t)
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	_, sessions := newApp(cfg, b)

	lis := bufconn.Listen(1 << 20)
	srv := newGRPCServer(sessions)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
