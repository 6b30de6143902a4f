package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/panyam/userauth"
	"github.com/panyam/userauth/config"
	authgrpc "github.com/panyam/userauth/grpc"
	"github.com/panyam/userauth/notify"
	"github.com/panyam/userauth/oauth2"
	"github.com/panyam/userauth/stores/fs"
	"github.com/panyam/userauth/stores/gae"
	gormstore "github.com/panyam/userauth/stores/gorm"
	"github.com/panyam/userauth/stores/sqlstore"
)

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL
func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// backend is the pair of stores plus whatever must be closed on shutdown
type backend struct {
	users         userauth.UserStore
	verifications userauth.VerificationStore
	close         func() error

	// purge, when set, reclaims expired challenges
	purge func(ctx context.Context, channel userauth.Channel, cutoff time.Time) (int, error)
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StoreFS:
		return &backend{
			users:         fs.NewFSUserStore(cfg.StoragePath),
			verifications: fs.NewFSVerificationStore(cfg.StoragePath),
			close:         func() error { return nil },
		}, nil

	case config.StoreGorm:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("db open error: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migration error: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &backend{
			users:         gormstore.NewUserStore(db),
			verifications: gormstore.NewVerificationStore(db),
			close:         sqlDB.Close,
		}, nil

	case config.StoreSQL:
		db, err := sqlstore.Open(ctx, cfg.SQLDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			users:         sqlstore.NewUserStore(db, cfg.SQLDriver),
			verifications: sqlstore.NewVerificationStore(db, cfg.SQLDriver),
			close:         db.Close,
		}, nil

	case config.StoreDatastore:
		client, err := datastore.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			return nil, fmt.Errorf("datastore client error: %w", err)
		}
		verifications := gae.NewVerificationStore(client, cfg.Namespace)
		return &backend{
			users:         gae.NewUserStore(client, cfg.Namespace),
			verifications: verifications,
			close:         client.Close,
			purge:         verifications.PurgeExpired,
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func providers(cfg config.OAuth) []userauth.OAuthProvider {
	var out []userauth.OAuthProvider
	if cfg.GithubClientID != "" {
		out = append(out, oauth2.NewGithubOAuth2(cfg.GithubClientID, cfg.GithubClientSecret, cfg.GithubCallbackURL))
	}
	if cfg.FacebookClientID != "" {
		out = append(out, oauth2.NewFacebookOAuth2(cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.FacebookCallbackURL))
	}
	if cfg.GoogleClientID != "" {
		out = append(out, oauth2.NewGoogleOAuth2(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL))
	}
	return out
}

func senders(cfg *config.Config) (userauth.Mailer, userauth.SMSSender) {
	var mailer userauth.Mailer = &userauth.ConsoleMailer{}
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			From:       cfg.SMTP.From,
			RequireTLS: cfg.SMTP.RequireTLS,
		})
	}
	var sms userauth.SMSSender = &userauth.ConsoleSMSSender{}
	if cfg.Twilio.AccountSID != "" {
		sms = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
		})
	}
	return mailer, sms
}

// newApp wires the service graph on top of an opened backend
func newApp(cfg *config.Config, b *backend) (*userauth.UserAuth, *userauth.SessionIssuer) {
	mailer, sms := senders(cfg)
	engine := userauth.NewVerificationEngine(b.users, b.verifications, userauth.NewBcryptHasher(cfg.BcryptCost), mailer, sms,
		userauth.VerificationConfig{
			AppName:          cfg.AppName,
			EmailLinkBaseURL: cfg.EmailLinkBaseURL,
			EmailTTL:         cfg.EmailTTL,
			PhoneTTL:         cfg.PhoneTTL,
		})
	sessions := userauth.NewSessionIssuer(cfg.SecretKey, cfg.Issuer, cfg.SessionTTL)
	federated := userauth.NewFederatedResolver(b.users, sessions, userauth.NewStateSigner(cfg.SecretKey))
	accounts := userauth.NewAccountService(engine, sessions, federated, providers(cfg.OAuth)...)
	return userauth.New(cfg.AppName, accounts), sessions
}

func newGRPCServer(verifier authgrpc.TokenVerifier) *grpc.Server {
	interceptors := authgrpc.NewInterceptorConfig(verifier,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(interceptors)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(interceptors)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	return srv
}

// purgeLoop periodically drops expired challenges until ctx ends.
// ttls is the engine's defaulted config, the same windows consume enforces.
func purgeLoop(ctx context.Context, b *backend, ttls userauth.VerificationConfig, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purgeExpired(ctx, b, ttls, now)
		}
	}
}

func purgeExpired(ctx context.Context, b *backend, ttls userauth.VerificationConfig, now time.Time) {
	for _, c := range []struct {
		channel userauth.Channel
		ttl     time.Duration
	}{
		{userauth.ChannelEmail, ttls.EmailTTL},
		{userauth.ChannelPhone, ttls.PhoneTTL},
	} {
		n, err := b.purge(ctx, c.channel, now.Add(-c.ttl))
		if err != nil {
			slog.Warn("failed to purge expired verifications", "channel", c.channel, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("purged expired verifications", "channel", c.channel, "count", n)
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.SetDefault(newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel))

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	app, sessions := newApp(cfg, b)
	if b.purge != nil {
		go purgeLoop(ctx, b, app.Accounts.Engine.Config, time.Hour)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler()}
	errs := make(chan error, 2)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = newGRPCServer(sessions)
		go func() {
			slog.Info("grpc server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return httpServer.Shutdown(shutdownCtx)
}
