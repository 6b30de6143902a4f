package userauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// VerificationState is the explicit per-channel state of an identity claim
type VerificationState string

const (
	StateUnverified VerificationState = "unverified"
	StatePending    VerificationState = "pending"
	StateVerified   VerificationState = "verified"
)

// ErrAlreadyVerified is returned when a challenge is requested for an identity
// that is already confirmed. No challenge is created.
var ErrAlreadyVerified = errors.New("already verified")

// VerificationConfig holds the settings the engine needs at construction time
type VerificationConfig struct {
	AppName          string
	EmailLinkBaseURL string
	EmailTTL         time.Duration
	PhoneTTL         time.Duration
	OTPLength        int
}

func (c *VerificationConfig) ensureDefaults() {
	if c.AppName == "" {
		c.AppName = "UserAuth"
	}
	if c.EmailTTL <= 0 {
		c.EmailTTL = TokenExpiryEmailVerification
	}
	if c.PhoneTTL <= 0 {
		c.PhoneTTL = TokenExpiryPhoneVerification
	}
	if c.OTPLength <= 0 {
		c.OTPLength = DefaultOTPLength
	}
}

// VerificationEngine issues and consumes email and SMS challenges.
//
// Per (user, channel) a challenge moves NONE -> PENDING -> EXPIRED and ends
// either CONSUMED (record deleted, verified-at set) or replaced by a
// re-issue (record deleted, user untouched). The store's uniqueness on
// (channel, userId) keeps at most one live record per user.
type VerificationEngine struct {
	Users         UserStore
	Verifications VerificationStore
	Hasher        Hasher
	Secrets       *SecretGenerator
	Mailer        Mailer
	SMS           SMSSender
	Config        VerificationConfig

	// Now is overridable for tests
	Now func() time.Time
}

// NewVerificationEngine wires an engine with defaults for unset collaborators
func NewVerificationEngine(users UserStore, verifications VerificationStore, hasher Hasher, mailer Mailer, sms SMSSender, config VerificationConfig) *VerificationEngine {
	config.ensureDefaults()
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	if mailer == nil {
		mailer = &ConsoleMailer{}
	}
	if sms == nil {
		sms = &ConsoleSMSSender{}
	}
	return &VerificationEngine{
		Users:         users,
		Verifications: verifications,
		Hasher:        hasher,
		Secrets:       NewSecretGenerator(),
		Mailer:        mailer,
		SMS:           sms,
		Config:        config,
		Now:           time.Now,
	}
}

func (e *VerificationEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IssueEmailChallenge replaces any pending email challenge for the user and mails a fresh link.
// If the mail cannot be delivered an UPSTREAM_FAILURE is returned but the challenge stays live.
func (e *VerificationEngine) IssueEmailChallenge(ctx context.Context, userID string) error {
	e.Config.ensureDefaults()
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerifiedAt != nil {
		return ErrAlreadyVerified
	}
	if user.Email == "" {
		return NewAuthError(KindValidation, "User has no email address.", FieldEmail)
	}

	secret, err := e.Secrets.RandomToken(32)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to generate challenge", err)
	}
	v, err := e.replaceChallenge(ctx, ChannelEmail, userID, secret)
	if err != nil {
		return err
	}

	token, err := signEmailChallenge(v)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to sign challenge", err)
	}
	link, err := buildVerificationLink(e.Config.EmailLinkBaseURL, token)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to build verification link", err)
	}
	subject, text, html, err := renderVerificationMail(e.Config.AppName, user.Username, link)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to render verification mail", err)
	}
	if err := e.Mailer.Send(ctx, user.Email, subject, text, html); err != nil {
		slog.Error("failed to send verification email", "userId", userID, "error", err)
		return WrapAuthError(KindUpstream, "failed to send verification email", err)
	}
	slog.Info("issued email challenge", "userId", userID, "challengeId", v.ID)
	return nil
}

// IssueSMSChallenge replaces any pending phone challenge and texts a fresh OTP.
// Only the OTP's hash is stored.
func (e *VerificationEngine) IssueSMSChallenge(ctx context.Context, userID string) error {
	e.Config.ensureDefaults()
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.PhoneNumberVerifiedAt != nil {
		return ErrAlreadyVerified
	}
	if user.PhoneNumber == "" {
		return NewAuthError(KindValidation, "User has no phone number.", FieldPhoneNumber)
	}

	otp, err := e.Secrets.RandomDigits(e.Config.OTPLength)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to generate otp", err)
	}
	digest, err := e.Hasher.Hash(otp)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to hash otp", err)
	}
	v, err := e.replaceChallenge(ctx, ChannelPhone, userID, digest)
	if err != nil {
		return err
	}

	if err := e.SMS.Send(ctx, user.PhoneNumber, verificationSMS(e.Config.AppName, otp)); err != nil {
		slog.Error("failed to send verification sms", "userId", userID, "error", err)
		return WrapAuthError(KindUpstream, "failed to send verification code", err)
	}
	slog.Info("issued sms challenge", "userId", userID, "challengeId", v.ID)
	return nil
}

// replaceChallenge runs delete-then-create. A concurrent issuer may insert
// between the two; the store rejects our insert and we run the sequence once more.
func (e *VerificationEngine) replaceChallenge(ctx context.Context, channel Channel, userID, secret string) (*Verification, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := e.Verifications.DeleteUserVerification(ctx, channel, userID); err != nil {
			return nil, WrapAuthError(KindUpstream, "failed to clear previous challenge", err)
		}
		v := &Verification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Channel:   channel,
			Secret:    secret,
			CreatedAt: e.now(),
		}
		err := e.Verifications.CreateVerification(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, WrapAuthError(KindUpstream, "failed to create challenge", err)
		}
		slog.Warn("concurrent challenge issue detected, retrying", "userId", userID, "channel", channel)
		lastErr = err
	}
	return nil, WrapAuthError(KindConflict, "a challenge is already being issued", lastErr)
}

// ConsumeEmailChallenge confirms the email address of the user the token was issued to
func (e *VerificationEngine) ConsumeEmailChallenge(ctx context.Context, token string) (*User, error) {
	e.Config.ensureDefaults()
	if token == "" {
		return nil, NewAuthError(KindMissingInput, "Token is required.", "token")
	}
	claims, err := decodeEmailChallenge(token)
	if err != nil {
		return nil, NewAuthError(KindInvalidToken, "Invalid token.", "token")
	}

	v, err := e.Verifications.GetVerificationByUser(ctx, ChannelEmail, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindInvalidToken, "Token is invalid.", "token")
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load challenge", err)
	}

	// nothing below may run for a token not signed with this record's secret
	if err := verifyEmailChallenge(token, v); err != nil {
		return nil, NewAuthError(KindInvalidToken, "Token is invalid.", "token")
	}

	user, err := e.Users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindInvalidToken, "Invalid token.", "token")
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load user", err)
	}
	if user.EmailVerifiedAt != nil {
		// a stale record left by a re-issue racing the first consume
		if err := e.Verifications.DeleteVerification(ctx, ChannelEmail, v.ID); err != nil {
			slog.Warn("failed to delete stale email challenge", "challengeId", v.ID, "error", err)
		}
		return user, nil
	}

	now := e.now()
	if v.IsExpired(now, e.Config.EmailTTL) {
		if err := e.Verifications.DeleteVerification(ctx, ChannelEmail, v.ID); err != nil {
			slog.Warn("failed to delete expired email challenge", "challengeId", v.ID, "error", err)
		}
		return nil, NewAuthError(KindExpired, fmt.Sprintf("Token expired at %s.", v.ExpiresAt(e.Config.EmailTTL).Format(time.RFC3339)), "token")
	}

	if err := e.Verifications.DeleteVerification(ctx, ChannelEmail, v.ID); err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to consume challenge", err)
	}
	user.MarkEmailVerified(now)
	user.UpdatedAt = now
	if err := e.Users.SaveUser(ctx, user); err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to save user", err)
	}
	slog.Info("email verified", "userId", user.ID)
	return user, nil
}

// ConsumeSMSChallenge confirms the phone number of userID.
// A wrong OTP leaves the challenge live so the user can retry within the window.
func (e *VerificationEngine) ConsumeSMSChallenge(ctx context.Context, userID, otp string) (*User, error) {
	e.Config.ensureDefaults()
	if otp == "" {
		return nil, NewAuthError(KindMissingInput, "OTP is required.", "otp")
	}
	if userID == "" {
		return nil, NewAuthError(KindMissingInput, "User id is required.", FieldUserID)
	}

	v, err := e.Verifications.GetVerificationByUser(ctx, ChannelPhone, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindInvalidChallenge, "User id is invalid.", FieldUserID)
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load challenge", err)
	}

	now := e.now()
	if v.IsExpired(now, e.Config.PhoneTTL) {
		if err := e.Verifications.DeleteVerification(ctx, ChannelPhone, v.ID); err != nil {
			slog.Warn("failed to delete expired sms challenge", "challengeId", v.ID, "error", err)
		}
		return nil, NewAuthError(KindExpired, fmt.Sprintf("OTP expired at %s.", v.ExpiresAt(e.Config.PhoneTTL).Format(time.RFC3339)), "otp")
	}

	if !e.Hasher.Verify(otp, v.Secret) {
		return nil, NewAuthError(KindIncorrectOTP, "OTP is incorrect.", "otp")
	}

	user, err := e.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindInvalidChallenge, "User id is invalid.", FieldUserID)
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load user", err)
	}

	if err := e.Verifications.DeleteVerification(ctx, ChannelPhone, v.ID); err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to consume challenge", err)
	}
	user.MarkPhoneVerified(now)
	user.UpdatedAt = now
	if err := e.Users.SaveUser(ctx, user); err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to save user", err)
	}
	slog.Info("phone number verified", "userId", user.ID)
	return user, nil
}

// EmailState reports whether the user's email is unverified, pending or verified
func (e *VerificationEngine) EmailState(ctx context.Context, userID string) (VerificationState, error) {
	return e.state(ctx, ChannelEmail, userID)
}

// PhoneState reports whether the user's phone number is unverified, pending or verified
func (e *VerificationEngine) PhoneState(ctx context.Context, userID string) (VerificationState, error) {
	return e.state(ctx, ChannelPhone, userID)
}

func (e *VerificationEngine) state(ctx context.Context, channel Channel, userID string) (VerificationState, error) {
	e.Config.ensureDefaults()
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	verifiedAt, ttl := user.EmailVerifiedAt, e.Config.EmailTTL
	if channel == ChannelPhone {
		verifiedAt, ttl = user.PhoneNumberVerifiedAt, e.Config.PhoneTTL
	}
	if verifiedAt != nil {
		return StateVerified, nil
	}
	v, err := e.Verifications.GetVerificationByUser(ctx, channel, userID)
	if errors.Is(err, ErrNotFound) {
		return StateUnverified, nil
	} else if err != nil {
		return "", WrapAuthError(KindUpstream, "failed to load challenge", err)
	}
	if v.IsExpired(e.now(), ttl) {
		return StateUnverified, nil
	}
	return StatePending, nil
}

func (e *VerificationEngine) loadUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, NewAuthError(KindMissingInput, "User id is required.", FieldUserID)
	}
	user, err := e.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindNotFound, "User not found.", FieldUserID)
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load user", err)
	}
	return user, nil
}
