package userauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AccountService implements registration, login and identity validation on top
// of the verification engine, session issuer and federated resolver.
type AccountService struct {
	Users     UserStore
	Hasher    Hasher
	Engine    *VerificationEngine
	Sessions  *SessionIssuer
	Federated *FederatedResolver
	Providers map[string]OAuthProvider

	// Now is overridable for tests
	Now func() time.Time
}

func NewAccountService(engine *VerificationEngine, sessions *SessionIssuer, federated *FederatedResolver, providers ...OAuthProvider) *AccountService {
	out := &AccountService{
		Users:     engine.Users,
		Hasher:    engine.Hasher,
		Engine:    engine,
		Sessions:  sessions,
		Federated: federated,
		Providers: make(map[string]OAuthProvider),
		Now:       time.Now,
	}
	for _, p := range providers {
		out.Providers[p.Name()] = p
	}
	return out
}

func (s *AccountService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SignupResult is returned by every signup flavour
type SignupResult struct {
	User            *User
	Token           string
	OAuthConsentURL string
	OAuthState      string
}

// SignUp dispatches on req.AuthType
func (s *AccountService) SignUp(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	switch req.AuthType {
	case AuthTypeEmail:
		return s.SignUpWithEmail(ctx, req)
	case AuthTypePhoneNumber:
		return s.SignUpWithPhoneNumber(ctx, req)
	case AuthTypeOAuth:
		provider, ok := s.Providers[req.OAuthProvider]
		if !ok || s.Federated == nil {
			return nil, NewAuthError(KindValidation, "OAuth provider name must be provided and must be a valid one.", "oAuthProvider").WithCode(ErrCodeInvalidOAuthProvider)
		}
		consentURL, state, err := s.Federated.ConsentURL(provider)
		if err != nil {
			return nil, err
		}
		return &SignupResult{OAuthConsentURL: consentURL, OAuthState: state}, nil
	default:
		return nil, NewAuthError(KindValidation, "Auth type must be one of email, phoneNumber or oauth.", "authType")
	}
}

// SignUpWithEmail creates a password account and mails an email challenge.
// Field problems are all reported together; nothing is hashed or stored unless the request is clean.
func (s *AccountService) SignUpWithEmail(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	errs, err := s.validateSignup(ctx, req)
	if err != nil {
		return nil, err
	}
	errs.add(FieldEmail, ValidateEmailFormat(req.Email)...)
	if _, ok := errs[FieldEmail]; !ok {
		if err := s.checkUnused(ctx, FieldEmail, req.Email, errs); err != nil {
			return nil, err
		}
	}
	if err := signupError(errs); err != nil {
		return nil, err
	}

	user := &User{Username: req.Username, Email: req.Email}
	if err := s.createPasswordUser(ctx, user, req.Password); err != nil {
		return nil, err
	}
	if err := s.Engine.IssueEmailChallenge(ctx, user.ID); err != nil {
		slog.Warn("signup email challenge not delivered", "userId", user.ID, "error", err)
	}
	return s.signedIn(user)
}

// SignUpWithPhoneNumber creates a password account and texts an OTP challenge
func (s *AccountService) SignUpWithPhoneNumber(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	errs, err := s.validateSignup(ctx, req)
	if err != nil {
		return nil, err
	}
	phone := NormalizePhoneNumber(req.PhoneNumber)
	errs.add(FieldPhoneNumber, ValidatePhoneNumberFormat(phone)...)
	if _, ok := errs[FieldPhoneNumber]; !ok {
		if err := s.checkUnused(ctx, FieldPhoneNumber, phone, errs); err != nil {
			return nil, err
		}
	}
	if err := signupError(errs); err != nil {
		return nil, err
	}

	user := &User{Username: req.Username, PhoneNumber: phone}
	if err := s.createPasswordUser(ctx, user, req.Password); err != nil {
		return nil, err
	}
	if err := s.Engine.IssueSMSChallenge(ctx, user.ID); err != nil {
		slog.Warn("signup sms challenge not delivered", "userId", user.ID, "error", err)
	}
	return s.signedIn(user)
}

func (s *AccountService) validateSignup(ctx context.Context, req SignupRequest) (fieldErrors, error) {
	errs := fieldErrors{}
	errs.add(FieldUsername, ValidateUsernameFormat(req.Username)...)
	errs.add("password", ValidatePasswordFormat(req.Password)...)
	errs.add("passwordConfirmation", ValidatePasswordConfirmation(req.PasswordConfirmation, req.Password)...)
	if _, ok := errs[FieldUsername]; !ok {
		if err := s.checkUnused(ctx, FieldUsername, req.Username, errs); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

// checkUnused records a conflict on field if value is already held by an account
func (s *AccountService) checkUnused(ctx context.Context, field, value string, errs fieldErrors) error {
	var err error
	switch field {
	case FieldUsername:
		_, err = s.Users.GetUserByUsername(ctx, value)
	case FieldEmail:
		_, err = s.Users.GetUserByEmail(ctx, value)
	case FieldPhoneNumber:
		_, err = s.Users.GetUserByPhoneNumber(ctx, value)
	}
	if err == nil {
		errs.add(field, duplicateMessage(field))
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return WrapAuthError(KindUpstream, "failed to check "+field, err)
}

// signupError turns accumulated field problems into one error.
// Any taken identifier makes it a CONFLICT, even next to malformed fields.
func signupError(errs fieldErrors) error {
	if errs.empty() {
		return nil
	}
	kind := KindValidation
	for field, msgs := range errs {
		for _, m := range msgs {
			if m == duplicateMessage(field) {
				kind = KindConflict
			}
		}
	}
	return NewFieldErrors(kind, errs)
}

func duplicateMessage(field string) string {
	switch field {
	case FieldUsername:
		return "A user with that username exists."
	case FieldEmail:
		return "A user with that email exists."
	case FieldPhoneNumber:
		return "A user with that phone number exists."
	}
	return "Already taken."
}

// createPasswordUser hashes the password and stores the account.
// A unique violation at insert time (a concurrent signup) is reported on the colliding field.
func (s *AccountService) createPasswordUser(ctx context.Context, user *User, password string) error {
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return WrapAuthError(KindUpstream, "failed to hash password", err)
	}
	now := s.now()
	user.ID = uuid.NewString()
	user.PasswordHash = hash
	user.CreatedAt = now
	user.UpdatedAt = now
	if err := s.Users.CreateUser(ctx, user); err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) && dup.Field != "" {
			return NewFieldErrors(KindConflict, map[string][]string{dup.Field: {duplicateMessage(dup.Field)}})
		}
		if errors.Is(err, ErrDuplicate) {
			return WrapAuthError(KindConflict, "Account already exists.", err)
		}
		return WrapAuthError(KindUpstream, "failed to create user", err)
	}
	slog.Info("created user", "userId", user.ID, "username", user.Username)
	return nil
}

func (s *AccountService) signedIn(user *User) (*SignupResult, error) {
	token, err := s.Sessions.Issue(user.ID)
	if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return &SignupResult{User: user, Token: token}, nil
}

// LogIn checks a password against the account named by a username, email or phone number
func (s *AccountService) LogIn(ctx context.Context, identifier, password string) (*User, string, error) {
	errs := fieldErrors{}
	if identifier == "" {
		errs.add(FieldUsername, "Username is required.")
	}
	if password == "" {
		errs.add("password", "Password is required.")
	}
	if !errs.empty() {
		return nil, "", NewFieldErrors(KindValidation, errs)
	}

	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", WrapAuthError(KindUpstream, "failed to load user", err)
	}
	if user == nil || !s.Hasher.Verify(password, user.PasswordHash) {
		return nil, "", NewAuthError(KindUnauthorized, "Invalid username or password.", "")
	}
	token, err := s.Sessions.Issue(user.ID)
	if err != nil {
		return nil, "", WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return user, token, nil
}

func (s *AccountService) findByIdentifier(ctx context.Context, identifier string) (*User, error) {
	switch DetectUsernameType(identifier) {
	case "email":
		return s.Users.GetUserByEmail(ctx, identifier)
	case "phone":
		user, err := s.Users.GetUserByPhoneNumber(ctx, NormalizePhoneNumber(identifier))
		if errors.Is(err, ErrNotFound) {
			// digit-only usernames look like phone numbers
			return s.Users.GetUserByUsername(ctx, identifier)
		}
		return user, err
	default:
		return s.Users.GetUserByUsername(ctx, identifier)
	}
}

// SignInWithToken exchanges a valid session token for the user and a fresh token
func (s *AccountService) SignInWithToken(ctx context.Context, token string) (*User, string, error) {
	if token == "" {
		return nil, "", NewAuthError(KindMissingInput, "Token is required.", "token")
	}
	user, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, "", err
	}
	fresh, err := s.Sessions.Issue(user.ID)
	if err != nil {
		return nil, "", WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return user, fresh, nil
}

// Authenticate resolves a session token to its user
func (s *AccountService) Authenticate(ctx context.Context, token string) (*User, error) {
	userID, err := s.Sessions.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindUnauthorized, "Invalid token.", "token")
	} else if err != nil {
		return nil, WrapAuthError(KindUpstream, "failed to load user", err)
	}
	return user, nil
}

// VerifyEmail consumes an email challenge and signs the user in
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*User, string, error) {
	user, err := s.Engine.ConsumeEmailChallenge(ctx, token)
	if err != nil {
		return nil, "", err
	}
	session, err := s.Sessions.Issue(user.ID)
	if err != nil {
		return nil, "", WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return user, session, nil
}

// VerifyPhoneNumber consumes an SMS challenge and signs the user in
func (s *AccountService) VerifyPhoneNumber(ctx context.Context, userID, otp string) (*User, string, error) {
	user, err := s.Engine.ConsumeSMSChallenge(ctx, userID, otp)
	if err != nil {
		return nil, "", err
	}
	session, err := s.Sessions.Issue(user.ID)
	if err != nil {
		return nil, "", WrapAuthError(KindUpstream, "failed to issue session", err)
	}
	return user, session, nil
}

// ResendEmail re-issues the email challenge for user.
// It returns the existing verified-at time instead when there is nothing to verify.
func (s *AccountService) ResendEmail(ctx context.Context, user *User) (*time.Time, error) {
	err := s.Engine.IssueEmailChallenge(ctx, user.ID)
	if errors.Is(err, ErrAlreadyVerified) {
		return user.EmailVerifiedAt, nil
	}
	return nil, err
}

// ResendOTP re-issues the SMS challenge for user
func (s *AccountService) ResendOTP(ctx context.Context, user *User) (*time.Time, error) {
	err := s.Engine.IssueSMSChallenge(ctx, user.ID)
	if errors.Is(err, ErrAlreadyVerified) {
		return user.PhoneNumberVerifiedAt, nil
	}
	return nil, err
}

// ValidateUsername reports whether username is well formed and free
func (s *AccountService) ValidateUsername(ctx context.Context, username string) error {
	return s.validateIdentifier(ctx, FieldUsername, username, ValidateUsernameFormat(username), ErrCodeInvalidUsername, ErrCodeDuplicateUsername)
}

// ValidateEmail reports whether email is well formed and free
func (s *AccountService) ValidateEmail(ctx context.Context, email string) error {
	return s.validateIdentifier(ctx, FieldEmail, email, ValidateEmailFormat(email), ErrCodeInvalidEmail, ErrCodeDuplicateEmail)
}

// ValidatePhoneNumber reports whether phoneNumber is well formed and free
func (s *AccountService) ValidatePhoneNumber(ctx context.Context, phoneNumber string) error {
	phone := NormalizePhoneNumber(phoneNumber)
	return s.validateIdentifier(ctx, FieldPhoneNumber, phone, ValidatePhoneNumberFormat(phone), ErrCodeInvalidPhoneNumber, ErrCodeDuplicatePhoneNumber)
}

func (s *AccountService) validateIdentifier(ctx context.Context, field, value string, problems []string, invalidCode, duplicateCode string) error {
	if len(problems) > 0 {
		return NewFieldErrors(KindValidation, map[string][]string{field: problems}).WithCode(invalidCode)
	}
	errs := fieldErrors{}
	if err := s.checkUnused(ctx, field, value, errs); err != nil {
		return err
	}
	if !errs.empty() {
		return NewFieldErrors(KindConflict, errs).WithCode(duplicateCode)
	}
	return nil
}
