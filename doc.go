// Package userauth provides user accounts and authentication for Go services.
//
// An account is created with a username and password plus either an email
// address or a phone number, or by signing in with GitHub, Facebook or Google.
// Email addresses and phone numbers are proven through short-lived challenges:
//
//   - Email: a signed token mailed as a link, valid for 24 hours.
//   - SMS: a 6 digit one-time password, stored only as a bcrypt hash, valid for 10 minutes.
//
// Each user has at most one outstanding challenge per channel. Issuing a new one
// invalidates the previous token or code.
//
// # Basic Usage
//
// Pick a store backend (stores/fs, stores/gorm, stores/sqlstore or stores/gae)
// and assemble the service:
//
//	import (
//	    "github.com/panyam/userauth"
//	    "github.com/panyam/userauth/oauth2"
//	    "github.com/panyam/userauth/stores/fs"
//	)
//
//	users := fs.NewFSUserStore("/path/to/storage")
//	verifications := fs.NewFSVerificationStore("/path/to/storage")
//
//	engine := userauth.NewVerificationEngine(users, verifications,
//	    userauth.NewBcryptHasher(0), &userauth.ConsoleMailer{}, &userauth.ConsoleSMSSender{},
//	    userauth.VerificationConfig{AppName: "MyApp", EmailLinkBaseURL: "https://myapp.com/verifyEmail"})
//	sessions := userauth.NewSessionIssuer(secret, "myapp", 0)
//	resolver := userauth.NewFederatedResolver(users, sessions, userauth.NewStateSigner(secret))
//
//	accounts := userauth.NewAccountService(engine, sessions, resolver,
//	    oauth2.NewGithubOAuth2(clientID, clientSecret, callbackURL))
//
//	http.Handle("/", userauth.New("MyApp", accounts).Handler())
//
// # Errors
//
// Service methods return *AuthError. Its Kind decides the HTTP status, and
// field-scoped errors are rendered as {"error": code, "errors": {field: [messages]}}.
//
// # Protecting Routes
//
// Middleware.EnsureUser rejects requests without a bearer token (403) or with
// an invalid one (401) and places the *User in the request context:
//
//	mw := &userauth.Middleware{Accounts: accounts}
//	http.Handle("/profile", mw.EnsureUser(profileHandler))
//
//	func profileHandler(w http.ResponseWriter, r *http.Request) {
//	    user := userauth.UserFromContext(r.Context())
//	    ...
//	}
package userauth
