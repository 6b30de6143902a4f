package userauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Provider names used by the callback routes
const (
	ProviderGithub   = "github"
	ProviderFacebook = "facebook"
	ProviderGoogle   = "google"
)

// UserAuth bundles the account service with its HTTP surface
type UserAuth struct {
	router     *mux.Router
	Session    *scs.SessionManager
	Middleware Middleware
	Local      LocalAuth
	Accounts   *AccountService

	// Optional name that can be used as a prefix for session vars
	AppName string

	// Name of the session variable the pending OAuth state is kept in
	OAuthStateSessionVar string

	// How long the browser session binding an OAuth round trip lives. Defaults to 1 hour.
	SessionLifetime time.Duration
}

func New(appName string, accounts *AccountService) *UserAuth {
	out := (&UserAuth{AppName: appName, Accounts: accounts}).EnsureDefaults()
	return out
}

func (a *UserAuth) EnsureDefaults() *UserAuth {
	if a.AppName == "" {
		a.AppName = "UserAuth"
	}
	if a.SessionLifetime <= 0 {
		a.SessionLifetime = time.Hour
	}
	if a.OAuthStateSessionVar == "" {
		a.OAuthStateSessionVar = fmt.Sprintf("%sOAuthState", a.AppName)
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = a.SessionLifetime
		a.Session.Cookie.Name = strings.ToLower(a.AppName) + "_session"
		a.Session.Cookie.HttpOnly = true
		a.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	a.Middleware.Accounts = a.Accounts
	a.Middleware.EnsureReasonableDefaults()
	a.Local.Accounts = a.Accounts
	return a
}

// Handler returns the router wrapped in the session manager
func (a *UserAuth) Handler() http.Handler {
	return a.Session.LoadAndSave(a.Router())
}

// Router builds (once) the gorilla router with every endpoint registered
func (a *UserAuth) Router() *mux.Router {
	if a.router != nil {
		return a.router
	}
	a.EnsureDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/signUp", a.Local.HandleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/signUpWithEmail", a.Local.HandleSignUpWithEmail).Methods(http.MethodPost)
	r.HandleFunc("/signUpWithPhoneNumber", a.Local.HandleSignUpWithPhoneNumber).Methods(http.MethodPost)
	r.HandleFunc("/verifyEmail", a.Local.HandleVerifyEmail).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/verifyPhoneNumber", a.Local.HandleVerifyPhoneNumber).Methods(http.MethodPost)
	r.HandleFunc("/logIn", a.Local.HandleLogIn).Methods(http.MethodPost)
	r.HandleFunc("/signInWithToken", a.Local.HandleSignInWithToken).Methods(http.MethodPost)
	r.HandleFunc("/validateUsername", a.Local.HandleValidateUsername).Methods(http.MethodPost)
	r.HandleFunc("/validateEmail", a.Local.HandleValidateEmail).Methods(http.MethodPost)
	r.HandleFunc("/validatePhoneNumber", a.Local.HandleValidatePhoneNumber).Methods(http.MethodPost)

	r.Handle("/sendNewEmail", a.Middleware.EnsureUser(http.HandlerFunc(a.Local.HandleSendNewEmail))).Methods(http.MethodGet)
	r.Handle("/sendNewOTP", a.Middleware.EnsureUser(http.HandlerFunc(a.Local.HandleSendNewOTP))).Methods(http.MethodGet)
	r.Handle("/me", a.Middleware.EnsureUser(http.HandlerFunc(a.Local.HandleMe))).Methods(http.MethodGet)

	r.HandleFunc("/oauth/{provider}", a.HandleOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/signInWithGithub", a.oauthCallback(ProviderGithub)).Methods(http.MethodGet)
	r.HandleFunc("/signInWithFacebook", a.oauthCallback(ProviderFacebook)).Methods(http.MethodGet)
	r.HandleFunc("/signInWithGoogle", a.oauthCallback(ProviderGoogle)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, NewAuthError(KindNotFound, "Not found.", ""))
	})
	a.router = r
	return r
}

// HandleOAuthStart redirects to the provider consent page and remembers the state in the session
func (a *UserAuth) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := a.Accounts.Providers[name]
	if !ok || a.Accounts.Federated == nil {
		writeError(w, r, NewAuthError(KindValidation, "OAuth provider name must be provided and must be a valid one.", "oAuthProvider").WithCode(ErrCodeInvalidOAuthProvider))
		return
	}
	consentURL, state, err := a.Accounts.Federated.ConsentURL(provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a.Session.Put(r.Context(), a.OAuthStateSessionVar, state)
	http.Redirect(w, r, consentURL, http.StatusFound)
}

// oauthCallback handles the provider redirect for the named provider.
// A state remembered by HandleOAuthStart must match the returned one; API clients that obtained
// the consent URL from /signUp carry no session and rely on the state signature alone.
func (a *UserAuth) oauthCallback(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := a.Accounts.Providers[name]
		if !ok || a.Accounts.Federated == nil {
			writeError(w, r, NewAuthError(KindValidation, "OAuth provider is not configured.", "oAuthProvider").WithCode(ErrCodeInvalidOAuthProvider))
			return
		}
		q := r.URL.Query()
		cb := OAuthCallback{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}
		expected := a.Session.PopString(r.Context(), a.OAuthStateSessionVar)
		if cb.Error == "" && expected != "" && expected != cb.State {
			slog.Info("oauth state does not match session", "provider", name)
			writeError(w, r, NewAuthError(KindInvalidOAuthState, "Access denied. Please log in.", "").WithCode(string(KindInvalidOAuthState)))
			return
		}

		user, token, err := a.Accounts.Federated.HandleCallback(r.Context(), provider, cb)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, map[string]any{"user": userResponse(user), "token": token})
	}
}
