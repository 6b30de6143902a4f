package userauth

import (
	"net/http"
)

// LocalAuth serves the password, verification and identity-validation endpoints
type LocalAuth struct {
	Accounts *AccountService
}

type logInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type otpRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

type identifierRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

func (a *LocalAuth) signupData(res *SignupResult) map[string]any {
	if res.OAuthConsentURL != "" {
		return map[string]any{"oAuthConsentUrl": res.OAuthConsentURL}
	}
	return map[string]any{"user": userResponse(res.User), "token": res.Token}
}

// HandleSignUp dispatches on the authType field
func (a *LocalAuth) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	res, err := a.Accounts.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, a.signupData(res))
}

// HandleSignUpWithEmail registers a password account identified by email
func (a *LocalAuth) HandleSignUpWithEmail(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	res, err := a.Accounts.SignUpWithEmail(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, a.signupData(res))
}

// HandleSignUpWithPhoneNumber registers a password account identified by phone number
func (a *LocalAuth) HandleSignUpWithPhoneNumber(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	res, err := a.Accounts.SignUpWithPhoneNumber(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, a.signupData(res))
}

// HandleVerifyEmail consumes the emailed token. The token may come in the body or the query string.
func (a *LocalAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	user, token, err := a.Accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{
		"user":            userResponse(user),
		"token":           token,
		"emailVerifiedAt": timeOrNil(user.EmailVerifiedAt),
	})
}

// HandleSendNewEmail re-issues the email challenge for the logged in user
func (a *LocalAuth) HandleSendNewEmail(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, r, NewAuthError(KindForbidden, "Token is required.", "token"))
		return
	}
	verifiedAt, err := a.Accounts.ResendEmail(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if verifiedAt != nil {
		writeData(w, map[string]any{"emailVerifiedAt": timeOrNil(verifiedAt)})
		return
	}
	writeData(w, map[string]any{})
}

// HandleVerifyPhoneNumber consumes an SMS one-time password
func (a *LocalAuth) HandleVerifyPhoneNumber(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	user, token, err := a.Accounts.VerifyPhoneNumber(r.Context(), req.UserID, req.OTP)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{
		"user":                  userResponse(user),
		"token":                 token,
		"phoneNumberVerifiedAt": timeOrNil(user.PhoneNumberVerifiedAt),
	})
}

// HandleSendNewOTP re-issues the SMS challenge for the logged in user
func (a *LocalAuth) HandleSendNewOTP(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, r, NewAuthError(KindForbidden, "Token is required.", "token"))
		return
	}
	verifiedAt, err := a.Accounts.ResendOTP(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if verifiedAt != nil {
		writeData(w, map[string]any{"phoneNumberVerifiedAt": timeOrNil(verifiedAt)})
		return
	}
	writeData(w, map[string]any{})
}

// HandleLogIn checks a username, email or phone number against a password
func (a *LocalAuth) HandleLogIn(w http.ResponseWriter, r *http.Request) {
	var req logInRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	user, token, err := a.Accounts.LogIn(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"user": userResponse(user), "token": token})
}

// HandleSignInWithToken trades a valid session token for a fresh one
func (a *LocalAuth) HandleSignInWithToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}
	user, token, err := a.Accounts.SignInWithToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"user": userResponse(user), "token": token})
}

// HandleValidateUsername answers 204 when the username is usable
func (a *LocalAuth) HandleValidateUsername(w http.ResponseWriter, r *http.Request) {
	a.validate(w, r, func(req identifierRequest) error {
		return a.Accounts.ValidateUsername(r.Context(), req.Username)
	})
}

// HandleValidateEmail answers 204 when the email is usable
func (a *LocalAuth) HandleValidateEmail(w http.ResponseWriter, r *http.Request) {
	a.validate(w, r, func(req identifierRequest) error {
		return a.Accounts.ValidateEmail(r.Context(), req.Email)
	})
}

// HandleValidatePhoneNumber answers 204 when the phone number is usable
func (a *LocalAuth) HandleValidatePhoneNumber(w http.ResponseWriter, r *http.Request) {
	a.validate(w, r, func(req identifierRequest) error {
		return a.Accounts.ValidatePhoneNumber(r.Context(), req.PhoneNumber)
	})
}

func (a *LocalAuth) validate(w http.ResponseWriter, r *http.Request, check func(identifierRequest) error) {
	var req identifierRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, NewAuthError(KindValidation, err.Error(), "body"))
		return
	}
	if err := check(req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the logged in user
func (a *LocalAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, r, NewAuthError(KindForbidden, "Token is required.", "token"))
		return
	}
	writeData(w, map[string]any{"user": userResponse(user)})
}
