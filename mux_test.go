package userauth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/userauth"
)

type apiServer struct {
	*fixture
	server *httptest.Server
	auth   *userauth.UserAuth
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	f := newFixture(t)
	auth := userauth.New("TestApp", f.accounts)
	auth.Middleware.AuthTokenCookieName = "authToken"
	server := httptest.NewServer(auth.Handler())
	t.Cleanup(server.Close)
	return &apiServer{fixture: f, server: server, auth: auth}
}

type apiResponse struct {
	Status int
	Header http.Header
	Body   map[string]any
}

func (r *apiResponse) data(t *testing.T) map[string]any {
	t.Helper()
	data, ok := r.Body["data"].(map[string]any)
	require.True(t, ok, "no data in %v", r.Body)
	return data
}

func (r *apiResponse) fieldErrors(t *testing.T, field string) []any {
	t.Helper()
	errs, ok := r.Body["errors"].(map[string]any)
	require.True(t, ok, "no errors in %v", r.Body)
	msgs, _ := errs[field].([]any)
	return msgs
}

func doRequest(t *testing.T, client *http.Client, req *http.Request) *apiResponse {
	t.Helper()
	if client == nil {
		client = noRedirectClient(nil)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := &apiResponse{Status: resp.StatusCode, Header: resp.Header}
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out.Body), "body: %s", raw)
	}
	return out
}

func (s *apiServer) postJSON(t *testing.T, path string, body any, token string) *apiResponse {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doRequest(t, nil, req)
}

func (s *apiServer) get(t *testing.T, client *http.Client, path string, token string) *apiResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doRequest(t, client, req)
}

func noRedirectClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

var aliceSignup = map[string]string{
	"username":             "alice01",
	"password":             "Aa1!aaaa",
	"passwordConfirmation": "Aa1!aaaa",
	"email":                "alice@example.com",
}

func TestEmailSignupVerifyAndReuse(t *testing.T) {
	s := newAPIServer(t)

	resp := s.postJSON(t, "/signUpWithEmail", aliceSignup, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	data := resp.data(t)
	user := data["user"].(map[string]any)
	assert.Equal(t, "alice01", user["username"])
	assert.NotEmpty(t, user["userId"])
	assert.NotEmpty(t, data["token"])
	assert.NotContains(t, user, "password_hash")

	emailToken := s.mail.lastToken(t)
	resp = s.postJSON(t, "/verifyEmail", map[string]string{"token": emailToken}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	data = resp.data(t)
	assert.Equal(t, user["userId"], data["user"].(map[string]any)["userId"])
	assert.NotNil(t, data["emailVerifiedAt"])
	assert.NotEmpty(t, data["token"])

	resp = s.postJSON(t, "/verifyEmail", map[string]string{"token": emailToken}, "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "INVALID_TOKEN", resp.Body["error"])
	assert.Equal(t, []any{"Token is invalid."}, resp.fieldErrors(t, "token"))
}

func TestVerifyEmailFromLinkQuery(t *testing.T) {
	s := newAPIServer(t)
	s.postJSON(t, "/signUpWithEmail", aliceSignup, "")

	resp := s.get(t, nil, "/verifyEmail?token="+url.QueryEscape(s.mail.lastToken(t)), "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.NotNil(t, resp.data(t)["emailVerifiedAt"])
}

func TestSignupConflictOverHTTP(t *testing.T) {
	s := newAPIServer(t)
	require.Equal(t, http.StatusOK, s.postJSON(t, "/signUpWithEmail", aliceSignup, "").Status)

	resp := s.postJSON(t, "/signUpWithEmail", aliceSignup, "")
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "CONFLICT", resp.Body["error"])
	assert.Equal(t, []any{"A user with that username exists."}, resp.fieldErrors(t, "username"))
	assert.Equal(t, []any{"A user with that email exists."}, resp.fieldErrors(t, "email"))
}

func TestSignUpFormEncoded(t *testing.T) {
	s := newAPIServer(t)
	form := url.Values{}
	form.Set("authType", "email")
	for k, v := range aliceSignup {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/signUp", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp := doRequest(t, nil, req)
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "alice01", resp.data(t)["user"].(map[string]any)["username"])
}

func TestMalformedBody(t *testing.T) {
	s := newAPIServer(t)
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/logIn", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp := doRequest(t, nil, req)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, []any{"invalid post body"}, resp.fieldErrors(t, "body"))
}

func TestPhoneSignupAndOTPOverHTTP(t *testing.T) {
	s := newAPIServer(t)

	resp := s.postJSON(t, "/signUpWithPhoneNumber", map[string]string{
		"username":             "carol01",
		"password":             "Aa1!aaaa",
		"passwordConfirmation": "Aa1!aaaa",
		"phoneNumber":          "+15551234567",
	}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	userID := resp.data(t)["user"].(map[string]any)["userId"].(string)
	token := resp.data(t)["token"].(string)
	otp := s.sms.lastOTP(t)

	wrong := "000000"
	if otp == wrong {
		wrong = "111111"
	}
	resp = s.postJSON(t, "/verifyPhoneNumber", map[string]string{"userId": userID, "otp": wrong}, "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, []any{"OTP is incorrect."}, resp.fieldErrors(t, "otp"))

	resp = s.postJSON(t, "/verifyPhoneNumber", map[string]string{"userId": "nobody", "otp": otp}, "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, []any{"User id is invalid."}, resp.fieldErrors(t, "userId"))

	// asking for a new code replaces the old one
	resp = s.get(t, nil, "/sendNewOTP", token)
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	require.Len(t, s.sms.sent, 2)
	otp = s.sms.lastOTP(t)

	resp = s.postJSON(t, "/verifyPhoneNumber", map[string]string{"userId": userID, "otp": otp}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.NotNil(t, resp.data(t)["phoneNumberVerifiedAt"])

	resp = s.get(t, nil, "/sendNewOTP", token)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotNil(t, resp.data(t)["phoneNumberVerifiedAt"])
	assert.Len(t, s.sms.sent, 2)
}

func TestLogInAndSignInWithTokenOverHTTP(t *testing.T) {
	s := newAPIServer(t)
	s.postJSON(t, "/signUpWithEmail", aliceSignup, "")

	resp := s.postJSON(t, "/logIn", map[string]string{"username": "alice@example.com", "password": "Aa1!aaaa"}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	token := resp.data(t)["token"].(string)

	resp = s.postJSON(t, "/logIn", map[string]string{"username": "alice01", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "UNAUTHORIZED", resp.Body["error"])

	resp = s.postJSON(t, "/signInWithToken", map[string]string{"token": token}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "alice01", resp.data(t)["user"].(map[string]any)["username"])

	// the token may also come from the Authorization header
	resp = s.postJSON(t, "/signInWithToken", map[string]string{}, token)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestEnsureUser(t *testing.T) {
	s := newAPIServer(t)
	token := s.postJSON(t, "/signUpWithEmail", aliceSignup, "").data(t)["token"].(string)

	resp := s.get(t, nil, "/me", "")
	assert.Equal(t, http.StatusForbidden, resp.Status)

	resp = s.get(t, nil, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, []any{"Invalid token."}, resp.fieldErrors(t, "token"))

	resp = s.get(t, nil, "/me", token)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "alice01", resp.data(t)["user"].(map[string]any)["username"])

	// bare token without the Bearer prefix
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", token)
	assert.Equal(t, http.StatusOK, doRequest(t, nil, req).Status)

	// cookie
	req, err = http.NewRequest(http.MethodGet, s.server.URL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "authToken", Value: token})
	assert.Equal(t, http.StatusOK, doRequest(t, nil, req).Status)
}

func TestExtractUser(t *testing.T) {
	f := newFixture(t)
	mw := &userauth.Middleware{Accounts: f.accounts}
	var seen *userauth.User
	handler := mw.ExtractUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = userauth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, seen)

	alice := f.signUpAlice(t)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.NotNil(t, seen)
	assert.Equal(t, alice.User.ID, seen.ID)
}

func TestSendNewEmailOverHTTP(t *testing.T) {
	s := newAPIServer(t)
	token := s.postJSON(t, "/signUpWithEmail", aliceSignup, "").data(t)["token"].(string)

	resp := s.get(t, nil, "/sendNewEmail", token)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.data(t))
	assert.Equal(t, 2, s.mail.count())

	s.postJSON(t, "/verifyEmail", map[string]string{"token": s.mail.lastToken(t)}, "")
	resp = s.get(t, nil, "/sendNewEmail", token)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.NotNil(t, resp.data(t)["emailVerifiedAt"])
	assert.Equal(t, 2, s.mail.count())
}

func TestValidateEndpoints(t *testing.T) {
	s := newAPIServer(t)
	s.postJSON(t, "/signUpWithEmail", aliceSignup, "")

	assert.Equal(t, http.StatusNoContent, s.postJSON(t, "/validateUsername", map[string]string{"username": "bobby01"}, "").Status)
	assert.Equal(t, http.StatusConflict, s.postJSON(t, "/validateUsername", map[string]string{"username": "alice01"}, "").Status)
	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/validateUsername", map[string]string{"username": "a b"}, "").Status)
	assert.Equal(t, http.StatusConflict, s.postJSON(t, "/validateEmail", map[string]string{"email": "alice@example.com"}, "").Status)
	assert.Equal(t, http.StatusNoContent, s.postJSON(t, "/validatePhoneNumber", map[string]string{"phoneNumber": "+15551234567"}, "").Status)
}

func TestUnknownRoute(t *testing.T) {
	s := newAPIServer(t)
	resp := s.get(t, nil, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Body["error"])
}

func TestOAuthBrowserFlow(t *testing.T) {
	s := newAPIServer(t)
	s.github.profile = userauth.FederatedProfile{ID: "gh-123", Name: "Octo Cat", Email: "octo@example.com"}
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := noRedirectClient(jar)

	resp := s.get(t, browser, "/oauth/github", "")
	require.Equal(t, http.StatusFound, resp.Status)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example", location.Host)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	resp = s.get(t, browser, "/signInWithGithub?code=good&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	data := resp.data(t)
	assert.Equal(t, "OctoCat", data["user"].(map[string]any)["username"])
	assert.NotEmpty(t, data["token"])
}

func TestOAuthStateMustMatchSession(t *testing.T) {
	s := newAPIServer(t)
	s.github.profile = userauth.FederatedProfile{ID: "gh-123", Name: "Octo Cat"}
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := noRedirectClient(jar)

	require.Equal(t, http.StatusFound, s.get(t, browser, "/oauth/github", "").Status)

	// validly signed but minted for some other browser
	other, err := s.states.Issue()
	require.NoError(t, err)
	resp := s.get(t, browser, "/signInWithGithub?code=good&state="+url.QueryEscape(other), "")
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "INVALID_OAUTH_STATE", resp.Body["error"])
	assert.Empty(t, s.github.codes)
}

func TestOAuthAPIClientFlow(t *testing.T) {
	s := newAPIServer(t)
	s.github.profile = userauth.FederatedProfile{ID: "gh-123", Name: "Octo Cat"}

	resp := s.postJSON(t, "/signUp", map[string]string{"authType": "oauth", "oAuthProvider": "github"}, "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	consent, err := url.Parse(resp.data(t)["oAuthConsentUrl"].(string))
	require.NoError(t, err)
	state := consent.Query().Get("state")

	resp = s.get(t, nil, "/signInWithGithub?code=abc&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, []string{"abc"}, s.github.codes)
}

func TestOAuthErrors(t *testing.T) {
	s := newAPIServer(t)

	resp := s.get(t, nil, "/oauth/myspace", "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.NotEmpty(t, resp.fieldErrors(t, "oAuthProvider"))

	// google is routed but not configured in this fixture
	resp = s.get(t, nil, "/signInWithGoogle?code=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = s.get(t, nil, "/signInWithGithub?error=access_denied&error_description=denied", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "access_denied", resp.Body["error"])
	assert.Equal(t, "denied", resp.Body["message"])

	resp = s.get(t, nil, "/signInWithGithub?code=x&state=forged", "")
	assert.Equal(t, http.StatusForbidden, resp.Status)
}
