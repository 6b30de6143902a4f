package userauth_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/panyam/userauth"
)

func TestValidateUsernameFormat(t *testing.T) {
	tests := []struct {
		username string
		want     []string
	}{
		{"alice01", nil},
		{"a_b_c_1", nil},
		{"", []string{"Username is required."}},
		{"abc", []string{"Username must be of length between 6 and 16."}},
		{"abcdefghijklmnopq", []string{"Username must be of length between 6 and 16."}},
		{"alice 01", []string{
			"Username must not contain whitespaces.",
			"Username must be alphanumeric and contains only English characters.",
		}},
		{"alicé01", []string{"Username must be alphanumeric and contains only English characters."}},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			assert.Equal(t, tt.want, userauth.ValidateUsernameFormat(tt.username))
		})
	}
}

func TestValidatePasswordFormat(t *testing.T) {
	assert.Empty(t, userauth.ValidatePasswordFormat("Aa1!aaaa"))
	assert.Equal(t, []string{"Password is required."}, userauth.ValidatePasswordFormat(""))
	assert.Contains(t, userauth.ValidatePasswordFormat("Aa1!"), "Password must be of length between 8 and 20.")
	assert.Contains(t, userauth.ValidatePasswordFormat("AA1!AAAA"), "Password must contain at least one lowercase character.")
	assert.Contains(t, userauth.ValidatePasswordFormat("aa1!aaaa"), "Password must contain at least one uppercase character.")
	assert.Contains(t, userauth.ValidatePasswordFormat("Aa!!aaaa"), "Password must contain at least one number.")
	assert.Contains(t, userauth.ValidatePasswordFormat("Aa11aaaa"), "Password must contain at least one special character.")
	assert.Len(t, userauth.ValidatePasswordFormat("aaaa"), 4)
}

func TestValidatePasswordConfirmation(t *testing.T) {
	assert.Nil(t, userauth.ValidatePasswordConfirmation("Aa1!aaaa", "Aa1!aaaa"))
	assert.Equal(t, []string{"Password confirmation is required."}, userauth.ValidatePasswordConfirmation("", "Aa1!aaaa"))
	assert.Equal(t, []string{"Password confirmation does not match."}, userauth.ValidatePasswordConfirmation("Aa1!aaab", "Aa1!aaaa"))
}

func TestValidateEmailAndPhone(t *testing.T) {
	assert.Nil(t, userauth.ValidateEmailFormat("alice@example.com"))
	assert.Nil(t, userauth.ValidateEmailFormat("a.b+c@mail.example.co"))
	assert.Equal(t, []string{"Email is required."}, userauth.ValidateEmailFormat(""))
	assert.Equal(t, []string{"Email is not valid."}, userauth.ValidateEmailFormat("alice@"))
	assert.Equal(t, []string{"Email is not valid."}, userauth.ValidateEmailFormat("alice.example.com"))

	assert.Nil(t, userauth.ValidatePhoneNumberFormat("+15551234567"))
	assert.Nil(t, userauth.ValidatePhoneNumberFormat("+1 (555) 123-4567"))
	assert.Equal(t, []string{"Phone number is required."}, userauth.ValidatePhoneNumberFormat(""))
	assert.Equal(t, []string{"Phone number is not valid."}, userauth.ValidatePhoneNumberFormat("12ab"))

	assert.Equal(t, "+15551234567", userauth.NormalizePhoneNumber(" +1 (555) 123-4567 "))
}

func TestDetectUsernameType(t *testing.T) {
	assert.Equal(t, "email", userauth.DetectUsernameType("alice@example.com"))
	assert.Equal(t, "phone", userauth.DetectUsernameType("+15551234567"))
	assert.Equal(t, "phone", userauth.DetectUsernameType("555 123 4567"))
	assert.Equal(t, "username", userauth.DetectUsernameType("alice01"))
	assert.Equal(t, "username", userauth.DetectUsernameType("1alice"))
}

func TestAuthErrorStatus(t *testing.T) {
	tests := []struct {
		kind   userauth.ErrorKind
		status int
	}{
		{userauth.KindValidation, http.StatusBadRequest},
		{userauth.KindMissingInput, http.StatusBadRequest},
		{userauth.KindInvalidToken, http.StatusBadRequest},
		{userauth.KindInvalidChallenge, http.StatusBadRequest},
		{userauth.KindIncorrectOTP, http.StatusBadRequest},
		{userauth.KindUnauthorized, http.StatusUnauthorized},
		{userauth.KindOAuthProvider, http.StatusUnauthorized},
		{userauth.KindForbidden, http.StatusForbidden},
		{userauth.KindInvalidOAuthState, http.StatusForbidden},
		{userauth.KindNotFound, http.StatusNotFound},
		{userauth.KindConflict, http.StatusConflict},
		{userauth.KindExpired, http.StatusGone},
		{userauth.KindOAuthExchange, http.StatusInternalServerError},
		{userauth.KindUpstream, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := userauth.NewAuthError(tt.kind, "msg", "")
			assert.Equal(t, tt.status, err.HTTPStatus())
			assert.Equal(t, string(tt.kind), err.Code)
		})
	}
}

func TestAuthErrorMatching(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("saving: %w", userauth.WrapAuthError(userauth.KindUpstream, "failed to save user", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, userauth.NewAuthError(userauth.KindUpstream, "", ""))
	assert.NotErrorIs(t, err, userauth.NewAuthError(userauth.KindConflict, "", ""))
	assert.Equal(t, userauth.KindUpstream, userauth.KindOf(err))
	assert.Equal(t, userauth.KindUpstream, userauth.KindOf(cause))
	assert.False(t, userauth.IsKind(nil, userauth.KindUpstream))

	fieldErr := userauth.NewAuthError(userauth.KindInvalidToken, "Invalid token.", "token")
	assert.Equal(t, map[string][]string{"token": {"Invalid token."}}, fieldErr.FieldErrors())
	assert.Equal(t, "INVALID_TOKEN: token: Invalid token.", fieldErr.Error())
	assert.Nil(t, userauth.NewAuthError(userauth.KindForbidden, "nope", "").FieldErrors())

	coded := userauth.NewAuthError(userauth.KindConflict, "taken", "").WithCode(userauth.ErrCodeDuplicateUsername)
	assert.Equal(t, userauth.ErrCodeDuplicateUsername, coded.Code)
	assert.Equal(t, http.StatusConflict, coded.HTTPStatus())
}
