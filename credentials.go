package userauth

import (
	"fmt"
	"regexp"
	"strings"
)

// Username and password length limits
const (
	MinUsernameLength = 6
	MaxUsernameLength = 16
	MinPasswordLength = 8
	MaxPasswordLength = 20
)

var (
	usernameRegex     = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailRegex        = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@([a-zA-Z0-9\-]+\.)+[a-zA-Z]{2,}$`)
	phoneRegex        = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	lowerRegex        = regexp.MustCompile(`[a-z]`)
	upperRegex        = regexp.MustCompile(`[A-Z]`)
	digitRegex        = regexp.MustCompile(`[0-9]`)
	specialCharsRegex = regexp.MustCompile(`[.!@#$%^&*()+\-={}\[\]\\,/<>?|]`)
)

// Auth types accepted by SignUp
const (
	AuthTypeEmail       = "email"
	AuthTypePhoneNumber = "phoneNumber"
	AuthTypeOAuth       = "oauth"
)

// SignupRequest is the payload for all signup flavours
type SignupRequest struct {
	AuthType             string `json:"authType"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"passwordConfirmation"`
	Email                string `json:"email"`
	PhoneNumber          string `json:"phoneNumber"`
	OAuthProvider        string `json:"oAuthProvider"`
}

// ValidateUsernameFormat returns the problems with username, or nil
func ValidateUsernameFormat(username string) []string {
	var msgs []string
	if username == "" {
		return []string{"Username is required."}
	}
	if strings.ContainsAny(username, " \t\r\n") {
		msgs = append(msgs, "Username must not contain whitespaces.")
	}
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		msgs = append(msgs, fmt.Sprintf("Username must be of length between %d and %d.", MinUsernameLength, MaxUsernameLength))
	}
	if !usernameRegex.MatchString(username) {
		msgs = append(msgs, "Username must be alphanumeric and contains only English characters.")
	}
	return msgs
}

// ValidatePasswordFormat returns the problems with password, or nil
func ValidatePasswordFormat(password string) []string {
	if password == "" {
		return []string{"Password is required."}
	}
	var msgs []string
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		msgs = append(msgs, fmt.Sprintf("Password must be of length between %d and %d.", MinPasswordLength, MaxPasswordLength))
	}
	if !lowerRegex.MatchString(password) {
		msgs = append(msgs, "Password must contain at least one lowercase character.")
	}
	if !upperRegex.MatchString(password) {
		msgs = append(msgs, "Password must contain at least one uppercase character.")
	}
	if !digitRegex.MatchString(password) {
		msgs = append(msgs, "Password must contain at least one number.")
	}
	if !specialCharsRegex.MatchString(password) {
		msgs = append(msgs, "Password must contain at least one special character.")
	}
	return msgs
}

// ValidatePasswordConfirmation checks that the confirmation was given and matches
func ValidatePasswordConfirmation(confirmation, password string) []string {
	if confirmation == "" {
		return []string{"Password confirmation is required."}
	}
	if confirmation != password {
		return []string{"Password confirmation does not match."}
	}
	return nil
}

// ValidateEmailFormat returns the problems with email, or nil
func ValidateEmailFormat(email string) []string {
	if email == "" {
		return []string{"Email is required."}
	}
	if !emailRegex.MatchString(email) {
		return []string{"Email is not valid."}
	}
	return nil
}

// ValidatePhoneNumberFormat returns the problems with phoneNumber, or nil
func ValidatePhoneNumberFormat(phoneNumber string) []string {
	if phoneNumber == "" {
		return []string{"Phone number is required."}
	}
	if !phoneRegex.MatchString(NormalizePhoneNumber(phoneNumber)) {
		return []string{"Phone number is not valid."}
	}
	return nil
}

// NormalizePhoneNumber strips common separators
func NormalizePhoneNumber(phoneNumber string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phoneNumber))
}

// DetectUsernameType attempts to detect what type of identifier was provided at login
func DetectUsernameType(username string) string {
	if strings.Contains(username, "@") {
		return "email"
	}
	// Phone numbers start with + or a digit and contain no letters
	if len(username) > 0 && (username[0] == '+' || (username[0] >= '0' && username[0] <= '9')) &&
		phoneRegex.MatchString(NormalizePhoneNumber(username)) {
		return "phone"
	}
	return "username"
}

// fieldErrors accumulates per-field validation messages
type fieldErrors map[string][]string

func (f fieldErrors) add(field string, msgs ...string) {
	if len(msgs) > 0 {
		f[field] = append(f[field], msgs...)
	}
}

func (f fieldErrors) empty() bool {
	return len(f) == 0
}
