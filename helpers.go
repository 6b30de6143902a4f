package userauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// UserResponse is the public wire shape of a user
type UserResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func userResponse(u *User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{UserID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// decodeRequest fills dst from a JSON body, or from form values when the request is form encoded.
// Form keys are matched against the json tags of dst's string fields.
func decodeRequest(r *http.Request, dst any) error {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") || strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("error parsing form")
		}
		values := map[string]string{}
		for key := range r.Form {
			values[key] = r.FormValue(key)
		}
		// round trip through json so the struct tags stay the single source of field names
		body, err := json.Marshal(values)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, dst)
	}
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid post body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

// writeData writes a 200 {"data": ...} envelope
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// writeError renders err with the status its kind maps to.
// Errors that are not AuthErrors, and upstream failures, are logged and reported as UNKNOWN_ERROR.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) || ae.HTTPStatus() == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   ErrCodeUnknown,
			"message": "An error occurred.",
		})
		return
	}
	if fields := ae.FieldErrors(); len(fields) > 0 {
		writeJSON(w, ae.HTTPStatus(), map[string]any{"error": ae.Code, "errors": fields})
		return
	}
	writeJSON(w, ae.HTTPStatus(), map[string]any{
		"error":   ae.Code,
		"message": ae.Message,
	})
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
