package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/panyam/userauth"
	"golang.org/x/oauth2"
)

// fetchJSON performs an authenticated GET and decodes the JSON response into out
func fetchJSON(ctx context.Context, client *http.Client, url string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	response, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info: %w", err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("user info request failed with status %d: %s", response.StatusCode, contents)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}

var (
	_ userauth.OAuthProvider = (*GithubOAuth2)(nil)
	_ userauth.OAuthProvider = (*GoogleOAuth2)(nil)
	_ userauth.OAuthProvider = (*FacebookOAuth2)(nil)
)
