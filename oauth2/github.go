package oauth2

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/panyam/userauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// NewGithubOAuth2 creates the GitHub provider. Empty arguments fall back to
// OAUTH2_GITHUB_CLIENT_ID, OAUTH2_GITHUB_CLIENT_SECRET and OAUTH2_GITHUB_CALLBACK_URL.
func NewGithubOAuth2(clientId string, clientSecret string, callbackUrl string) *GithubOAuth2 {
	clientId = envOr(clientId, "OAUTH2_GITHUB_CLIENT_ID")
	clientSecret = envOr(clientSecret, "OAUTH2_GITHUB_CLIENT_SECRET")
	callbackUrl = envOr(callbackUrl, "OAUTH2_GITHUB_CALLBACK_URL")
	return &GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2(clientId, clientSecret, callbackUrl, github.Endpoint, "read:user", "user:email"),
		UserInfoURL: "https://api.github.com/user",
	}
}

func (g *GithubOAuth2) Name() string {
	return userauth.ProviderGithub
}

// FetchProfile reads the authenticated user from the GitHub API
func (g *GithubOAuth2) FetchProfile(ctx context.Context, token *oauth2.Token) (*userauth.FederatedProfile, error) {
	var info githubUser
	if err := fetchJSON(ctx, g.getHTTPClient(), g.UserInfoURL, token, &info); err != nil {
		slog.Info("error fetching github profile", "err", err)
		return nil, err
	}
	return &userauth.FederatedProfile{
		Provider:    userauth.ProviderGithub,
		ID:          strconv.FormatInt(info.ID, 10),
		Name:        info.Login,
		Email:       info.Email,
		AvatarURL:   info.AvatarURL,
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
	}, nil
}
