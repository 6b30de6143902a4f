package oauth2

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/panyam/userauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

type FacebookOAuth2 struct {
	*BaseOAuth2

	// GraphURL is the Graph API "me" endpoint. Can be overridden for testing.
	GraphURL string
}

type facebookUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// NewFacebookOAuth2 creates the Facebook provider. Empty arguments fall back to
// OAUTH2_FACEBOOK_CLIENT_ID, OAUTH2_FACEBOOK_CLIENT_SECRET and OAUTH2_FACEBOOK_CALLBACK_URL.
func NewFacebookOAuth2(clientId string, clientSecret string, callbackUrl string) *FacebookOAuth2 {
	clientId = envOr(clientId, "OAUTH2_FACEBOOK_CLIENT_ID")
	clientSecret = envOr(clientSecret, "OAUTH2_FACEBOOK_CLIENT_SECRET")
	callbackUrl = envOr(callbackUrl, "OAUTH2_FACEBOOK_CALLBACK_URL")
	return &FacebookOAuth2{
		BaseOAuth2: NewBaseOAuth2(clientId, clientSecret, callbackUrl, facebook.Endpoint, "public_profile", "email"),
		GraphURL:   "https://graph.facebook.com/me",
	}
}

func (f *FacebookOAuth2) Name() string {
	return userauth.ProviderFacebook
}

// FetchProfile reads id, name, email and picture from the Graph API
func (f *FacebookOAuth2) FetchProfile(ctx context.Context, token *oauth2.Token) (*userauth.FederatedProfile, error) {
	u, err := url.Parse(f.GraphURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("fields", "id,name,email,picture")
	u.RawQuery = q.Encode()

	var info facebookUser
	if err := fetchJSON(ctx, f.getHTTPClient(), u.String(), token, &info); err != nil {
		slog.Info("error fetching facebook profile", "err", err)
		return nil, err
	}
	return &userauth.FederatedProfile{
		Provider:    userauth.ProviderFacebook,
		ID:          info.ID,
		Name:        info.Name,
		Email:       info.Email,
		AvatarURL:   info.Picture.Data.URL,
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
	}, nil
}
