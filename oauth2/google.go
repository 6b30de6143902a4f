package oauth2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/panyam/userauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// Endpoint overrides the Google API base URL. Used for testing.
	Endpoint string
}

// NewGoogleOAuth2 creates the Google provider. Empty arguments fall back to
// OAUTH2_GOOGLE_CLIENT_ID, OAUTH2_GOOGLE_CLIENT_SECRET and OAUTH2_GOOGLE_CALLBACK_URL.
func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string) *GoogleOAuth2 {
	clientId = envOr(clientId, "OAUTH2_GOOGLE_CLIENT_ID")
	clientSecret = envOr(clientSecret, "OAUTH2_GOOGLE_CLIENT_SECRET")
	callbackUrl = envOr(callbackUrl, "OAUTH2_GOOGLE_CALLBACK_URL")
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(clientId, clientSecret, callbackUrl, google.Endpoint,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		),
	}
}

func (g *GoogleOAuth2) Name() string {
	return userauth.ProviderGoogle
}

// FetchProfile calls the userinfo endpoint through the generated oauth2/v2 client
func (g *GoogleOAuth2) FetchProfile(ctx context.Context, token *oauth2.Token) (*userauth.FederatedProfile, error) {
	client := oauth2.NewClient(g.exchangeContext(ctx), oauth2.StaticTokenSource(token))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		slog.Info("error fetching google profile", "err", err)
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	return &userauth.FederatedProfile{
		Provider:    userauth.ProviderGoogle,
		ID:          info.Id,
		Name:        info.Name,
		Email:       info.Email,
		AvatarURL:   info.Picture,
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
	}, nil
}
