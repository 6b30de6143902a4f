package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// BaseOAuth2 holds what every provider shares: the oauth2 config and the HTTP client
// used for the code exchange and the profile fetch.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// HTTPClient is used for token exchange and profile requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
}

func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// Config exposes the underlying oauth2 config, mainly so tests can point it at a fake provider
func (b *BaseOAuth2) Config() *oauth2.Config {
	return &b.oauthConfig
}

// ConsentURL returns the provider authorization URL carrying state
func (b *BaseOAuth2) ConsentURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a token
func (b *BaseOAuth2) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return b.oauthConfig.Exchange(b.exchangeContext(ctx), code)
}

func (b *BaseOAuth2) exchangeContext(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// envOr returns value, or the trimmed environment variable named key when value is empty
func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv(key))
}
