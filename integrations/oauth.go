package integrations

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// OAuthClient exchanges a user's long-lived refresh credential for short-lived
// access tokens on demand. It holds only the application's OAuth client
// configuration and never persists any per-user state.
type OAuthClient struct {
	cfg *oauth2.Config
}

func NewOAuthClient() (*OAuthClient, error) {
	clientID := viper.GetString("google.client_id")
	clientSecret := viper.GetString("google.client_secret")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google.client_id and google.client_secret must be configured")
	}

	return &OAuthClient{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  viper.GetString("google.redirect_uri"),
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		},
	}, nil
}

// AuthURL returns the consent-screen URL for linking a Google account.
// access_type=offline with a forced consent prompt is required to be issued
// a refresh token rather than only an access token.
func (o *OAuthClient) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange swaps an authorization code for tokens.
func (o *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
	}
	return tok, nil
}

// TokenSource builds a self-refreshing token source from a stored refresh
// token. Refresh failures surface on first use as *oauth2.RetrieveError.
func (o *OAuthClient) TokenSource(ctx context.Context, refreshToken string) oauth2.TokenSource {
	return o.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}
