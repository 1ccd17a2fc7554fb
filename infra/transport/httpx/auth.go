package httpx

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig enables OAuth2 client-credentials authentication. Tokens are
// fetched from TokenURL and reused until they expire.
type AuthConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

func (c AuthConfig) enabled() bool { return c.ClientID != "" }

func (c AuthConfig) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}

// authorize wraps base so every request carries a bearer token. Token
// requests go through base as well.
func (c AuthConfig) authorize(base *http.Client) *http.Client {
	cc := c.toOauth2Config()
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout
	return client
}
