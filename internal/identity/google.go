package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-viper/mapstructure/v2"
	"github.com/patrickmn/go-cache"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/oauth2"

	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
)

var (
	ErrProviderDiscovery = errors.New("failed to discover identity provider")
	ErrProviderUserInfo  = errors.New("failed to get user info from identity provider")
)

// googleLoginResponse covers the three shapes the Google login endpoint answers with:
// {access_token, refresh_token}, {tokens: {access, refresh}} and {access, refresh}.
type googleLoginResponse struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`

	Access  string `mapstructure:"access"`
	Refresh string `mapstructure:"refresh"`

	Tokens struct {
		Access  string `mapstructure:"access"`
		Refresh string `mapstructure:"refresh"`
	} `mapstructure:"tokens"`
}

func (r googleLoginResponse) pair() session.CredentialPair {
	return session.CredentialPair{
		AccessToken:  firstNonEmpty(r.AccessToken, r.Tokens.Access, r.Access),
		RefreshToken: firstNonEmpty(r.RefreshToken, r.Tokens.Refresh, r.Refresh),
	}
}

// GoogleLogin trades a Google access token for a backend credential pair.
// The user's profile is read from the provider's userinfo endpoint and sent along.
func (c *Client) GoogleLogin(ctx context.Context, providerAccessToken string) (session.CredentialPair, error) {
	userData, err := c.googleUserInfo(ctx, providerAccessToken)
	if err != nil {
		return session.CredentialPair{}, err
	}

	csrfToken, err := c.CSRFToken(ctx)
	if err != nil {
		return session.CredentialPair{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"access_token": providerAccessToken,
		"user_data":    userData,
	})
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("encoding google login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.googleLoginURL, bytes.NewReader(payload))
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("creating google login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCSRFToken, csrfToken)

	var raw map[string]any
	if err := c.doJSON(req, &raw); err != nil {
		return session.CredentialPair{}, fmt.Errorf("google login: %w", err)
	}

	var resp googleLoginResponse
	if err := mapstructure.Decode(raw, &resp); err != nil {
		return session.CredentialPair{}, fmt.Errorf("%w: decoding google login response: %w", serviceerr.ErrServerFailure, err)
	}

	pair := resp.pair()
	if !pair.Complete() {
		return session.CredentialPair{}, fmt.Errorf("%w: %w", serviceerr.ErrAuthTerminal, ErrMissingRefreshToken)
	}

	slogctx.Debug(ctx, "Google login succeeded", "email", userData["email"])

	return pair, nil
}

func (c *Client) googleUserInfo(ctx context.Context, providerAccessToken string) (map[string]any, error) {
	provider, err := c.provider(ctx, c.googleIssuerURL)
	if err != nil {
		return nil, err
	}

	info, err := provider.UserInfo(oidc.ClientContext(ctx, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: providerAccessToken}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUserInfo, providerError(err))
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %w", ErrProviderUserInfo, err)
	}

	return claims, nil
}

func (c *Client) provider(ctx context.Context, issuerURL string) (*oidc.Provider, error) {
	const providerPrefix = "provider_"

	cacheKey := providerPrefix + issuerURL
	if cached, ok := c.providers.Get(cacheKey); ok {
		//nolint:forcetypeassert
		return cached.(*oidc.Provider), nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderDiscovery, providerError(err))
	}
	c.providers.Set(cacheKey, provider, cache.NoExpiration)

	return provider, nil
}

// providerError tells an unreachable provider apart from one that rejected the token.
func providerError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return transportError(err)
	}

	return fmt.Errorf("%w: %w", serviceerr.ErrValidationFailure, err)
}

func decodeJSON(body []byte, into any) error {
	if into == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("%w: decoding response: %w", serviceerr.ErrServerFailure, err)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
