package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/openkcm/inventory-client/internal/serviceerr"
)

var displayAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// Status describes the stored session. Claims are read from the access token without
// verifying it and are only shown, never acted on.
type Status struct {
	LoggedIn  bool       `json:"logged_in" yaml:"logged_in"`
	View      string     `json:"view" yaml:"view"`
	Store     string     `json:"store" yaml:"store"`
	Subject   string     `json:"subject,omitempty" yaml:"subject,omitempty"`
	Issuer    string     `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty" yaml:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

func (a *App) Status(ctx context.Context) (Status, error) {
	status := Status{
		View:  a.Route(ctx).String(),
		Store: string(a.cfg.Session.Store),
	}

	pair, err := a.store.Get(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrNoSession):
		return status, nil
	case err != nil:
		return Status{}, fmt.Errorf("reading session: %w", err)
	}

	status.LoggedIn = true

	claims, ok := accessTokenClaims(pair.AccessToken)
	if !ok {
		return status, nil
	}
	status.Subject = claims.Subject
	status.Issuer = claims.Issuer
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time()
		status.IssuedAt = &t
	}
	if claims.Expiry != nil {
		t := claims.Expiry.Time()
		status.ExpiresAt = &t
	}

	return status, nil
}

// accessTokenClaims returns the registered claims of a JWT access token.
// Opaque tokens report false.
func accessTokenClaims(accessToken string) (jwt.Claims, bool) {
	token, err := jwt.ParseSigned(accessToken, displayAlgorithms)
	if err != nil {
		return jwt.Claims{}, false
	}

	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return jwt.Claims{}, false
	}

	return claims, true
}
