package apitest

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/inventory-client/internal/config"
)

// APIConfig points a client at the backend. An empty googleIssuer leaves the default.
func (b *Backend) APIConfig(googleIssuer string) config.API {
	cfg := config.API{
		BaseURL:         b.APIURL(),
		TokenURL:        b.TokenURL(),
		CSRFPath:        "auth/csrf/",
		GoogleLoginPath: "auth/google/",
		GoogleIssuerURL: "https://accounts.google.com",
		ClientID:        commoncfg.SourceRef{Source: "embedded", Value: ClientID},
		ClientSecret:    commoncfg.SourceRef{Source: "embedded", Value: ClientSecret},
		Timeout:         5 * time.Second,
	}
	if googleIssuer != "" {
		cfg.GoogleIssuerURL = googleIssuer
	}

	return cfg
}

// HTTPClient returns a client with its own cookie jar, like a fresh browser.
func HTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}
