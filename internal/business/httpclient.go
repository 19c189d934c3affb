package business

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/inventory-client/internal/config"
)

const defaultUserAgent = "inventory-client"

// loadHTTPClient builds the client shared by every backend call. It keeps cookies like a
// browser would: the CSRF token only validates together with the csrftoken cookie.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	//nolint:forcetypeassert
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.API.MTLS != nil {
		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.API.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	userAgent := defaultUserAgent
	if cfg.Application.Name != "" {
		userAgent = cfg.Application.Name
	}

	return &http.Client{
		Jar:     jar,
		Timeout: cfg.API.Timeout,
		Transport: &userAgentRoundTripper{
			userAgent: userAgent,
			next:      transport,
		},
	}, nil
}

type userAgentRoundTripper struct {
	userAgent string
	next      http.RoundTripper
}

func (t *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)

	return t.next.RoundTrip(req)
}
