package apitest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// GoogleProvider fakes the discovery document and the userinfo endpoint of an OIDC issuer.
type GoogleProvider struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[string]map[string]any
	discoveries   int
	userinfoCalls int
}

// NewGoogleProvider starts the fake issuer. The issuer URL is the server URL.
func NewGoogleProvider(t testing.TB) *GoogleProvider {
	t.Helper()

	p := &GoogleProvider{users: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /userinfo", p.handleUserInfo)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)

	return p
}

// AddUser makes the provider accept token and answer userinfo with the given claims.
func (p *GoogleProvider) AddUser(token string, claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[token] = claims
}

func (p *GoogleProvider) Discoveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveries
}

func (p *GoogleProvider) UserInfoCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoCalls
}

func (p *GoogleProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.discoveries++
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.URL,
		"authorization_endpoint":                p.URL + "/auth",
		"token_endpoint":                        p.URL + "/token",
		"userinfo_endpoint":                     p.URL + "/userinfo",
		"jwks_uri":                              p.URL + "/certs",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *GoogleProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

	p.mu.Lock()
	p.userinfoCalls++
	claims, ok := p.users[token]
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
