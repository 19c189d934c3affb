package identity_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/inventory-client/internal/apitest"
	"github.com/openkcm/inventory-client/internal/identity"
	"github.com/openkcm/inventory-client/internal/serviceerr"
)

const googleToken = "ya29.provider-token"

func googleUser() map[string]any {
	return map[string]any{
		"sub":            "1234567890",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
	}
}

func TestGoogleLogin(t *testing.T) {
	shapes := []struct {
		name  string
		shape apitest.GoogleShape
	}{
		{name: "oauth shape", shape: apitest.GoogleShapeOAuth},
		{name: "nested tokens shape", shape: apitest.GoogleShapeNested},
		{name: "jwt shape", shape: apitest.GoogleShapeJWT},
	}

	for _, tt := range shapes {
		t.Run(tt.name, func(t *testing.T) {
			provider := apitest.NewGoogleProvider(t)
			provider.AddUser(googleToken, googleUser())
			backend := apitest.NewBackend(t, apitest.WithGoogleToken(googleToken, tt.shape))
			client := newClient(t, backend, provider.URL)

			pair, err := client.GoogleLogin(t.Context(), googleToken)
			require.NoError(t, err)

			assert.True(t, pair.Complete())
			assert.True(t, backend.IsValidAccessToken(pair.AccessToken))
		})
	}
}

func TestGoogleLoginSendsProfileAndCSRF(t *testing.T) {
	provider := apitest.NewGoogleProvider(t)
	provider.AddUser(googleToken, googleUser())
	backend := apitest.NewBackend(t, apitest.WithGoogleToken(googleToken, apitest.GoogleShapeOAuth))
	client := newClient(t, backend, provider.URL)

	_, err := client.GoogleLogin(t.Context(), googleToken)
	require.NoError(t, err)

	var login apitest.RecordedRequest
	for _, r := range backend.Requests() {
		if r.Path == "/api/auth/google/" {
			login = r
		}
	}
	assert.Equal(t, backend.LastCSRFToken(), login.CSRFToken)

	var body struct {
		AccessToken string         `json:"access_token"`
		UserData    map[string]any `json:"user_data"`
	}
	require.NoError(t, json.Unmarshal(login.Body, &body))
	assert.Equal(t, googleToken, body.AccessToken)
	assert.Equal(t, "alice@example.com", body.UserData["email"])
}

func TestGoogleLoginCachesProvider(t *testing.T) {
	provider := apitest.NewGoogleProvider(t)
	provider.AddUser(googleToken, googleUser())
	backend := apitest.NewBackend(t, apitest.WithGoogleToken(googleToken, apitest.GoogleShapeOAuth))
	client := newClient(t, backend, provider.URL)

	for range 2 {
		_, err := client.GoogleLogin(t.Context(), googleToken)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, provider.Discoveries())
	assert.Equal(t, 2, provider.UserInfoCalls())
}

func TestGoogleLoginFailures(t *testing.T) {
	t.Run("provider rejects the token", func(t *testing.T) {
		provider := apitest.NewGoogleProvider(t)
		backend := apitest.NewBackend(t, apitest.WithGoogleToken(googleToken, apitest.GoogleShapeOAuth))
		client := newClient(t, backend, provider.URL)

		_, err := client.GoogleLogin(t.Context(), googleToken)
		assert.ErrorIs(t, err, identity.ErrProviderUserInfo)
		assert.ErrorIs(t, err, serviceerr.ErrValidationFailure)
		assert.Zero(t, backend.Count("POST", "/api/auth/google/"))
	})

	t.Run("backend does not know the token", func(t *testing.T) {
		provider := apitest.NewGoogleProvider(t)
		provider.AddUser(googleToken, googleUser())
		backend := apitest.NewBackend(t)
		client := newClient(t, backend, provider.URL)

		_, err := client.GoogleLogin(t.Context(), googleToken)
		assert.ErrorIs(t, err, serviceerr.ErrValidationFailure)
	})

	t.Run("response without refresh token", func(t *testing.T) {
		provider := apitest.NewGoogleProvider(t)
		provider.AddUser(googleToken, googleUser())
		backend := apitest.NewBackend(t,
			apitest.WithGoogleToken(googleToken, apitest.GoogleShapeJWT),
			apitest.WithoutRefreshToken())
		client := newClient(t, backend, provider.URL)

		pair, err := client.GoogleLogin(t.Context(), googleToken)
		assert.ErrorIs(t, err, serviceerr.ErrAuthTerminal)
		assert.ErrorIs(t, err, identity.ErrMissingRefreshToken)
		assert.True(t, pair.Empty())
	})

	t.Run("unreachable provider", func(t *testing.T) {
		provider := apitest.NewGoogleProvider(t)
		backend := apitest.NewBackend(t)
		client := newClient(t, backend, provider.URL)
		provider.Close()

		_, err := client.GoogleLogin(t.Context(), googleToken)
		assert.ErrorIs(t, err, identity.ErrProviderDiscovery)
		assert.ErrorIs(t, err, serviceerr.ErrNetworkFailure)
	})
}
