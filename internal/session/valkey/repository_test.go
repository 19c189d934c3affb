package sessionvalkey

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/inventory-client/internal/dbtest/valkeytest"
	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
)

func TestNewStore(t *testing.T) {
	t.Run("trims trailing colon from prefix", func(t *testing.T) {
		store := newStore(nil, "test:prefix:")
		assert.Equal(t, "test:prefix", store.prefix)
	})

	t.Run("handles empty prefix", func(t *testing.T) {
		store := newStore(nil, "")
		assert.Empty(t, store.prefix)
	})
}

func TestRepositoryKeys(t *testing.T) {
	repo := NewRepository(nil, "inventory:")

	assert.Equal(t, "inventory:session:access_token", repo.accessKey())
	assert.Equal(t, "inventory:session:refresh_token", repo.refreshKey())
}

func TestStoreEncodeDecode(t *testing.T) {
	store := newStore(nil, "prefix")

	bytes, err := store.encode("token-value")
	require.NoError(t, err)
	assert.Equal(t, `"token-value"`, string(bytes))

	var decoded string
	require.NoError(t, store.decode(bytes, &decoded))
	assert.Equal(t, "token-value", decoded)

	err = store.decode([]byte(`{invalid json}`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling json")
}

func TestRepository(t *testing.T) {
	ctx := t.Context()
	valkeyClient := valkeytest.Start(t)

	// Use unique prefix for each test run
	prefix := "repo-test-" + strings.ReplaceAll(time.Now().Format("20060102150405.000"), ".", "-")
	repo := NewRepository(valkeyClient, prefix)

	t.Run("empty store reads as absent", func(t *testing.T) {
		_, err := repo.Get(ctx)
		require.ErrorIs(t, err, serviceerr.ErrNoSession)
		require.NotErrorIs(t, err, serviceerr.ErrIncompleteCredentials)
	})

	t.Run("set and get round trip", func(t *testing.T) {
		pair := session.CredentialPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
		require.NoError(t, repo.Set(ctx, pair))

		got, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, pair, got)
	})

	t.Run("overwrites existing pair", func(t *testing.T) {
		pair := session.CredentialPair{AccessToken: "access-2", RefreshToken: "refresh-2"}
		require.NoError(t, repo.Set(ctx, pair))

		got, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, pair, got)
	})

	t.Run("rejects a half pair", func(t *testing.T) {
		err := repo.Set(ctx, session.CredentialPair{AccessToken: "only-access"})
		require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)

		got, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access-2", got.AccessToken)
	})

	t.Run("reads both tokens from the same write", func(t *testing.T) {
		const generations = 200

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range generations {
				n := strconv.Itoa(i)
				if err := repo.Set(ctx, session.CredentialPair{AccessToken: "access-" + n, RefreshToken: "refresh-" + n}); err != nil {
					t.Errorf("set generation %d: %v", i, err)
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			default:
			}

			got, err := repo.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t,
				strings.TrimPrefix(got.AccessToken, "access-"),
				strings.TrimPrefix(got.RefreshToken, "refresh-"),
			)
		}
	})

	t.Run("half stored pair reads as incomplete", func(t *testing.T) {
		require.NoError(t, repo.store.destroy(ctx, repo.refreshKey()))

		_, err := repo.Get(ctx)
		require.ErrorIs(t, err, serviceerr.ErrNoSession)
		require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		require.NoError(t, repo.Clear(ctx))

		_, err := repo.Get(ctx)
		require.ErrorIs(t, err, serviceerr.ErrNoSession)
	})
}
