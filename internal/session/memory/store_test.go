package sessionmemory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
	sessionmemory "github.com/openkcm/inventory-client/internal/session/memory"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	store := sessionmemory.NewStore()
	pair := session.CredentialPair{AccessToken: "access", RefreshToken: "refresh"}

	require.NoError(t, store.Set(ctx, pair))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)
	assert.True(t, session.IsPresent(ctx, store))

	require.NoError(t, store.Clear(ctx))

	_, err = store.Get(ctx)
	require.ErrorIs(t, err, serviceerr.ErrNoSession)
	assert.False(t, session.IsPresent(ctx, store))

	// idempotent
	require.NoError(t, store.Clear(ctx))
}

func TestStore_LastWriteWins(t *testing.T) {
	ctx := t.Context()
	store := sessionmemory.NewStore()

	require.NoError(t, store.Set(ctx, session.CredentialPair{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, store.Set(ctx, session.CredentialPair{AccessToken: "a2", RefreshToken: "r2"}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.CredentialPair{AccessToken: "a2", RefreshToken: "r2"}, got)
}

func TestStore_RejectsHalfPair(t *testing.T) {
	ctx := t.Context()
	store := sessionmemory.NewStore()

	err := store.Set(ctx, session.CredentialPair{AccessToken: "access"})
	require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)

	access, refresh := store.Raw()
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestStore_HalfPairReadsAsAbsent(t *testing.T) {
	ctx := t.Context()
	store := sessionmemory.NewStore(sessionmemory.WithTokens("access", ""))

	_, err := store.Get(ctx)
	require.ErrorIs(t, err, serviceerr.ErrNoSession)
	require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)
	assert.False(t, session.IsPresent(ctx, store))
}

func TestStore_InjectedErrors(t *testing.T) {
	ctx := t.Context()
	boom := errors.New("boom")
	store := sessionmemory.NewStore(
		sessionmemory.WithSetError(boom),
		sessionmemory.WithGetError(boom),
		sessionmemory.WithClearError(boom),
	)

	require.ErrorIs(t, store.Set(ctx, session.CredentialPair{AccessToken: "a", RefreshToken: "r"}), boom)
	_, err := store.Get(ctx)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, store.Clear(ctx), boom)
}
