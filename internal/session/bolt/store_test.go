package sessionbolt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
	sessionbolt "github.com/openkcm/inventory-client/internal/session/bolt"
)

func newTestStore(t *testing.T, path string) *sessionbolt.Store {
	t.Helper()
	store, err := sessionbolt.NewStoreFromFile(path, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t, filepath.Join(t.TempDir(), "session.db"))
	pair := session.CredentialPair{AccessToken: "access", RefreshToken: "refresh"}

	_, err := store.Get(ctx)
	require.ErrorIs(t, err, serviceerr.ErrNoSession)

	require.NoError(t, store.Set(ctx, pair))
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Get(ctx)
	require.ErrorIs(t, err, serviceerr.ErrNoSession)
	require.NoError(t, store.Clear(ctx))
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	pair := session.CredentialPair{AccessToken: "access", RefreshToken: "refresh"}

	first, err := sessionbolt.NewStoreFromFile(path, "", nil)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, pair))
	require.NoError(t, first.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second := newTestStore(t, path)
	got, err := second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)
}

func TestStore_RejectsHalfPair(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t, filepath.Join(t.TempDir(), "session.db"))

	err := store.Set(ctx, session.CredentialPair{RefreshToken: "refresh"})
	require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)
}

func TestStore_HalfStoredPair(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "session.db")

	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sessionbolt.DefaultBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(session.KeyAccessToken), []byte("access"))
	}))

	store := sessionbolt.NewStore(db, "")
	_, err = store.Get(ctx)
	require.ErrorIs(t, err, serviceerr.ErrIncompleteCredentials)
}
