// Package sessionbolt keeps the credential pair in a bbolt file so a session
// survives between runs of the client.
package sessionbolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/openkcm/inventory-client/internal/session"
)

const DefaultBucket = "session"

// Store implements session.Store backed by a bbolt database.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

var _ session.Store = (*Store)(nil)

// NewStore returns a Store using the given bucket of an open database.
func NewStore(db *bbolt.DB, bucket string) *Store {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Store{db: db, bucket: []byte(bucket)}
}

// NewStoreFromFile opens (or creates) the database at path. The file is only
// readable by the current user since the tokens are stored unencrypted.
func NewStoreFromFile(path, bucket string, options *bbolt.Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db, bucket), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Set(_ context.Context, pair session.CredentialPair) error {
	if err := session.Validate(pair); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		if err := b.Put([]byte(session.KeyAccessToken), []byte(pair.AccessToken)); err != nil {
			return fmt.Errorf("writing access token: %w", err)
		}
		if err := b.Put([]byte(session.KeyRefreshToken), []byte(pair.RefreshToken)); err != nil {
			return fmt.Errorf("writing refresh token: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(_ context.Context) (session.CredentialPair, error) {
	var accessToken, refreshToken string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		// values are only valid inside the transaction
		accessToken = string(b.Get([]byte(session.KeyAccessToken)))
		refreshToken = string(b.Get([]byte(session.KeyRefreshToken)))
		return nil
	})
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("reading session: %w", err)
	}

	return session.PairFromValues(accessToken, refreshToken)
}

func (s *Store) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(session.KeyAccessToken)); err != nil {
			return fmt.Errorf("deleting access token: %w", err)
		}
		if err := b.Delete([]byte(session.KeyRefreshToken)); err != nil {
			return fmt.Errorf("deleting refresh token: %w", err)
		}
		return nil
	})
}
