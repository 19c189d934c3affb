package sessionmemory

import (
	"context"
	"sync"

	"github.com/openkcm/inventory-client/internal/session"
)

type StoreOption func(*Store)

// Store keeps the credential pair in process memory.
type Store struct {
	mu     sync.Mutex
	values map[string]string

	setErr, getErr, clearErr error
}

// WithTokens seeds the store with raw values. Unlike Set it accepts a half pair.
func WithTokens(accessToken, refreshToken string) StoreOption {
	return func(s *Store) {
		if accessToken != "" {
			s.values[session.KeyAccessToken] = accessToken
		}
		if refreshToken != "" {
			s.values[session.KeyRefreshToken] = refreshToken
		}
	}
}
func WithSetError(err error) StoreOption {
	return func(s *Store) { s.setErr = err }
}
func WithGetError(err error) StoreOption {
	return func(s *Store) { s.getErr = err }
}
func WithClearError(err error) StoreOption {
	return func(s *Store) { s.clearErr = err }
}

var _ = session.Store(&Store{})

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		values: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Set(_ context.Context, pair session.CredentialPair) error {
	if s.setErr != nil {
		return s.setErr
	}
	if err := session.Validate(pair); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[session.KeyAccessToken] = pair.AccessToken
	s.values[session.KeyRefreshToken] = pair.RefreshToken
	return nil
}

func (s *Store) Get(_ context.Context) (session.CredentialPair, error) {
	if s.getErr != nil {
		return session.CredentialPair{}, s.getErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return session.PairFromValues(s.values[session.KeyAccessToken], s.values[session.KeyRefreshToken])
}

func (s *Store) Clear(_ context.Context) error {
	if s.clearErr != nil {
		return s.clearErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, session.KeyAccessToken)
	delete(s.values, session.KeyRefreshToken)
	return nil
}

// Raw returns the stored values as they are, including a half pair.
func (s *Store) Raw() (accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[session.KeyAccessToken], s.values[session.KeyRefreshToken]
}
