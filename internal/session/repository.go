package session

import (
	"context"
	"errors"

	"github.com/openkcm/inventory-client/internal/serviceerr"
)

// Store holds the credential pair of the current user.
// Writes are last-write-wins; implementations do not coordinate concurrent refreshes.
type Store interface {
	// Set writes both tokens. A pair with an empty token is rejected.
	Set(ctx context.Context, pair CredentialPair) error
	// Get returns the stored pair, or an error matching serviceerr.ErrNoSession when
	// either token is missing. A half stored pair also matches serviceerr.ErrIncompleteCredentials.
	Get(ctx context.Context) (CredentialPair, error)
	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// IsPresent reports whether the store holds credentials.
func IsPresent(ctx context.Context, s Store) bool {
	_, err := s.Get(ctx)
	return err == nil
}

// Validate rejects a pair that would break the both-or-neither invariant.
func Validate(pair CredentialPair) error {
	if !pair.Complete() {
		return serviceerr.ErrIncompleteCredentials
	}

	return nil
}

// PairFromValues builds the result of Store.Get from the raw stored values.
func PairFromValues(accessToken, refreshToken string) (CredentialPair, error) {
	pair := CredentialPair{AccessToken: accessToken, RefreshToken: refreshToken}
	switch {
	case pair.Complete():
		return pair, nil
	case pair.Empty():
		return CredentialPair{}, serviceerr.ErrNoSession
	default:
		return CredentialPair{}, errors.Join(serviceerr.ErrNoSession, serviceerr.ErrIncompleteCredentials)
	}
}
