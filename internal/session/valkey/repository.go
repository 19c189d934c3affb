package sessionvalkey

import (
	"context"
	"errors"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/inventory-client/internal/session"
)

type ObjectType string

const objectTypeSession ObjectType = "session"

var (
	ErrGetSession   = errors.New("getting session from store")
	ErrStoreSession = errors.New("setting session into storage")
	ErrClearSession = errors.New("deleting session from store")
)

// Repository keeps the credential pair in valkey under
// <prefix>:session:access_token and <prefix>:session:refresh_token.
type Repository struct {
	store *store
}

var _ = session.Store(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) Set(ctx context.Context, pair session.CredentialPair) error {
	if err := session.Validate(pair); err != nil {
		return err
	}

	values := map[string]any{
		r.accessKey():  pair.AccessToken,
		r.refreshKey(): pair.RefreshToken,
	}
	if err := r.store.setAll(ctx, values); err != nil {
		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context) (session.CredentialPair, error) {
	values, err := r.store.getAll(ctx, r.accessKey(), r.refreshKey())
	if err != nil {
		return session.CredentialPair{}, errors.Join(ErrGetSession, err)
	}

	tokens := make([]string, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		if err := r.store.decode(value, &tokens[i]); err != nil {
			return session.CredentialPair{}, errors.Join(ErrGetSession, err)
		}
	}

	return session.PairFromValues(tokens[0], tokens[1])
}

func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.destroy(ctx, r.accessKey(), r.refreshKey()); err != nil {
		return errors.Join(ErrClearSession, err)
	}

	return nil
}

func (r *Repository) accessKey() string {
	return r.store.key(objectTypeSession, session.KeyAccessToken)
}

func (r *Repository) refreshKey() string {
	return r.store.key(objectTypeSession, session.KeyRefreshToken)
}
