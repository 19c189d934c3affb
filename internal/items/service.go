// Package items is the item catalogue of the backend, accessed through the dispatcher.
package items

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/inventory-client/internal/config"
	"github.com/openkcm/inventory-client/internal/dispatch"
	"github.com/openkcm/inventory-client/internal/serviceerr"
)

// CollectionPath is the items collection below the API base URL.
const CollectionPath = "items/"

const cacheKeyItems = "items"

var ErrInvalidID = errors.New("item id must be positive")

type Item struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	// Price is a decimal kept as the backend formats it.
	Price     string    `json:"price" yaml:"price"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Input is the writable part of an item. It is sent as given.
type Input struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// Sender dispatches authenticated requests.
type Sender interface {
	Send(ctx context.Context, req *dispatch.Request) (*dispatch.Response, error)
}

type Service struct {
	sender     Sender
	cache      *cache.Cache
	caching    bool
	retryDelay time.Duration
}

// NewService creates the service. A zero cache TTL disables the list cache.
func NewService(cfg *config.Items, sender Sender) *Service {
	return &Service{
		sender:     sender,
		cache:      cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		caching:    cfg.CacheTTL > 0,
		retryDelay: cfg.RetryDelay,
	}
}

// List returns all items. A cached list is served until it expires or a mutation succeeds.
// A failed fetch is retried once after the retry delay unless it failed on authentication.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	if cached, ok := s.cache.Get(cacheKeyItems); s.caching && ok {
		//nolint:forcetypeassert
		return slices.Clone(cached.([]Item)), nil
	}

	var items []Item
	operation := func() error {
		resp, err := s.sender.Send(ctx, &dispatch.Request{Method: http.MethodGet, Path: CollectionPath})
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}
			slogctx.Debug(ctx, "Listing items failed", "error", err)
			return err
		}

		items = nil
		return resp.Decode(&items)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	if items == nil {
		items = []Item{}
	}
	if s.caching {
		s.cache.SetDefault(cacheKeyItems, slices.Clone(items))
	}

	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	path, err := itemPath(id)
	if err != nil {
		return Item{}, err
	}

	resp, err := s.sender.Send(ctx, &dispatch.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return Item{}, fmt.Errorf("getting item %d: %w", id, err)
	}

	var item Item
	if err := resp.Decode(&item); err != nil {
		return Item{}, err
	}

	return item, nil
}

func (s *Service) Create(ctx context.Context, in Input) (Item, error) {
	req, err := dispatch.NewJSONRequest(http.MethodPost, CollectionPath, in)
	if err != nil {
		return Item{}, err
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return Item{}, fmt.Errorf("creating item: %w", err)
	}
	s.invalidate(ctx)

	var item Item
	if err := resp.Decode(&item); err != nil {
		return Item{}, err
	}

	return item, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Item, error) {
	path, err := itemPath(id)
	if err != nil {
		return Item{}, err
	}

	req, err := dispatch.NewJSONRequest(http.MethodPut, path, in)
	if err != nil {
		return Item{}, err
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return Item{}, fmt.Errorf("updating item %d: %w", id, err)
	}
	s.invalidate(ctx)

	var item Item
	if err := resp.Decode(&item); err != nil {
		return Item{}, err
	}

	return item, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	path, err := itemPath(id)
	if err != nil {
		return err
	}

	if _, err := s.sender.Send(ctx, &dispatch.Request{Method: http.MethodDelete, Path: path}); err != nil {
		return fmt.Errorf("deleting item %d: %w", id, err)
	}
	s.invalidate(ctx)

	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	s.cache.Delete(cacheKeyItems)
	slogctx.Debug(ctx, "Items cache invalidated")
}

func itemPath(id int64) (string, error) {
	if id <= 0 {
		return "", fmt.Errorf("%w: %w: %d", serviceerr.ErrValidationFailure, ErrInvalidID, id)
	}

	return CollectionPath + strconv.FormatInt(id, 10) + "/", nil
}

func isAuthError(err error) bool {
	return errors.Is(err, serviceerr.ErrAuthExpired) || errors.Is(err, serviceerr.ErrAuthTerminal)
}
