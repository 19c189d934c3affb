package items_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/inventory-client/internal/apitest"
	"github.com/openkcm/inventory-client/internal/config"
	"github.com/openkcm/inventory-client/internal/dispatch"
	"github.com/openkcm/inventory-client/internal/identity"
	"github.com/openkcm/inventory-client/internal/items"
	"github.com/openkcm/inventory-client/internal/serviceerr"
	sessionmemory "github.com/openkcm/inventory-client/internal/session/memory"
)

const (
	itemsPath  = "/api/items/"
	retryDelay = 20 * time.Millisecond
)

func newService(t *testing.T, loggedIn bool, opts ...apitest.Option) (*items.Service, *apitest.Backend) {
	t.Helper()

	backend := apitest.NewBackend(t, opts...)

	var storeOpts []sessionmemory.StoreOption
	if loggedIn {
		storeOpts = append(storeOpts, sessionmemory.WithTokens(backend.IssuePair()))
	}
	store := sessionmemory.NewStore(storeOpts...)

	httpClient := apitest.HTTPClient()
	apiCfg := backend.APIConfig("")
	idClient, err := identity.NewClient(&apiCfg, httpClient)
	require.NoError(t, err)

	dispatcher := dispatch.New(backend.APIURL(), httpClient, store, idClient)

	return items.NewService(&config.Items{CacheTTL: time.Minute, RetryDelay: retryDelay}, dispatcher), backend
}

func seeded() []apitest.Option {
	return []apitest.Option{
		apitest.WithItem(apitest.Item{ID: 1, Name: "Hammer", Description: "Claw hammer", Price: "12.50"}),
		apitest.WithItem(apitest.Item{ID: 2, Name: "Nails", Description: "Box of 100", Price: "3.99"}),
	}
}

func TestList(t *testing.T) {
	svc, backend := newService(t, true, seeded()...)

	got, err := svc.List(t.Context())
	require.NoError(t, err)

	want := []items.Item{
		{ID: 1, Name: "Hammer", Description: "Claw hammer", Price: "12.50"},
		{ID: 2, Name: "Nails", Description: "Box of 100", Price: "3.99"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(items.Item{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, backend.Count(http.MethodGet, itemsPath))
}

func TestListEmpty(t *testing.T) {
	svc, _ := newService(t, true)

	got, err := svc.List(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListIsCached(t *testing.T) {
	svc, backend := newService(t, true, seeded()...)

	for range 3 {
		got, err := svc.List(t.Context())
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}

	assert.Equal(t, 1, backend.Count(http.MethodGet, itemsPath))
}

func TestListCallerCannotChangeCache(t *testing.T) {
	svc, backend := newService(t, true, seeded()...)

	first, err := svc.List(t.Context())
	require.NoError(t, err)
	first[0].Name = "Changed"

	second, err := svc.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Hammer", second[0].Name)

	second[1].Price = "0.00"
	third, err := svc.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "3.99", third[1].Price)

	assert.Equal(t, 1, backend.Count(http.MethodGet, itemsPath))
}

func TestCacheDisabled(t *testing.T) {
	backend := apitest.NewBackend(t)
	store := sessionmemory.NewStore(sessionmemory.WithTokens(backend.IssuePair()))
	apiCfg := backend.APIConfig("")
	idClient, err := identity.NewClient(&apiCfg, apitest.HTTPClient())
	require.NoError(t, err)
	svc := items.NewService(&config.Items{}, dispatch.New(backend.APIURL(), idClient.HTTPClient(), store, idClient))

	for range 2 {
		_, err := svc.List(t.Context())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, backend.Count(http.MethodGet, itemsPath))
}

func TestMutationsInvalidateCache(t *testing.T) {
	svc, backend := newService(t, true, seeded()...)

	_, err := svc.List(t.Context())
	require.NoError(t, err)

	created, err := svc.Create(t.Context(), items.Input{Name: "Saw", Description: "Hand saw", Price: "19.00"})
	require.NoError(t, err)

	got, err := svc.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, backend.Count(http.MethodGet, itemsPath))

	_, err = svc.Update(t.Context(), created.ID, items.Input{Name: "Saw", Description: "Hand saw", Price: "17.00"})
	require.NoError(t, err)

	got, err = svc.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "17.00", got[2].Price)
	assert.Equal(t, 3, backend.Count(http.MethodGet, itemsPath))

	require.NoError(t, svc.Delete(t.Context(), created.ID))

	got, err = svc.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 4, backend.Count(http.MethodGet, itemsPath))
}

func TestFailedMutationKeepsCache(t *testing.T) {
	svc, backend := newService(t, true, seeded()...)

	_, err := svc.List(t.Context())
	require.NoError(t, err)

	_, err = svc.Create(t.Context(), items.Input{Name: "Saw", Price: "cheap"})
	require.Error(t, err)

	_, err = svc.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Count(http.MethodGet, itemsPath))
}

func TestListRetry(t *testing.T) {
	t.Run("one failure is retried after the delay", func(t *testing.T) {
		svc, backend := newService(t, true, seeded()...)
		backend.FailItemRequests(http.StatusInternalServerError)

		start := time.Now()
		got, err := svc.List(t.Context())
		require.NoError(t, err)

		assert.Len(t, got, 2)
		assert.GreaterOrEqual(t, time.Since(start), retryDelay)
		assert.Equal(t, 2, backend.Count(http.MethodGet, itemsPath))
	})

	t.Run("second failure is returned", func(t *testing.T) {
		svc, backend := newService(t, true, seeded()...)
		backend.FailItemRequests(http.StatusInternalServerError, http.StatusBadGateway)

		_, err := svc.List(t.Context())
		assert.ErrorIs(t, err, serviceerr.ErrServerFailure)
		assert.Equal(t, 2, backend.Count(http.MethodGet, itemsPath))
	})

	t.Run("auth failures are not retried", func(t *testing.T) {
		svc, backend := newService(t, false, seeded()...)

		_, err := svc.List(t.Context())
		assert.ErrorIs(t, err, serviceerr.ErrAuthTerminal)
		assert.Equal(t, 1, backend.Count(http.MethodGet, itemsPath))
	})
}

func TestCreate(t *testing.T) {
	svc, backend := newService(t, true)

	in := items.Input{Name: "Widget", Description: "A widget", Price: "9.99"}
	created, err := svc.Create(t.Context(), in)
	require.NoError(t, err)

	assert.Positive(t, created.ID)
	assert.Equal(t, in.Name, created.Name)
	assert.Equal(t, in.Price, created.Price)
	assert.False(t, created.CreatedAt.IsZero())

	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/auth/csrf/", reqs[0].Path)
	assert.Equal(t, backend.LastCSRFToken(), reqs[1].CSRFToken)
	assert.JSONEq(t, `{"name":"Widget","description":"A widget","price":"9.99"}`, string(reqs[1].Body))
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, true)

	_, err := svc.Create(t.Context(), items.Input{Name: "", Price: "abc"})
	assert.ErrorIs(t, err, serviceerr.ErrValidationFailure)

	var statusErr *serviceerr.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	fields := statusErr.FieldErrors()
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "price")
}

func TestGet(t *testing.T) {
	svc, _ := newService(t, true, seeded()...)

	item, err := svc.Get(t.Context(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Nails", item.Name)

	_, err = svc.Get(t.Context(), 42)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestInvalidID(t *testing.T) {
	svc, backend := newService(t, true)

	tests := []struct {
		name string
		call func() error
	}{
		{name: "get", call: func() error { _, err := svc.Get(t.Context(), 0); return err }},
		{name: "update", call: func() error { _, err := svc.Update(t.Context(), -1, items.Input{}); return err }},
		{name: "delete", call: func() error { return svc.Delete(t.Context(), 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, errors.Is(err, items.ErrInvalidID))
			assert.ErrorIs(t, err, serviceerr.ErrValidationFailure)
		})
	}

	assert.Empty(t, backend.Requests())
}

func TestDeleteMissing(t *testing.T) {
	svc, backend := newService(t, true)

	err := svc.Delete(t.Context(), 7)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	assert.Equal(t, 1, backend.Count(http.MethodDelete, "/api/items/7/"))
}
