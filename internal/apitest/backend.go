// Package apitest provides an in-process fake of the inventory backend: the OAuth token
// endpoint, the CSRF and Google login endpoints and the items resource. Tests drive the real
// client against it and inspect what arrived.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	ClientID     = "inventory-web"
	ClientSecret = "inventory-secret" // NOSONAR

	csrfCookieName = "csrftoken"
	csrfHeader     = "X-CSRFToken"
)

// GoogleShape selects which of the backend's response shapes /api/auth/google/ answers with.
type GoogleShape int

const (
	GoogleShapeOAuth  GoogleShape = iota // {access_token, refresh_token}
	GoogleShapeNested                    // {user, tokens: {access, refresh}}
	GoogleShapeJWT                       // {access, refresh}
)

type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecordedRequest is what the backend saw of one request.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	CSRFToken     string
	Body          []byte
}

type Option func(*Backend)

type Backend struct {
	*httptest.Server

	mu sync.Mutex

	users         map[string]string
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	googleTokens  map[string]bool
	googleShape   GoogleShape
	omitRefresh   bool
	rejectRefresh bool

	refreshDelay time.Duration
	itemsBarrier *barrier
	itemFailures []int

	csrfKey        []byte
	lastCSRFToken  string
	items          map[int64]Item
	nextID         int64
	requests       []RecordedRequest
	tokenCounter   int
	refreshGrants  int
	passwordGrants int
}

func WithUser(username, password string) Option {
	return func(b *Backend) { b.users[username] = password }
}

// WithGoogleToken makes the Google login endpoint accept the provider token.
func WithGoogleToken(token string, shape GoogleShape) Option {
	return func(b *Backend) {
		b.googleTokens[token] = true
		b.googleShape = shape
	}
}

// WithoutRefreshToken makes every login response omit the refresh token.
func WithoutRefreshToken() Option {
	return func(b *Backend) { b.omitRefresh = true }
}

// WithRefreshDelay holds every refresh grant for d before answering.
func WithRefreshDelay(d time.Duration) Option {
	return func(b *Backend) { b.refreshDelay = d }
}

// WithItemsBarrier holds item requests until n of them have arrived.
func WithItemsBarrier(n int) Option {
	return func(b *Backend) { b.itemsBarrier = newBarrier(n) }
}

func WithItem(item Item) Option {
	return func(b *Backend) {
		if item.ID == 0 {
			b.nextID++
			item.ID = b.nextID
		}
		b.nextID = max(b.nextID, item.ID)
		b.items[item.ID] = item
	}
}

// NewBackend starts the fake backend. It is closed through t.Cleanup.
func NewBackend(t testing.TB, opts ...Option) *Backend {
	t.Helper()

	b := &Backend{
		users:         make(map[string]string),
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]bool),
		googleTokens:  make(map[string]bool),
		csrfKey:       []byte(randomString()),
		items:         make(map[int64]Item),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /o/token/", b.handleToken)
	mux.HandleFunc("GET /api/auth/csrf/", b.handleCSRF)
	mux.HandleFunc("POST /api/auth/google/", b.handleGoogle)
	mux.HandleFunc("GET /api/items/", b.authenticated(b.handleListItems))
	mux.HandleFunc("POST /api/items/", b.authenticated(b.handleCreateItem))
	mux.HandleFunc("GET /api/items/{id}/", b.authenticated(b.handleGetItem))
	mux.HandleFunc("PUT /api/items/{id}/", b.authenticated(b.handleUpdateItem))
	mux.HandleFunc("DELETE /api/items/{id}/", b.authenticated(b.handleDeleteItem))

	b.Server = httptest.NewServer(b.record(mux))
	t.Cleanup(b.Close)

	return b
}

func (b *Backend) APIURL() string   { return b.URL + "/api" }
func (b *Backend) TokenURL() string { return b.URL + "/o/token/" }

// IssuePair mints a valid credential pair without a login round trip.
func (b *Backend) IssuePair() (accessToken, refreshToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issuePairLocked()
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.accessTokens)
}

// RejectRefresh makes every refresh grant fail with invalid_grant.
func (b *Backend) RejectRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectRefresh = true
}

// FailItemRequests answers the next item requests with the given statuses, one per request.
func (b *Backend) FailItemRequests(statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.itemFailures = append(b.itemFailures, statuses...)
}

func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.requests)
}

// Count returns how many requests matched the method and path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (b *Backend) RefreshGrants() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshGrants
}

func (b *Backend) PasswordGrants() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passwordGrants
}

func (b *Backend) LastCSRFToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCSRFToken
}

func (b *Backend) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedItemsLocked()
}

// IsValidAccessToken reports whether the backend would accept the token.
func (b *Backend) IsValidAccessToken(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessTokens[token]
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := readBody(r)
		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			CSRFToken:     r.Header.Get(csrfHeader),
			Body:          body,
		})
		b.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (b *Backend) issuePairLocked() (string, string) {
	b.tokenCounter++
	access := "access-" + strconv.Itoa(b.tokenCounter) + "-" + randomString()
	refresh := "refresh-" + strconv.Itoa(b.tokenCounter) + "-" + randomString()
	b.accessTokens[access] = true
	b.refreshTokens[refresh] = true
	return access, refresh
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		b.handlePasswordGrant(w, r)
	case "refresh_token":
		b.handleRefreshGrant(w, r)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (b *Backend) handlePasswordGrant(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.passwordGrants++

	password, ok := b.users[r.PostForm.Get("username")]
	if !ok || password != r.PostForm.Get("password") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid credentials given.",
		})
		return
	}

	access, refresh := b.issuePairLocked()
	b.writeTokenLocked(w, access, refresh)
}

func (b *Backend) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.refreshGrants++
	delay := b.refreshDelay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	token := r.PostForm.Get("refresh_token")
	if b.rejectRefresh || !b.refreshTokens[token] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	// refresh tokens rotate
	delete(b.refreshTokens, token)
	access, refresh := b.issuePairLocked()
	b.writeTokenLocked(w, access, refresh)
}

func (b *Backend) writeTokenLocked(w http.ResponseWriter, access, refresh string) {
	resp := map[string]any{
		"access_token": access,
		"expires_in":   36000,
		"token_type":   "Bearer",
		"scope":        "read write",
	}
	if !b.omitRefresh {
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleCSRF(w http.ResponseWriter, r *http.Request) {
	cookie := ""
	if c, err := r.Cookie(csrfCookieName); err == nil {
		cookie = c.Value
	}
	if cookie == "" {
		cookie = randomString()
		http.SetCookie(w, &http.Cookie{Name: csrfCookieName, Value: cookie, Path: "/"})
	}

	token := newCSRFToken(cookie, b.csrfKey)

	b.mu.Lock()
	b.lastCSRFToken = token
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (b *Backend) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	cookie := ""
	if c, err := r.Cookie(csrfCookieName); err == nil {
		cookie = c.Value
	}
	if !validCSRFToken(r.Header.Get(csrfHeader), cookie, b.csrfKey) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF Failed: CSRF token missing or incorrect."})
		return false
	}
	return true
}

func (b *Backend) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if !b.checkCSRF(w, r) {
		return
	}

	var req struct {
		AccessToken string         `json:"access_token"`
		UserData    map[string]any `json:"user_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No access token provided"})
		return
	}
	email, _ := req.UserData["email"].(string)
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not get user email"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.googleTokens[req.AccessToken] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to verify token with Google"})
		return
	}

	access, refresh := b.issuePairLocked()
	if b.omitRefresh {
		refresh = ""
	}
	user := map[string]string{"email": email, "username": strings.Split(email, "@")[0]}

	switch b.googleShape {
	case GoogleShapeNested:
		writeJSON(w, http.StatusOK, map[string]any{
			"user":   user,
			"tokens": map[string]string{"access": access, "refresh": refresh},
		})
	case GoogleShapeJWT:
		writeJSON(w, http.StatusOK, map[string]any{"access": access, "refresh": refresh})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"user":          user,
			"access_token":  access,
			"refresh_token": refresh,
		})
	}
}

func (b *Backend) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if b.itemsBarrier != nil {
			b.itemsBarrier.wait()
		}

		b.mu.Lock()
		var failure int
		if len(b.itemFailures) > 0 {
			failure = b.itemFailures[0]
			b.itemFailures = b.itemFailures[1:]
		}
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		valid := b.accessTokens[token]
		b.mu.Unlock()

		if failure != 0 {
			writeJSON(w, failure, map[string]string{"detail": http.StatusText(failure)})
			return
		}
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		if r.Method != http.MethodGet && !b.checkCSRF(w, r) {
			return
		}

		next(w, r)
	}
}

type itemInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

func (in itemInput) validate() map[string][]string {
	errs := map[string][]string{}
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = []string{"This field may not be blank."}
	}
	if _, err := strconv.ParseFloat(in.Price, 64); err != nil {
		errs["price"] = []string{"A valid number is required."}
	}
	return errs
}

func decodeItemInput(w http.ResponseWriter, r *http.Request) (itemInput, bool) {
	var in itemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return itemInput{}, false
	}
	if errs := in.validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return itemInput{}, false
	}
	return in, true
}

func (b *Backend) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No Item matches the given query."})
		return 0, false
	}

	b.mu.Lock()
	_, ok := b.items[id]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No Item matches the given query."})
		return 0, false
	}
	return id, true
}

func (b *Backend) sortedItemsLocked() []Item {
	items := make([]Item, 0, len(b.items))
	for _, item := range b.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, c Item) int { return int(a.ID - c.ID) })
	return items
}

func (b *Backend) handleListItems(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	items := b.sortedItemsLocked()
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, items)
}

func (b *Backend) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := b.itemID(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	item := b.items[id]
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, item)
}

func (b *Backend) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeItemInput(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	b.nextID++
	now := time.Now().UTC().Truncate(time.Second)
	item := Item{
		ID:          b.nextID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.items[item.ID] = item
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, item)
}

func (b *Backend) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := b.itemID(w, r)
	if !ok {
		return
	}
	in, ok := decodeItemInput(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	item := b.items[id]
	item.Name = in.Name
	item.Description = in.Description
	item.Price = in.Price
	item.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	b.items[id] = item
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, item)
}

func (b *Backend) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := b.itemID(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	delete(b.items, id)
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
