package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openkcm/inventory-client/internal/serviceerr"
)

// Request describes one call to the backend. It is never modified by the dispatcher,
// so a caller may send the same Request again.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. items/42/.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewJSONRequest encodes body as the JSON payload of a request.
func NewJSONRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path}
	if body == nil {
		return req, nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req.Body = payload

	return req, nil
}

// mutating reports whether the method needs a CSRF token.
func (r *Request) mutating() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	State      State
}

// Decode unmarshals a JSON body. An empty body leaves into untouched.
func (r *Response) Decode(into any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, into); err != nil {
		return fmt.Errorf("%w: decoding response: %w", serviceerr.ErrServerFailure, err)
	}

	return nil
}
