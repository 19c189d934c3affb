package serviceerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type Code string

const (
	// Transport level failure, never retried by the dispatcher.
	CodeNetworkFailure Code = "network_failure"
	// 401 from the backend, triggers the refresh-and-retry cycle.
	CodeAuthExpired Code = "auth_expired"
	// Refresh failed or was impossible, the session has been torn down.
	CodeAuthTerminal Code = "auth_terminal"
	// 4xx other than 401.
	CodeValidationFailure Code = "validation_failure"
	// 5xx.
	CodeServerFailure Code = "server_failure"

	CodeNotFound              Code = "not_found"
	CodeNoSession             Code = "no_session"
	CodeIncompleteCredentials Code = "incomplete_credentials"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

var (
	ErrNetworkFailure    = &Error{Err: CodeNetworkFailure, Description: "backend unreachable"}
	ErrAuthExpired       = &Error{Err: CodeAuthExpired, Description: "access token rejected"}
	ErrAuthTerminal      = &Error{Err: CodeAuthTerminal, Description: "session terminated, log in again"}
	ErrValidationFailure = &Error{Err: CodeValidationFailure, Description: "request rejected"}
	ErrServerFailure     = &Error{Err: CodeServerFailure, Description: "backend failure"}

	ErrNotFound              = &Error{Err: CodeNotFound, Description: "not found"}
	ErrNoSession             = &Error{Err: CodeNoSession, Description: "no credentials stored"}
	ErrIncompleteCredentials = &Error{Err: CodeIncompleteCredentials, Description: "access and refresh token must be stored together"}
)

// KindOf maps an HTTP status code onto the error taxonomy.
// It returns nil for 2xx codes.
func KindOf(statusCode int) *Error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case statusCode >= 400 && statusCode < 500:
		return ErrValidationFailure
	default:
		return ErrServerFailure
	}
}

// CodeOf returns the code of the first *Error found in err's tree.
func CodeOf(err error) (Code, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Err, true
	}

	return "", false
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func NewStatusError(statusCode int, body []byte) *StatusError {
	return &StatusError{StatusCode: statusCode, Body: body}
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("status %d", e.StatusCode)
	if kind := KindOf(e.StatusCode); kind != nil {
		msg = string(kind.Err) + ": " + msg
	}
	if detail := e.Detail(); detail != "" {
		msg += ": " + detail
	}

	return msg
}

func (e *StatusError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if kind := KindOf(e.StatusCode); kind != nil {
		errs = append(errs, kind)
	}
	if e.StatusCode == http.StatusNotFound {
		errs = append(errs, ErrNotFound)
	}

	return errs
}

// FieldErrors decodes a DRF style error body, e.g. {"price": ["A valid number is required."]}.
// Non-list values are reported under their key as a single message.
func (e *StatusError) FieldErrors() map[string][]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &raw); err != nil {
		return nil
	}

	fields := make(map[string][]string, len(raw))
	for key, value := range raw {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			fields[key] = list
			continue
		}

		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			fields[key] = []string{single}
		}
	}

	return fields
}

// Detail renders the field errors as one line, sorted by field name.
func (e *StatusError) Detail() string {
	fields := e.FieldErrors()
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+strings.Join(fields[key], " "))
	}

	return strings.Join(parts, "; ")
}
