package dispatch

import "net/http"

// State is where a request ended up in the dispatch lifecycle.
//
//	Unsent -> Sent -> Succeeded | FailedNonAuth | FailedAuthNoRetry
//	FailedAuthNoRetry -> RefreshInFlight -> RetriedSucceeded | RetriedFailed | TerminalAuthFailure
type State int

const (
	StateUnsent State = iota
	StateSent
	StateSucceeded
	StateFailedNonAuth
	StateFailedAuthNoRetry
	StateRefreshInFlight
	StateRetriedSucceeded
	StateRetriedFailed
	StateTerminalAuthFailure
)

func (s State) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateSent:
		return "sent"
	case StateSucceeded:
		return "succeeded"
	case StateFailedNonAuth:
		return "failed_non_auth"
	case StateFailedAuthNoRetry:
		return "failed_auth_no_retry"
	case StateRefreshInFlight:
		return "refresh_in_flight"
	case StateRetriedSucceeded:
		return "retried_succeeded"
	case StateRetriedFailed:
		return "retried_failed"
	case StateTerminalAuthFailure:
		return "terminal_auth_failure"
	default:
		return "unknown"
	}
}

// Decision is what the dispatcher does with a response.
type Decision int

const (
	Succeed Decision = iota
	Retry
	Propagate
)

func (d Decision) String() string {
	switch d {
	case Succeed:
		return "succeed"
	case Retry:
		return "retry"
	default:
		return "propagate"
	}
}

// Classify decides on a response status. Only a first 401 is retried.
func Classify(statusCode int, retried bool) Decision {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Succeed
	case statusCode == http.StatusUnauthorized && !retried:
		return Retry
	default:
		return Propagate
	}
}

// finalState maps a decision onto the terminal state of the attempt that produced it.
func finalState(decision Decision, retried bool) State {
	switch {
	case decision == Succeed && retried:
		return StateRetriedSucceeded
	case decision == Succeed:
		return StateSucceeded
	case retried:
		return StateRetriedFailed
	default:
		return StateFailedNonAuth
	}
}
