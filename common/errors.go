// Package common holds the small set of types shared across vixy's
// packages: error kinds, JSON-RPC wire shapes, and the upstream topology
// loaded from configuration.
package common

import "fmt"

// BaseError is the shared shape for every error kind vixy returns to a
// caller that cares about more than error.Error(). Most errors never
// leave the package that produced them (§7 propagation policy); these
// are the few that are surfaced as HTTP status codes or WS upgrade
// refusals.
type BaseError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"cause,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *BaseError) Unwrap() error { return e.Cause }

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorWithStatusCode is implemented by error kinds that should be
// mirrored directly onto the HTTP response.
type ErrorWithStatusCode interface {
	ErrorStatusCode() int
}

// ErrNoHealthyUpstream means the selection policy found nothing to
// route to. 503 for HTTP, upgrade-refusal for WS (§7, §8).
type ErrNoHealthyUpstream struct{ BaseError }

func NewErrNoHealthyUpstream(kind string) error {
	return &ErrNoHealthyUpstream{BaseError{
		Code:    "ErrNoHealthyUpstream",
		Message: fmt.Sprintf("no healthy %s upstream available", kind),
	}}
}

func (e *ErrNoHealthyUpstream) ErrorStatusCode() int { return 503 }

// ErrUpstreamTimeout means the selected upstream did not respond within
// proxy_timeout_ms. 504.
type ErrUpstreamTimeout struct{ BaseError }

func NewErrUpstreamTimeout(upstream string, cause error) error {
	return &ErrUpstreamTimeout{BaseError{
		Code:    "ErrUpstreamTimeout",
		Message: fmt.Sprintf("upstream %q timed out", upstream),
		Cause:   cause,
	}}
}

func (e *ErrUpstreamTimeout) ErrorStatusCode() int { return 504 }

// ErrUpstreamUnavailable means the selected upstream could not be
// reached at the transport level. 502.
type ErrUpstreamUnavailable struct{ BaseError }

func NewErrUpstreamUnavailable(upstream string, cause error) error {
	return &ErrUpstreamUnavailable{BaseError{
		Code:    "ErrUpstreamUnavailable",
		Message: fmt.Sprintf("upstream %q unreachable", upstream),
		Cause:   cause,
	}}
}

func (e *ErrUpstreamUnavailable) ErrorStatusCode() int { return 502 }

// ErrBadRequestBody means the client's request body could not be read.
// 400, and per §7 this is not logged as an error.
type ErrBadRequestBody struct{ BaseError }

func NewErrBadRequestBody(cause error) error {
	return &ErrBadRequestBody{BaseError{
		Code:    "ErrBadRequestBody",
		Message: "request body could not be read",
		Cause:   cause,
	}}
}

func (e *ErrBadRequestBody) ErrorStatusCode() int { return 400 }

// ErrConfigInvalid is returned by config loading/validation; it is never
// an HTTP-surfaced error, it aborts startup (§7).
type ErrConfigInvalid struct{ BaseError }

func NewErrConfigInvalid(reason string, cause error) error {
	return &ErrConfigInvalid{BaseError{
		Code:    "ErrConfigInvalid",
		Message: reason,
		Cause:   cause,
	}}
}
