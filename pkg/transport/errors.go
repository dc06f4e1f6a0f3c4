package transport

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Category is the closed error taxonomy every raw provider error is
// classified into. Exactly one category applies per error; classification
// rules are ordered, first match wins (see Classify).
type Category string

// Category values.
const (
	CategoryRateLimit      Category = "rate_limit"
	CategoryAuth           Category = "auth"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryContextLength  Category = "context_length"
	CategoryContentFilter  Category = "content_filter"
	CategoryServerError    Category = "server_error"
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryOverloaded     Category = "overloaded"
	CategoryUnknown        Category = "unknown"
)

// Retryable reports whether errors of this category may be retried.
func (c Category) Retryable() bool {
	switch c {
	case CategoryRateLimit, CategoryOverloaded, CategoryServerError, CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

// Sentinel errors, one per taxonomy member, so callers can errors.Is against
// a category without inspecting *ProviderError fields.
var (
	ErrProviderAuth            = errors.New("provider authentication failed")
	ErrProviderRateLimit       = errors.New("provider rate limited")
	ErrProviderContextExceeded = errors.New("provider context length exceeded")
	ErrProviderContentFiltered = errors.New("provider content filtered")
	ErrProviderInvalidRequest  = errors.New("provider rejected request")
	ErrProviderOverloaded      = errors.New("provider overloaded")
	ErrProviderServer          = errors.New("provider server error")
	ErrProviderNetwork         = errors.New("provider network error")
	ErrProviderTimeout         = errors.New("provider timeout")
	ErrProviderUnknown         = errors.New("provider unknown error")
	ErrCircuitOpen             = errors.New("circuit open")
)

func (c Category) sentinel() error {
	switch c {
	case CategoryAuth:
		return ErrProviderAuth
	case CategoryRateLimit:
		return ErrProviderRateLimit
	case CategoryContextLength:
		return ErrProviderContextExceeded
	case CategoryContentFilter:
		return ErrProviderContentFiltered
	case CategoryInvalidRequest:
		return ErrProviderInvalidRequest
	case CategoryOverloaded:
		return ErrProviderOverloaded
	case CategoryServerError:
		return ErrProviderServer
	case CategoryNetwork:
		return ErrProviderNetwork
	case CategoryTimeout:
		return ErrProviderTimeout
	default:
		return ErrProviderUnknown
	}
}

// HTTPError is a raw transport error carrying an HTTP status. Provider
// implementations wrap their failures in this so Classify can apply the
// status-based rules before falling back to message matching.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %v", e.Status, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// ProviderError is a raw provider failure after classification. Callers
// outside the transport see only this canonical form.
type ProviderError struct {
	Provider   string
	Category   Category
	Status     int
	Message    string
	RetryAfter time.Duration // suggested wait for rate_limit, 0 if unknown
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the category's sentinel so errors.Is(err, ErrProviderTimeout)
// works without unwrapping into the raw cause.
func (e *ProviderError) Is(target error) bool { return target == e.Category.sentinel() }

// CircuitOpenError rejects a request while the provider's breaker is open.
// Remaining is the cooldown left before the breaker will probe again.
type CircuitOpenError struct {
	Provider  string
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("provider %s: circuit open, retry in %s", e.Provider, e.Remaining)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

var retryAfterRe = regexp.MustCompile(`retry after:?\s*(\d+)`)

// Classify converts a raw transport error into its canonical category.
// Rules apply in order, first match wins: HTTP status when one is present,
// then case-insensitive substring match on the error message.
func Classify(err error) *ProviderError {
	status := 0
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Status
	}
	msg := strings.ToLower(err.Error())

	out := func(c Category) *ProviderError {
		return &ProviderError{Category: c, Status: status, Message: err.Error(), Err: err}
	}

	switch {
	case status == 401 || status == 403 ||
		containsAny(msg, "unauthorized", "invalid api key", "authentication"):
		return out(CategoryAuth)
	case status == 400 && containsAny(msg, "context", "token"):
		return out(CategoryContextLength)
	case status == 400 && containsAny(msg, "content", "filter", "safety"):
		return out(CategoryContentFilter)
	case status == 400:
		return out(CategoryInvalidRequest)
	case status == 429 || containsAny(msg, "rate limit", "too many requests"):
		pe := out(CategoryRateLimit)
		if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
			if secs, err := strconv.Atoi(m[1]); err == nil {
				pe.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return pe
	case status == 529 || containsAny(msg, "overloaded", "capacity"):
		return out(CategoryOverloaded)
	case status == 500 || status == 502 || status == 503 || status >= 500 ||
		containsAny(msg, "server error", "internal error"):
		return out(CategoryServerError)
	case containsAny(msg, "econnreset", "econnrefused", "socket hang up", "fetch failed"):
		return out(CategoryNetwork)
	case containsAny(msg, "timeout", "etimedout", "timed out"):
		return out(CategoryTimeout)
	default:
		return out(CategoryUnknown)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
