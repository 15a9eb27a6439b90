// Package fault defines the error kinds shared by providers, stores and pipelines.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can decide whether to retry.
type Kind int

const (
	Unknown Kind = iota
	InvalidInput
	RateLimited
	ProviderUnavailable
	StoreUnavailable
	UnexpectedResponse
	SchemaMismatch
	CollectionAlreadyExists
	NotFound
)

// Sentinels usable with errors.Is.
var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrRateLimited             = errors.New("rate limited")
	ErrProviderUnavailable     = errors.New("provider unavailable")
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrUnexpectedResponse      = errors.New("unexpected response")
	ErrSchemaMismatch          = errors.New("schema mismatch")
	ErrCollectionAlreadyExists = errors.New("collection already exists")
	ErrNotFound                = errors.New("not found")
)

var sentinels = map[Kind]error{
	InvalidInput:            ErrInvalidInput,
	RateLimited:             ErrRateLimited,
	ProviderUnavailable:     ErrProviderUnavailable,
	StoreUnavailable:        ErrStoreUnavailable,
	UnexpectedResponse:      ErrUnexpectedResponse,
	SchemaMismatch:          ErrSchemaMismatch,
	CollectionAlreadyExists: ErrCollectionAlreadyExists,
	NotFound:                ErrNotFound,
}

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case RateLimited:
		return "rate_limited"
	case ProviderUnavailable:
		return "provider_unavailable"
	case StoreUnavailable:
		return "store_unavailable"
	case UnexpectedResponse:
		return "unexpected_response"
	case SchemaMismatch:
		return "schema_mismatch"
	case CollectionAlreadyExists:
		return "collection_already_exists"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same call may succeed later without changes.
func (k Kind) Retryable() bool {
	return k == RateLimited || k == ProviderUnavailable || k == StoreUnavailable
}

// Error wraps a cause with its kind and the component that produced it.
type Error struct {
	Kind   Kind
	Source string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New creates a classified error.
func New(kind Kind, source, op string, err error) error {
	return &Error{Kind: kind, Source: source, Op: op, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, source, op, format string, args ...any) error {
	return &Error{Kind: kind, Source: source, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromStatus maps an HTTP status code returned by a provider to a kind.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return ProviderUnavailable
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound,
		code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnsupportedMediaType,
		code == http.StatusUnprocessableEntity:
		return InvalidInput
	default:
		return UnexpectedResponse
	}
}

// Transport classifies a failed round trip. Caller cancellation is returned
// as the context error; anything else, client timeouts included, means the
// remote side could not be reached.
func Transport(ctx context.Context, kind Kind, source, op string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return New(kind, source, op, err)
}
