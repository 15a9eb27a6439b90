package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := New(RateLimited, "openai", "embed", cause)

	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is to match the kind sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}

	wrapped := fmt.Errorf("item 3: %w", err)
	if KindOf(wrapped) != RateLimited {
		t.Errorf("expected kind %v, got %v", RateLimited, KindOf(wrapped))
	}

	want := "openai: embed: rate limited: unexpected EOF"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"classified", Newf(SchemaMismatch, "memory", "upsert", "space %q", "x"), SchemaMismatch},
		{"bare sentinel", fmt.Errorf("wrap: %w", ErrNotFound), NotFound},
		{"outermost wins", New(ProviderUnavailable, "a", "b", New(InvalidInput, "c", "d", nil)), ProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[Kind]bool{
		InvalidInput:            false,
		RateLimited:             true,
		ProviderUnavailable:     true,
		StoreUnavailable:        true,
		UnexpectedResponse:      false,
		SchemaMismatch:          false,
		CollectionAlreadyExists: false,
		NotFound:                false,
	}
	for k, want := range retryable {
		if k.Retryable() != want {
			t.Errorf("%v.Retryable() = %v, want %v", k, k.Retryable(), want)
		}
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusBadRequest, InvalidInput},
		{http.StatusUnauthorized, InvalidInput},
		{http.StatusRequestEntityTooLarge, InvalidInput},
		{http.StatusUnprocessableEntity, InvalidInput},
		{http.StatusRequestTimeout, ProviderUnavailable},
		{http.StatusInternalServerError, ProviderUnavailable},
		{http.StatusServiceUnavailable, ProviderUnavailable},
		{529, ProviderUnavailable},
		{http.StatusFound, UnexpectedResponse},
	}

	for _, tt := range tests {
		if got := FromStatus(tt.code); got != tt.want {
			t.Errorf("FromStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestTransport(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	err := Transport(context.Background(), StoreUnavailable, "qdrant", "upsert", cause)
	if !Is(err, StoreUnavailable) {
		t.Errorf("expected store unavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Transport(ctx, ProviderUnavailable, "tei", "embed", cause)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if KindOf(err) != Unknown {
		t.Errorf("cancellation should not be classified, got %v", KindOf(err))
	}

	ctx, cancel = context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	err = Transport(ctx, ProviderUnavailable, "tei", "embed", ctx.Err())
	if !Is(err, ProviderUnavailable) {
		t.Errorf("expected deadline to map to provider unavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected deadline cause to be preserved")
	}
}
