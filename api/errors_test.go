package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinelOfItsKind(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("fetch me: %w", &Error{Kind: KindNetwork, Op: "GET /me", Err: cause})

	if !errors.Is(err, ErrNetwork) {
		t.Fatal("network error does not match ErrNetwork")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("network error matches ErrUnauthorized")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not unwrapped")
	}
	if KindOf(err) != KindNetwork {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if KindOf(fmt.Errorf("x: %w", ErrNotFound)) != KindNotFound {
		t.Fatal("bare sentinel not classified")
	}
	if KindOf(errors.New("other")) != KindUnknown {
		t.Fatal("foreign error classified")
	}
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		200: KindUnknown, 201: KindUnknown,
		400: KindValidation, 422: KindValidation,
		401: KindUnauthorized, 403: KindUnauthorized,
		404: KindNotFound,
		500: KindNetwork, 503: KindNetwork,
	}
	for status, want := range cases {
		if got := KindForStatus(status); got != want {
			t.Errorf("KindForStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindUnauthorized, Op: "PATCH /me", Status: 401, Msg: "wrong password"}
	if got, want := e.Error(), "PATCH /me: unauthorized (401): wrong password"; got != want {
		t.Fatalf("Error() = %q want %q", got, want)
	}
}
