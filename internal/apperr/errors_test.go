package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: token expired", ErrUnauthenticated), http.StatusUnauthorized},
		{fmt.Errorf("%w: admins only", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: listing", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: email is required", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: email already registered", ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: stripe down", ErrUpstream), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v)=%d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestPublic(t *testing.T) {
	if !Public(fmt.Errorf("%w: x", ErrConflict)) {
		t.Fatal("conflict should be public")
	}
	if Public(fmt.Errorf("%w: x", ErrUpstream)) {
		t.Fatal("upstream failures must not leak")
	}
}
