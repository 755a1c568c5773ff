package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndHTTPStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"invalid", InvalidInputf("titulo is required"), KindInvalidInput, http.StatusBadRequest},
		{"not found", NotFoundf("essay %s", "x"), KindNotFound, http.StatusNotFound},
		{"busy", fmt.Errorf("claim: %w", ErrAlreadyProcessing), KindAlreadyProcessing, http.StatusConflict},
		{"timeout", ErrProviderTimeout, KindProviderTimeout, http.StatusGatewayTimeout},
		{"provider", ErrProvider, KindProviderError, http.StatusBadGateway},
		// a scoring failure caused by a timeout still reports as scoring_failed
		{"stage wraps provider", fmt.Errorf("%w: %w", ErrScoringFailed, ErrProviderTimeout), KindScoringFailed, http.StatusBadGateway},
		{"unknown", errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.kind {
				t.Errorf("Kind = %q, want %q", got, tc.kind)
			}
			if got := HTTPStatus(tc.err); got != tc.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestValidatorCollectsAllFields(t *testing.T) {
	err := NewValidator().
		Field("titulo", "  ", Required).
		Field("imagem", []byte{}, Required).
		Field("texto", "ok", Required, MaxLength(10)).
		Err()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err type = %T", err)
	}
	if appErr.Message != "titulo is required; imagem is required" {
		t.Fatalf("message = %q", appErr.Message)
	}
}

func TestParseUUID(t *testing.T) {
	if _, err := ParseUUID("id", "nope"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ParseUUID(nope) err = %v", err)
	}
	id, err := ParseUUID("id", " 0b6f6f1e-8a55-4c8c-9d2e-2f6f2b3b7a10 ")
	if err != nil || id.String() != "0b6f6f1e-8a55-4c8c-9d2e-2f6f2b3b7a10" {
		t.Fatalf("ParseUUID = %v, %v", id, err)
	}
}
