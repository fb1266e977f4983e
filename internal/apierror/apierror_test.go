package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	if !IsNotFound(NotFound("request %s not found", "r-1")) {
		t.Fatal("expected not-found kind")
	}
	if !IsConflict(Conflict("already terminal")) {
		t.Fatal("expected conflict kind")
	}
	if !IsValidation(Validation("missing user_id")) {
		t.Fatal("expected validation kind")
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := Conflict("request already decided")
	wrapped := fmt.Errorf("confirm: %w", inner)
	if !IsConflict(wrapped) {
		t.Fatal("expected conflict kind to survive wrapping")
	}
	if HTTPStatus(wrapped) != http.StatusConflict {
		t.Fatalf("expected 409, got %d", HTTPStatus(wrapped))
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal {
		t.Fatal("expected internal kind for plain error")
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", HTTPStatus(err))
	}
}

func TestToResponse_Retryable(t *testing.T) {
	resp := ToResponse(Unavailable(errors.New("timeout"), "embedding service"), "req-1")
	if !resp.Retryable {
		t.Fatal("dependency failures should be retryable")
	}
	if resp.Code != "DEPENDENCY_UNAVAILABLE" {
		t.Fatalf("unexpected code %s", resp.Code)
	}

	resp = ToResponse(Conflict("terminal"), "req-2")
	if resp.Retryable {
		t.Fatal("conflicts must not be retryable")
	}
}
