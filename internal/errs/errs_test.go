package errs

import (
	"errors"
	"testing"
)

func TestIsNotFoundCoversIdentityKinds(t *testing.T) {
	cases := []Kind{KindContainerNotFound, KindMatchNotFound, KindUserNotFound, KindModuleNotFound}
	for _, k := range cases {
		if !IsNotFound(New(k, "missing")) {
			t.Fatalf("expected kind %s to be not-found", k)
		}
	}
	if IsNotFound(New(KindInvalidState, "bad transition")) {
		t.Fatalf("invalid_state must not be classified as not-found")
	}
}

func TestIsResourceExhaustionCoversWasmCaps(t *testing.T) {
	for _, k := range []Kind{KindFuelExhausted, KindEpochDeadlineExceeded, KindMemoryLimitExceeded, KindStackOverflow} {
		if !IsResourceExhaustion(New(k, "capped")) {
			t.Fatalf("expected kind %s to be resource exhaustion", k)
		}
	}
	if IsResourceExhaustion(New(KindTrap, "generic trap")) {
		t.Fatalf("trap must not be classified as resource exhaustion by default")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(KindInternal, "failed to persist", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := New(KindMatchNotFound, "match one missing")
	b := New(KindMatchNotFound, "match two missing")
	if !errors.Is(a, b) {
		t.Fatalf("expected errors with the same kind to match via Is")
	}
	c := New(KindContainerNotFound, "container missing")
	if errors.Is(a, c) {
		t.Fatalf("expected errors with different kinds not to match")
	}
}

func TestFuelExhaustedDetails(t *testing.T) {
	err := FuelExhausted(12345)
	if err.Details["consumed"] != uint64(12345) {
		t.Fatalf("expected consumed detail to be recorded, got %v", err.Details)
	}
}
