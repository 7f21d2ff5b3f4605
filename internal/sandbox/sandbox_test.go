package sandbox

import (
	"errors"
	"testing"

	"stormstack/platform/internal/errs"
)

// emptyModuleWASM is the smallest valid WASM module: just the magic number
// and version, with no sections, functions, or exports.
var emptyModuleWASM = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	cfg := DefaultConfig()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestLoadModuleAcceptsValidBytes(t *testing.T) {
	s := newTestSandbox(t)
	mod, err := s.LoadModule(emptyModuleWASM, "empty")
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if mod.Name() != "empty" {
		t.Fatalf("expected name %q, got %q", "empty", mod.Name())
	}
}

func TestLoadModuleRejectsGarbageBytes(t *testing.T) {
	s := newTestSandbox(t)
	_, err := s.LoadModule([]byte("not wasm"), "garbage")
	if errs.KindOf(err) != errs.KindCompilationError {
		t.Fatalf("expected compilation_error, got %v", err)
	}
}

func TestInstantiateEmptyModuleSucceeds(t *testing.T) {
	s := newTestSandbox(t)
	mod, err := s.LoadModule(emptyModuleWASM, "empty")
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	instance, err := s.Instantiate(mod, DefaultLimits())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if instance.FuelRemaining() == 0 {
		t.Fatalf("expected nonzero fuel immediately after instantiation")
	}
}

func TestExecuteMissingFunctionReturnsFunctionNotFound(t *testing.T) {
	s := newTestSandbox(t)
	mod, err := s.LoadModule(emptyModuleWASM, "empty")
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	instance, err := s.Instantiate(mod, DefaultLimits())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	_, err = s.Execute(instance, "does_not_exist")
	if errs.KindOf(err) != errs.KindFunctionNotFound {
		t.Fatalf("expected function_not_found, got %v", err)
	}
}

func TestClassifyTrapMapsKnownPatterns(t *testing.T) {
	instance := &Instance{initialFuel: 1000}
	cases := []struct {
		message string
		want    errs.Kind
	}{
		{"all fuel consumed by WebAssembly", errs.KindFuelExhausted},
		{"epoch deadline reached while executing", errs.KindEpochDeadlineExceeded},
		{"resource limit exceeded for memory", errs.KindMemoryLimitExceeded},
		{"wasm trap: call stack exhausted", errs.KindStackOverflow},
		{"wasm trap: out of bounds memory access", errs.KindTrap},
		{"wasm trap: unreachable", errs.KindTrap},
	}
	for _, tc := range cases {
		got := classifyTrap(errors.New(tc.message), instance)
		if errs.KindOf(got) != tc.want {
			t.Errorf("classifyTrap(%q) = %v, want kind %v", tc.message, errs.KindOf(got), tc.want)
		}
	}
}

func TestDefaultLimitsAreSafe(t *testing.T) {
	l := DefaultLimits()
	if l.MaxFuel == 0 || l.MaxMemoryBytes == 0 || l.EpochDeadline == 0 {
		t.Fatalf("default limits must be nonzero: %+v", l)
	}
}
