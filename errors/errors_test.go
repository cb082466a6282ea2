package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseAccess,
				Kind:    KindInvalidHandle,
				Field:   "url",
				Address: 0x40,
				Detail:  "record destroyed",
			},
			contains: []string{"[access]", "invalid_handle", "at url", "0x40", "record destroyed"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_AddressOmittedWhenZero(t *testing.T) {
	err := InvalidHandle(PhaseAccess, 0, "unbound")
	if strings.Contains(err.Error(), "address") {
		t.Errorf("zero address should not be printed, got %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindAllocation,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseAccess,
		Kind:  KindInvalidHandle,
		Field: "url",
	}

	if !err.Is(&Error{Phase: PhaseAccess, Kind: KindInvalidHandle}) {
		t.Error("Is should match same phase and kind")
	}

	if err.Is(&Error{Phase: PhaseRelease, Kind: KindInvalidHandle}) {
		t.Error("Is should not match different phase")
	}

	if err.Is(&Error{Phase: PhaseAccess, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseAccess, Kind: KindInvalidHandle}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), target) {
		t.Error("errors.Is should match through fmt wrapping")
	}
}

func TestIsKind(t *testing.T) {
	inner := InvalidHandle(PhaseDecode, 8, "gone")
	outer := Wrap(PhaseRelease, KindAllocation, inner, "destroy failed")

	if !IsKind(outer, KindAllocation) {
		t.Error("IsKind should match outer kind")
	}
	if !IsKind(outer, KindInvalidHandle) {
		t.Error("IsKind should match kind in cause chain")
	}
	if !IsKind(fmt.Errorf("ctx: %w", inner), KindInvalidHandle) {
		t.Error("IsKind should see through fmt wrapping")
	}
	if IsKind(outer, KindClosed) {
		t.Error("IsKind should not match absent kind")
	}
	if IsKind(errors.New("plain"), KindInvalidHandle) {
		t.Error("IsKind should not match plain errors")
	}
	if IsKind(nil, KindInvalidHandle) {
		t.Error("IsKind(nil) should be false")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseAccess, KindFieldUnknown).
		Field("title").
		Address(0x10).
		Cause(cause).
		Detail("expected %s or %s", "url", "mime-type").
		Build()

	if err.Phase != PhaseAccess {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseAccess)
	}
	if err.Kind != KindFieldUnknown {
		t.Errorf("Kind = %v, want %v", err.Kind, KindFieldUnknown)
	}
	if err.Field != "title" {
		t.Errorf("Field = %v, want 'title'", err.Field)
	}
	if err.Address != 0x10 {
		t.Errorf("Address = %v, want 0x10", err.Address)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected url or mime-type" {
		t.Errorf("Detail = %v, want 'expected url or mime-type'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("InvalidHandle", func(t *testing.T) {
		err := InvalidHandle(PhaseAccess, 3, "released")
		if err.Kind != KindInvalidHandle || err.Address != 3 {
			t.Errorf("Kind=%v Address=%v", err.Kind, err.Address)
		}
	})

	t.Run("DoubleOwnership", func(t *testing.T) {
		err := DoubleOwnership(7)
		if err.Kind != KindDoubleOwnership {
			t.Errorf("Kind = %v, want %v", err.Kind, KindDoubleOwnership)
		}
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		err := InvalidUTF8(PhaseDecode, "url", []byte{0xff, 0xfe})
		if err.Kind != KindInvalidUTF8 {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidUTF8)
		}
		if !strings.Contains(err.Detail, "fffe") {
			t.Errorf("Detail = %v, should contain hex preview", err.Detail)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseAllocate, 1024, 8)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, 70000, 8)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
	})

	t.Run("FieldUnknown", func(t *testing.T) {
		err := FieldUnknown(PhaseAccess, "extra")
		if err.Kind != KindFieldUnknown || err.Field != "extra" {
			t.Errorf("Kind=%v Field=%v", err.Kind, err.Field)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if Closed(PhaseAllocate).Kind != KindClosed {
			t.Error("expected KindClosed")
		}
	})

	t.Run("MissingExport", func(t *testing.T) {
		err := MissingExport("memory")
		if err.Phase != PhaseLoad || err.Kind != KindMissingExport {
			t.Errorf("Phase=%v Kind=%v", err.Phase, err.Kind)
		}
		if !strings.Contains(err.Error(), `"memory"`) {
			t.Errorf("error should name export, got %q", err.Error())
		}
	})
}
