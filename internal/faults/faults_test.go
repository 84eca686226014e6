package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeRoundTripPreservesKind(t *testing.T) {
	all := []error{
		ErrClassNotFound,
		ErrUnknownID,
		ErrUnknownParameter,
		ErrUnknownMethod,
		ErrTypeMismatch,
		ErrArgumentMismatch,
		ErrUnknownReference,
		ErrDuplicateID,
		ErrMalformedPayload,
		ErrParticipantFailed,
	}
	for _, kind := range all {
		wrapped := Wrap(kind, "object %d", 7)
		code := Code(wrapped)
		back := FromCode(code, wrapped.Error())
		if !errors.Is(back, kind) {
			t.Fatalf("kind lost through code %q: %v", code, back)
		}
		if back.Error() != wrapped.Error() {
			t.Fatalf("message lost: got %q want %q", back.Error(), wrapped.Error())
		}
	}
}

func TestCodeForUnknownAndNil(t *testing.T) {
	if Code(nil) != CodeOK {
		t.Fatalf("nil should map to ok")
	}
	if FromCode(CodeOK, "ignored") != nil {
		t.Fatalf("ok code should rebuild to nil")
	}
	code := Code(fmt.Errorf("disk on fire"))
	if code != CodeHandlerFailed {
		t.Fatalf("unexpected code: %q", code)
	}
	if !errors.Is(FromCode("never-heard-of-it", "x"), ErrHandlerFailed) {
		t.Fatalf("unknown code should map to handler failure")
	}
}

func TestFatalKinds(t *testing.T) {
	if !Fatal(CodeDuplicateID) || !Fatal(CodeParticipantFailed) {
		t.Fatalf("duplicate id and participant failure must be fatal")
	}
	if Fatal(CodeUnknownID) || Fatal(CodeClassNotFound) {
		t.Fatalf("agreeing lookups are recoverable")
	}
}
