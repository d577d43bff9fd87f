package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"kinded", New(KindNotFound, "missing"), KindNotFound},
		{"wrapped kinded", fmt.Errorf("outer: %w", New(KindStateConflict, "busy")), KindStateConflict},
		{"unkinded", errors.New("plain"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNilCause(t *testing.T) {
	if err := Wrap(KindInternal, "anything", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindEmbeddingUnavailable, "embed failed", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
	if !IsKind(err, KindEmbeddingUnavailable) {
		t.Errorf("kind = %q, want %q", KindOf(err), KindEmbeddingUnavailable)
	}
}

func TestMessage(t *testing.T) {
	if got := Message(New(KindValidation, "answer must not be empty")); got != "answer must not be empty" {
		t.Errorf("Message() = %q", got)
	}
	if got := Message(errors.New("raw")); got != "raw" {
		t.Errorf("Message(unkinded) = %q", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindGradingFailed, "grading response unparseable", errors.New("bad json"))
	want := "grading_failed: grading response unparseable: bad json"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
