package errs

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCodeExtraction(t *testing.T) {
	if Code(ErrValidation) != CodeValidation {
		t.Fatalf("sentinel code lost")
	}
	if Code(ErrValidation.WithDetail("empty content")) != CodeValidation {
		t.Fatalf("WithDetail must keep the code")
	}
	if Code(ErrStoreUnavailable.Wrap(io.ErrUnexpectedEOF)) != CodeStoreUnavailable {
		t.Fatalf("Wrap must keep the code")
	}
	if Code(io.EOF) != 0 {
		t.Fatalf("foreign error must yield code 0")
	}
	if Code(nil) != 0 {
		t.Fatalf("nil must yield code 0")
	}
}

func TestErrorsIsAcrossWrapping(t *testing.T) {
	err := ErrStoreUnavailable.WrapMsg(io.ErrUnexpectedEOF, "mongo insert")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("wrapped error lost identity: %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("wrapped error matched the wrong sentinel")
	}
	// 底层原因可达
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause not reachable via errors.Is")
	}
}

func TestWithDetailCopies(t *testing.T) {
	a := ErrValidation.WithDetail("first")
	b := a.WithDetail("second")
	if ErrValidation.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrValidation.Detail)
	}
	if !strings.Contains(b.Error(), "first") || !strings.Contains(b.Error(), "second") {
		t.Fatalf("details not accumulated: %q", b.Error())
	}
}
