package xerrors

import (
	"errors"
	"io"
	"testing"
)

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(io.EOF, "reading config")
	if err.Error() != "reading config: EOF" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, io.EOF) {
		t.Fatal("wrapped error should unwrap to io.EOF")
	}
}

func TestNew_CarriesStack(t *testing.T) {
	err := New("boom")
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if !errors.As(err, &hs) {
		t.Fatal("New should carry a stack")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("stack is empty")
	}
}

func TestEnsureTrace_Idempotent(t *testing.T) {
	first := WithStack(io.EOF)
	second := EnsureTrace(first)
	if first != second {
		t.Fatal("EnsureTrace should not re-wrap an error that already has a stack")
	}

	plain := EnsureTrace(io.EOF)
	if plain == io.EOF {
		t.Fatal("EnsureTrace should add a stack to a plain error")
	}
	if !errors.Is(plain, io.EOF) {
		t.Fatal("EnsureTrace result should unwrap to the original")
	}
}
