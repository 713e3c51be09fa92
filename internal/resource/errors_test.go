package resource

import (
	"errors"
	"testing"
)

func TestClassifyExhaustionSignatures(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"CUDA error: out of memory", true},
		{"ggml_new_buffer: failed to allocate 512 MB", true},
		{"failed to create context with model", true},
		{"not enough VRAM for 40 layers", true},
		{"invalid magic number in header", false},
		{"permission denied", false},
	}
	for _, c := range cases {
		err := Classify(errors.New(c.msg))
		if got := IsResourceExhaustion(err); got != c.want {
			t.Errorf("Classify(%q): exhaustion=%v, want %v", c.msg, got, c.want)
		}
	}
}

func TestClassifyKeepsFatalErrors(t *testing.T) {
	nf := ErrNotFound("/missing.safetensors")
	if got := Classify(nf); got != nf {
		t.Fatalf("Classify rewrote a not-found error: %v", got)
	}
	if IsResourceExhaustion(Classify(nf)) {
		t.Fatal("not-found classified as exhaustion")
	}
	fm := ErrFormatMismatch("m.bin", "unexpected file extension")
	if IsResourceExhaustion(Classify(fm)) {
		t.Fatal("format mismatch classified as exhaustion")
	}
}

func TestClassifyWrapsOnce(t *testing.T) {
	err := Classify(errors.New("out of memory"))
	again := Classify(err)
	if again != err {
		t.Fatal("Classify re-wrapped an already classified error")
	}
	if !errors.Is(again, err) {
		t.Fatal("classified error lost its identity")
	}
}

func TestValidationPredicates(t *testing.T) {
	err := ErrValidation("width", "must be between 64 and 2048")
	if !IsValidation(err) {
		t.Fatal("IsValidation false for validation error")
	}
	if IsNotFound(err) || IsFormatMismatch(err) || IsResourceExhaustion(err) {
		t.Fatal("validation error matched an unrelated predicate")
	}
}
