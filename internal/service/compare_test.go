package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

func TestParseComparisonJSON(t *testing.T) {
	answer := `Here is my verdict: {"choice": "B", "explanation": "sharper detail", "confidence": 0.9} done.`
	got := parseComparison(answer)
	if got.Choice != "B" || got.Explanation != "sharper detail" || got.Confidence != 0.9 {
		t.Fatalf("parsed: %+v", got)
	}
}

func TestParseComparisonFreeText(t *testing.T) {
	cases := []struct {
		answer string
		want   string
	}{
		{"The answer is A.", "A"},
		{"B, because the colors match better", "B"},
		{"It's a tie between the two", "TIE"},
		{"The first image clearly matches", "A"},
		{"I prefer the second image", "B"},
	}
	for _, c := range cases {
		if got := parseComparison(c.answer); got.Choice != c.want {
			t.Errorf("parseComparison(%q) = %s, want %s", c.answer, got.Choice, c.want)
		}
	}
}

func TestParseComparisonUnparseable(t *testing.T) {
	got := parseComparison("mumble mumble nothing useful")
	if got.Choice != "TIE" {
		t.Fatalf("choice: %s, want TIE fallback", got.Choice)
	}
	if got.Confidence >= 0.5 {
		t.Fatalf("confidence for a guess: %v", got.Confidence)
	}
}

func TestParseComparisonBadConfidenceClamped(t *testing.T) {
	got := parseComparison(`{"choice": "A", "confidence": 7.5}`)
	if got.Choice != "A" || got.Confidence != 0.5 {
		t.Fatalf("parsed: %+v", got)
	}
}

func TestCompareValidation(t *testing.T) {
	factory := &countingFactory{rt: &genRuntime{content: `{"choice":"A"}`}}
	c := newCompareFixture(t, factory)

	_, err := c.Run(context.Background(), types.CompareRequest{ImageA: "a.png", Prompt: "p"})
	if !resource.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if got := factory.constructions.Load(); got != 0 {
		t.Fatalf("constructions for invalid request: %d", got)
	}
}

func TestCompareEndToEnd(t *testing.T) {
	factory := &countingFactory{rt: &genRuntime{content: `{"choice": "A", "explanation": "closer match", "confidence": 0.8}`}}
	c := newCompareFixture(t, factory)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := c.Run(context.Background(), types.CompareRequest{ImageA: a, ImageB: b, Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Choice != "A" || resp.Confidence != 0.8 {
		t.Fatalf("response: %+v", resp)
	}
}

func newCompareFixture(t *testing.T, factory runtime.Factory) *Compare {
	t.Helper()
	dev := accel.NewHostDevice()
	retry := resource.RetryPolicy{Backoff: 0, Device: dev, Log: zerolog.Nop()}
	slot := resource.NewSlot("compare", resource.NewChain(zerolog.Nop()), retry, dev, zerolog.Nop())
	gate := resource.NewGate(slot, dev, 0, zerolog.Nop())
	return NewCompare(CompareParams{
		Factory: factory,
		Slot:    slot,
		Gate:    gate,
		Device:  dev,
		Source:  "test/vision-model",
		Log:     zerolog.Nop(),
	})
}
