package tokens

import (
	"strings"
	"testing"
)

func TestBytesEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"shorter than one token", "abc", 0},
		{"exact", "abcdefgh", 2},
		{"long message", strings.Repeat("a", 3000), 750},
		{"cyrillic counts bytes", "привет", 3},
	}

	est := Bytes{CharsPerToken: 4}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := est.Estimate(tt.text); got != tt.want {
				t.Fatalf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestRunesEstimate(t *testing.T) {
	est := Runes{CharsPerToken: 2}
	if got := est.Estimate("привет"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestZeroDivisorFallsBackToDefault(t *testing.T) {
	if got := (Bytes{}).Estimate("abcdefgh"); got != 2 {
		t.Fatalf("expected default divisor 4, got %d", got)
	}
	if got := (Runes{CharsPerToken: -1}).Estimate("abcdefgh"); got != 2 {
		t.Fatalf("expected default divisor 4, got %d", got)
	}
}

func TestEstimateIsDeterministicAndMonotonic(t *testing.T) {
	est := Bytes{CharsPerToken: 4}
	text := "Hello there, how are you doing today?"

	if est.Estimate(text) != est.Estimate(text) {
		t.Fatal("estimate not deterministic")
	}

	prev := 0
	for i := range len(text) + 1 {
		got := est.Estimate(text[:i])
		if got < prev {
			t.Fatalf("estimate decreased at %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestNew(t *testing.T) {
	if _, err := New("bytes", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est, err := New("", 4); err != nil || est == nil {
		t.Fatalf("expected default estimator, got %v, %v", est, err)
	}
	if _, ok := mustNew(t, "runes").(Runes); !ok {
		t.Fatal("expected Runes estimator")
	}
	if _, err := New("tiktoken", 4); err == nil {
		t.Fatal("expected error for unknown estimator")
	}
}

func mustNew(t *testing.T, name string) Estimator {
	t.Helper()
	est, err := New(name, 4)
	if err != nil {
		t.Fatal(err)
	}
	return est
}
