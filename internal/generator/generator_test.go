package generator

import (
	"testing"
)

var pool = []string{
	"This is the sample sentence for pronunciation assessment.",
	"The quick brown fox jumps over the lazy dog.",
	"Please call Stella, ask her to bring these things with her from the store.",
	"She sells seashells by the seashore.",
}

func TestPickOrdered(t *testing.T) {
	got := NewSeeded(1).Pick(pool, 2, false)
	if len(got) != 2 || got[0] != pool[0] || got[1] != pool[1] {
		t.Fatalf("unexpected pick %v", got)
	}
	if all := NewSeeded(1).Pick(pool, 0, false); len(all) != len(pool) {
		t.Fatalf("expected whole pool, got %d", len(all))
	}
	if all := NewSeeded(1).Pick(pool, 10, false); len(all) != len(pool) {
		t.Fatalf("expected whole pool for oversized count, got %d", len(all))
	}
}

func TestPickShuffledIsPermutation(t *testing.T) {
	got := NewSeeded(42).Pick(pool, 0, true)
	if len(got) != len(pool) {
		t.Fatalf("expected %d texts, got %d", len(pool), len(got))
	}
	seen := map[string]int{}
	for _, text := range got {
		seen[text]++
	}
	for _, text := range pool {
		if seen[text] != 1 {
			t.Fatalf("text %q picked %d times", text, seen[text])
		}
	}
}

func TestPickWeightedFavorsWeakWords(t *testing.T) {
	weak := map[string]struct{}{"stella": {}, "things": {}, "store": {}}
	hits := 0
	for seed := int64(0); seed < 200; seed++ {
		got := NewSeeded(seed).PickWeighted(pool, 1, weak, 20)
		if got[0] == pool[2] {
			hits++
		}
	}
	if hits < 150 {
		t.Fatalf("expected weighted pick to favor weak text, got %d/200", hits)
	}
}

func TestPickWeightedDistinct(t *testing.T) {
	got := NewSeeded(7).PickWeighted(pool, 0, map[string]struct{}{"fox": {}}, 3)
	if len(got) != len(pool) {
		t.Fatalf("expected %d texts, got %d", len(pool), len(got))
	}
	seen := map[string]bool{}
	for _, text := range got {
		if seen[text] {
			t.Fatalf("text %q picked twice", text)
		}
		seen[text] = true
	}
}
