package withdraw

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
)

func TestRandomAmountRangeAndPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	min, max := 0.001, 0.01

	precisions := map[int]bool{}
	for i := 0; i < 1000; i++ {
		v := RandomAmount(min, max, rng)
		if v < min || v > max {
			t.Fatalf("draw %d out of range: %v", i, v)
		}
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if dot := strings.IndexByte(s, '.'); dot >= 0 {
			precisions[len(s)-dot-1] = true
		}
	}
	if len(precisions) < 2 {
		t.Fatalf("decimal precision is constant across draws: %v", precisions)
	}
}

func TestRandomAmountDegenerateRange(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 100; i++ {
		if v := RandomAmount(0.5, 0.5, rng); v != 0.5 {
			t.Fatalf("expected 0.5, got %v", v)
		}
	}
}
