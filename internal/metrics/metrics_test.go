package metrics

import (
	"math"
	"testing"
)

// =============================================================================
// RANKING METRICS
// =============================================================================
//
// Expected values are computed by hand. Discounts used below:
//   rank 1: 1/log2(2) = 1
//   rank 2: 1/log2(3) ≈ 0.6309
//   rank 3: 1/log2(4) = 0.5
// =============================================================================

const eps = 1e-9

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestName(t *testing.T) {
	if got := Name(KindMRR, 10); got != "MRR@10" {
		t.Errorf("Name = %q", got)
	}
	if got := Name(KindRecall, 5); got != "Recall@5" {
		t.Errorf("Name = %q", got)
	}
	if got := Name(KindNDCG, 10); got != "nDCG@10" {
		t.Errorf("Name = %q", got)
	}
}

// =============================================================================
// RecallAtK
// =============================================================================

func TestRecallAtK(t *testing.T) {
	t.Run("partial recall", func(t *testing.T) {
		approx(t, RecallAtK(Set("a", "b"), []string{"x", "a", "y"}, 3), 0.5)
	})

	t.Run("hit outside cutoff ignored", func(t *testing.T) {
		approx(t, RecallAtK(Set("a"), []string{"x", "y", "a"}, 2), 0)
	})

	t.Run("empty relevant set", func(t *testing.T) {
		approx(t, RecallAtK(Set(), []string{"a"}, 5), 0)
	})

	t.Run("ranking shorter than k", func(t *testing.T) {
		approx(t, RecallAtK(Set("a", "b"), []string{"a", "b"}, 10), 1)
	})

	t.Run("non-positive k", func(t *testing.T) {
		approx(t, RecallAtK(Set("a"), []string{"a"}, 0), 0)
		approx(t, RecallAtK(Set("a"), []string{"a"}, -3), 0)
	})

	t.Run("duplicates count once", func(t *testing.T) {
		approx(t, RecallAtK(Set("a", "b"), []string{"a", "a"}, 2), 0.5)
	})
}

func TestRecallAtK_NonDecreasingInK(t *testing.T) {
	tests := []struct {
		name      string
		relevant  map[string]struct{}
		retrieved []string
	}{
		{"hits spread out", Set("a", "b", "c"), []string{"x", "a", "y", "b", "z", "c"}},
		{"duplicates", Set("a", "b"), []string{"a", "a", "b", "a"}},
		{"no hits", Set("a"), []string{"x", "y", "z"}},
		{"empty ranking", Set("a"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := RecallAtK(tt.relevant, tt.retrieved, 0)
			for k := 1; k <= len(tt.retrieved)+2; k++ {
				got := RecallAtK(tt.relevant, tt.retrieved, k)
				if got < prev {
					t.Errorf("Recall@%d = %v, below Recall@%d = %v", k, got, k-1, prev)
				}
				prev = got
			}
		})
	}
}

// =============================================================================
// MRRAtK
// =============================================================================

func TestMRRAtK(t *testing.T) {
	tests := []struct {
		name      string
		relevant  map[string]struct{}
		retrieved []string
		k         int
		want      float64
	}{
		{"first position", Set("a"), []string{"a", "b"}, 10, 1},
		{"third position", Set("c"), []string{"a", "b", "c"}, 10, 1.0 / 3},
		{"first hit wins", Set("b", "c"), []string{"a", "c", "b"}, 10, 0.5},
		{"beyond k", Set("c"), []string{"a", "b", "c"}, 2, 0},
		{"no hit", Set("z"), []string{"a", "b"}, 10, 0},
		{"empty ranking", Set("a"), nil, 10, 0},
		{"zero k", Set("a"), []string{"a"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approx(t, MRRAtK(tt.relevant, tt.retrieved, tt.k), tt.want)
		})
	}
}

// =============================================================================
// NDCGAtK
// =============================================================================

func TestNDCGAtK(t *testing.T) {
	t.Run("perfect ranking", func(t *testing.T) {
		approx(t, NDCGAtK(Set("a", "b"), []string{"a", "b", "x"}, 10), 1)
	})

	t.Run("single relevant at rank two", func(t *testing.T) {
		approx(t, NDCGAtK(Set("a"), []string{"x", "a"}, 10), 1/math.Log2(3))
	})

	t.Run("two relevant at ranks one and three", func(t *testing.T) {
		dcg := 1 + 0.5
		idcg := 1 + 1/math.Log2(3)
		approx(t, NDCGAtK(Set("a", "b"), []string{"a", "x", "b"}, 10), dcg/idcg)
	})

	t.Run("ideal limited to k", func(t *testing.T) {
		// Three relevant ids but only k=1 slot: ideal DCG is 1.
		approx(t, NDCGAtK(Set("a", "b", "c"), []string{"b"}, 1), 1)
	})

	t.Run("empty relevant", func(t *testing.T) {
		approx(t, NDCGAtK(Set(), []string{"a"}, 10), 0)
	})

	t.Run("no hits", func(t *testing.T) {
		approx(t, NDCGAtK(Set("a"), []string{"x", "y"}, 10), 0)
	})

	t.Run("zero k", func(t *testing.T) {
		approx(t, NDCGAtK(Set("a"), []string{"a"}, 0), 0)
	})

	t.Run("bounded by one", func(t *testing.T) {
		got := NDCGAtK(Set("a", "b", "c"), []string{"c", "a", "b", "x"}, 3)
		if got < 0 || got > 1+eps {
			t.Errorf("nDCG out of range: %v", got)
		}
	})
}

func TestRound4(t *testing.T) {
	approx(t, Round4(0.123456), 0.1235)
	approx(t, Round4(1.0/3), 0.3333)
	approx(t, Round4(0), 0)
}
