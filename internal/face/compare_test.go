package face

import (
	"math"
	"strings"
	"testing"
)

// embeddingAtDistance builds a pair of embeddings whose Euclidean distance is
// exactly d.
func embeddingAtDistance(d float64) (Embedding, Embedding) {
	ref := make(Embedding, 128)
	cap := make(Embedding, 128)
	cap[0] = float32(d)
	return ref, cap
}

func TestCompare_Distance(t *testing.T) {
	ref, cap := embeddingAtDistance(0.3)
	res, err := Compare(ref, cap, 0.5)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !res.IsMatch {
		t.Error("distance 0.3 should match at threshold 0.5")
	}
	if math.Abs(res.Distance-0.3) > 1e-6 {
		t.Errorf("distance = %v, want 0.3", res.Distance)
	}
	if math.Abs(res.Confidence-70) > 0.01 {
		t.Errorf("confidence = %v, want ~70", res.Confidence)
	}
}

func TestCompare_ThresholdMonotonic(t *testing.T) {
	// If a pair matches at t1, it must also match at every t2 > t1.
	thresholds := []float64{0.35, 0.4, 0.45, 0.5, 0.55, 0.6}
	for _, d := range []float64{0.1, 0.3, 0.42, 0.48, 0.58, 0.9} {
		ref, cap := embeddingAtDistance(d)
		matchedBefore := false
		for _, th := range thresholds {
			res, err := Compare(ref, cap, th)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if matchedBefore && !res.IsMatch {
				t.Errorf("distance %v matched a stricter threshold but not %v", d, th)
			}
			matchedBefore = matchedBefore || res.IsMatch
		}
	}
}

func TestCompare_ConfidenceClampedAtZero(t *testing.T) {
	ref, cap := embeddingAtDistance(1.4)
	res, err := Compare(ref, cap, 0.5)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 for distance > 1", res.Confidence)
	}
	if res.IsMatch {
		t.Error("distance 1.4 must not match")
	}
}

func TestCompare_Messages(t *testing.T) {
	tests := []struct {
		distance float64
		want     string
	}{
		{0.05, "Excellent"},
		{0.15, "Very good"},
		{0.25, "Good"},
		{0.45, "Acceptable"},
		{0.55, "does not match"},
		{0.95, "completely different person"},
	}
	for _, tc := range tests {
		ref, cap := embeddingAtDistance(tc.distance)
		res, err := Compare(ref, cap, 0.5)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if !strings.Contains(res.Message, tc.want) {
			t.Errorf("distance %v: message %q does not contain %q", tc.distance, res.Message, tc.want)
		}
	}
}

func TestCompare_ExactThresholdDoesNotMatch(t *testing.T) {
	ref, cap := embeddingAtDistance(0.5)
	res, err := Compare(ref, cap, 0.5)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.IsMatch {
		t.Error("match requires distance strictly below threshold")
	}
}

func TestCompare_InvalidInput(t *testing.T) {
	if _, err := Compare(nil, make(Embedding, 128), 0.5); err == nil {
		t.Error("expected error for empty reference embedding")
	}
	if _, err := Compare(make(Embedding, 128), make(Embedding, 64), 0.5); err == nil {
		t.Error("expected error for mismatched embedding lengths")
	}
}
