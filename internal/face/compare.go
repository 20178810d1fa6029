package face

import (
	"fmt"
	"math"
)

// MatchResult is the outcome of comparing two embeddings.
type MatchResult struct {
	IsMatch    bool
	Distance   float64
	Confidence float64 // percentage in [0, 100]
	Message    string
}

// Compare computes the Euclidean distance between a reference embedding and a
// capture embedding and declares a match when the distance falls below the
// threshold. Lower thresholds are stricter. The default shipped threshold is
// 0.5; confidence is max(0, (1-distance))*100, clamped because distances can
// exceed 1.0 for very dissimilar faces.
func Compare(ref, cap Embedding, threshold float64) (MatchResult, error) {
	if len(ref) == 0 || len(cap) == 0 {
		return MatchResult{}, fmt.Errorf("empty embedding")
	}
	if len(ref) != len(cap) {
		return MatchResult{}, fmt.Errorf("embedding length mismatch: %d vs %d", len(ref), len(cap))
	}

	var sum float64
	for i := range ref {
		d := float64(ref[i]) - float64(cap[i])
		sum += d * d
	}
	distance := math.Sqrt(sum)

	confidence := (1 - distance) * 100
	if confidence < 0 {
		confidence = 0
	}

	res := MatchResult{
		IsMatch:    distance < threshold,
		Distance:   distance,
		Confidence: confidence,
	}
	res.Message = matchMessage(res)
	return res, nil
}

func matchMessage(r MatchResult) string {
	if r.IsMatch {
		switch {
		case r.Confidence >= 90:
			return fmt.Sprintf("Excellent match! Confidence: %.1f%%", r.Confidence)
		case r.Confidence >= 80:
			return fmt.Sprintf("Very good match! Confidence: %.1f%%", r.Confidence)
		case r.Confidence >= 70:
			return fmt.Sprintf("Good match! Confidence: %.1f%%", r.Confidence)
		default:
			return fmt.Sprintf("Acceptable match. Confidence: %.1f%%", r.Confidence)
		}
	}

	msg := fmt.Sprintf("Face does not match (confidence: %.1f%%)", r.Confidence)
	switch {
	case r.Confidence < 30:
		msg += " - completely different person detected"
	case r.Confidence < 50:
		msg += " - significant differences detected"
	case r.Confidence < 60:
		msg += " - face does not match profile"
	}
	return msg
}
