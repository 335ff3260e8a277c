// Package mathutil holds the score arithmetic used by graph search fusion.
package mathutil

import "math"

// CalcMeanStd calculates the mean and population standard deviation of scores.
// Returns (0, 1) for empty input and clamps a zero std to 1 so callers can
// divide by it without checking.
func CalcMeanStd(scores []float32) (mean, std float32) {
	if len(scores) == 0 {
		return 0, 1
	}

	var sum float32
	for _, s := range scores {
		sum += s
	}
	mean = sum / float32(len(scores))

	var variance float32
	for _, s := range scores {
		diff := s - mean
		variance += diff * diff
	}
	variance /= float32(len(scores))
	std = float32(math.Sqrt(float64(variance)))

	if std == 0 {
		std = 1
	}
	return mean, std
}

// Sigmoid maps z onto (0, 1): 1 / (1 + e^(-z)).
func Sigmoid(z float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-z))))
}

// ZSigmoid normalizes every score as sigmoid((s - mean) / std) over the batch,
// so scores from different retrievers land on a comparable (0, 1) scale.
func ZSigmoid(scores []float32) []float32 {
	mean, std := CalcMeanStd(scores)
	out := make([]float32, len(scores))
	for i, s := range scores {
		out[i] = Sigmoid((s - mean) / std)
	}
	return out
}

// NormalizeWeights rescales two non-negative weights to sum to 1.
// Both zero yields an even split.
func NormalizeWeights(a, b float32) (float32, float32) {
	if a < 0 {
		a = 0
	}
	if b < 0 {
		b = 0
	}
	total := a + b
	if total == 0 {
		return 0.5, 0.5
	}
	return a / total, b / total
}

// ClampLimit applies a default to non-positive limits and caps the rest at maxVal.
func ClampLimit(limit, defaultVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > maxVal {
		return maxVal
	}
	return limit
}
