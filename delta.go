package healthsync

import "math"

// deltaEpsilon keeps relative deltas finite when both values are zero.
const deltaEpsilon = 1e-9

// RelativeDelta computes |a-b| / max(|a|, |b|, epsilon).
// Returns 0 for identical values and is symmetric in its arguments.
func RelativeDelta(a, b float64) float64 {
	if a == b {
		return 0
	}
	denom := math.Max(math.Max(math.Abs(a), math.Abs(b)), deltaEpsilon)
	return math.Abs(a-b) / denom
}

// MaxPairwiseDelta returns the largest relative delta across every pair of
// values. Fewer than two values yield 0.
func MaxPairwiseDelta(values []float64) float64 {
	var maxDelta float64
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			if d := RelativeDelta(values[i], values[j]); d > maxDelta {
				maxDelta = d
			}
		}
	}
	return maxDelta
}

// SeverityFor grades a delta against a tolerance. Deltas at or below the
// tolerance are not conflicts and report ok=false.
func SeverityFor(delta, tolerance float64) (sev Severity, ok bool) {
	if delta <= tolerance {
		return "", false
	}
	switch {
	case tolerance <= 0:
		return SeverityHigh, true
	case delta < 2*tolerance:
		return SeverityLow, true
	case delta < 4*tolerance:
		return SeverityMedium, true
	default:
		return SeverityHigh, true
	}
}
