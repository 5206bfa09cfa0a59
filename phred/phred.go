// Package phred provides Phred quality-score math shared by the
// dereplicator, the error model, the paired-read merger, and the read
// filter.
package phred

import "math"

// All functions here assume input qual scores are never larger than
// (NQual - 1), and never return qual scores larger than that.
const NQual = 96

// errProbs[q] is the error probability implied by the nominal Phred score q,
// i.e. 10^(-q/10).
var errProbs [NQual]float64

func init() {
	for q := range errProbs {
		errProbs[q] = math.Exp(float64(q) * (-0.1 * math.Ln10))
	}
}

// Clamp caps a quality score at NQual-1.
func Clamp(q int) byte {
	if q < 0 {
		return 0
	}
	if q >= NQual {
		return NQual - 1
	}
	return byte(q)
}

// ErrProb returns the error probability implied by quality score q.
func ErrProb(q byte) float64 {
	if q >= NQual {
		q = NQual - 1
	}
	return errProbs[q]
}

// FromErrProb returns the quality score whose nominal error probability is
// closest to p. p must be in (0, 1].
func FromErrProb(p float64) byte {
	q := int(math.Round(math.Log10(p) * -10.0))
	return Clamp(q)
}

// ExpectedErrors returns the sum of per-base error probabilities for the
// quality string, the "expected errors" statistic used for read filtering.
func ExpectedErrors(quals []byte) float64 {
	var sum float64
	for _, q := range quals {
		sum += ErrProb(q)
	}
	return sum
}
