package denoise

import "math"

// tailProb returns the probability, under the configured distribution, of
// observing abundance >= a purely from sequencing errors, given the expected
// per-read error probability lambda and the cluster's total read count.
func tailProb(tail Tail, lambda float64, clusterReads, a int) float64 {
	switch tail {
	case BinomialTail:
		return binomialTail(clusterReads, lambda, a)
	default:
		return poissonTail(lambda*float64(clusterReads), a)
	}
}

// poissonTail returns P(X >= a) for X ~ Poisson(lambda).
func poissonTail(lambda float64, a int) float64 {
	if a <= 0 {
		return 1.0
	}
	if lambda <= 0 {
		return 0.0
	}
	if a == 1 {
		return -math.Expm1(-lambda)
	}
	if float64(a-1) <= lambda {
		// The tail is large; compute it as 1 - CDF(a-1).
		cdf := 0.0
		term := math.Exp(-lambda)
		cdf += term
		for k := 1; k < a; k++ {
			term *= lambda / float64(k)
			cdf += term
		}
		if cdf >= 1 {
			return 0.0
		}
		return 1.0 - cdf
	}
	// a-1 > lambda: terms decrease monotonically from k=a, so the series can
	// be summed directly in linear space (seeded in log space to avoid
	// overflow in lambda^a).
	lg, _ := math.Lgamma(float64(a) + 1)
	logTerm := -lambda + float64(a)*math.Log(lambda) - lg
	term := math.Exp(logTerm)
	sum := term
	for k := a; term > sum*1e-16 && k < a+10000; k++ {
		term *= lambda / float64(k+1)
		sum += term
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

// binomialTail returns P(X >= a) for X ~ Binomial(n, p).
func binomialTail(n int, p float64, a int) float64 {
	if a <= 0 {
		return 1.0
	}
	if p <= 0 || n <= 0 || a > n {
		return 0.0
	}
	if p >= 1 {
		return 1.0
	}
	lgN, _ := math.Lgamma(float64(n) + 1)
	lgA, _ := math.Lgamma(float64(a) + 1)
	lgNA, _ := math.Lgamma(float64(n-a) + 1)
	logTerm := lgN - lgA - lgNA + float64(a)*math.Log(p) + float64(n-a)*math.Log1p(-p)
	term := math.Exp(logTerm)
	sum := term
	ratio := p / (1 - p)
	for k := a; k < n; k++ {
		term *= float64(n-k) / float64(k+1) * ratio
		sum += term
		if term <= sum*1e-16 {
			break
		}
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}
