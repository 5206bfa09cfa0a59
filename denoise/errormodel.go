package denoise

import (
	"github.com/grailbio/asv/align"
	"github.com/grailbio/asv/derep"
	"github.com/grailbio/asv/phred"
)

const nQual = phred.NQual

// numTrans is the number of (reference base, observed base) transition types.
const numTrans = 16

// ErrorModel maps (transition type, observed quality score) to a
// substitution probability. A model is immutable once returned by Seed or
// Learn; sample pipelines share it by reference.
type ErrorModel struct {
	rates [numTrans][nQual]float64
}

var baseIndex [256]int8

func init() {
	for i := range baseIndex {
		baseIndex[i] = -1
	}
	baseIndex['A'], baseIndex['a'] = 0, 0
	baseIndex['C'], baseIndex['c'] = 1, 1
	baseIndex['G'], baseIndex['g'] = 2, 2
	baseIndex['T'], baseIndex['t'] = 3, 3
}

func transIndex(from, to byte) int {
	fi, ti := baseIndex[from], baseIndex[to]
	if fi < 0 || ti < 0 {
		return -1
	}
	return int(fi)*4 + int(ti)
}

// Seed builds the round-0 model from the nominal quality-score-to-probability
// conversion: at quality q the self transition has probability 1-e(q) and
// each of the three substitutions e(q)/3.
func Seed() *ErrorModel {
	m := &ErrorModel{}
	for q := 0; q < nQual; q++ {
		e := phred.ErrProb(byte(q))
		for from := 0; from < 4; from++ {
			for to := 0; to < 4; to++ {
				if from == to {
					m.rates[from*4+to][q] = 1.0 - e
				} else {
					m.rates[from*4+to][q] = e / 3.0
				}
			}
		}
	}
	return m
}

// Prob returns the probability of observing base to at quality q when the
// true base is from. Transitions involving an ambiguous base get the neutral
// probability 1.
func (m *ErrorModel) Prob(from, to, q byte) float64 {
	t := transIndex(from, to)
	if t < 0 {
		return 1.0
	}
	if q >= nQual {
		q = nQual - 1
	}
	return m.rates[t][q]
}

// lambda returns the probability that a read of the cluster center comes off
// the sequencer as the member sequence: the product over aligned positions
// of the per-position transition probability, with gap columns contributing
// gapErrorRate each.
func (m *ErrorModel) lambda(center string, member *derep.Unique, subs []align.Sub, gaps int, gapErrorRate float64) float64 {
	lam := 1.0
	n := len(center)
	if len(member.Seq) < n {
		n = len(member.Seq)
	}
	// Match contribution for every shared position, corrected below at the
	// substituted positions.
	for p := 0; p < n; p++ {
		lam *= m.Prob(center[p], center[p], member.MeanQual(p))
	}
	for _, s := range subs {
		q := member.MeanQual(s.PosB)
		self := m.Prob(s.From, s.From, q)
		if s.PosA < n && self > 0 {
			lam /= self
		}
		lam *= m.Prob(s.From, s.To, q)
	}
	for g := 0; g < gaps; g++ {
		lam *= gapErrorRate
	}
	return lam
}

// estimate re-fits the model from a converged partition: for every aligned
// (center base, member base, quality) column the observed transitions are
// counted against the opportunities, with Laplace smoothing so unobserved
// transitions keep a nonzero rate.
func estimate(set *derep.Set, cs *ClusterSet) *ErrorModel {
	var obs [numTrans][nQual]float64
	var opps [4][nQual]float64

	for _, cl := range cs.Clusters {
		for _, mem := range cl.Members {
			u := set.Uniques[mem.Unique]
			w := float64(u.Abundance)
			n := len(cl.Center)
			if len(u.Seq) < n {
				n = len(u.Seq)
			}
			subAt := map[int]align.Sub{}
			for _, s := range mem.Subs {
				subAt[s.PosA] = s
			}
			for p := 0; p < n; p++ {
				from := cl.Center[p]
				fi := baseIndex[from]
				if fi < 0 {
					continue
				}
				s, isSub := subAt[p]
				var to byte
				var q byte
				if isSub {
					to = s.To
					q = u.MeanQual(s.PosB)
				} else {
					to = from
					q = u.MeanQual(p)
				}
				t := transIndex(from, to)
				if t < 0 {
					continue
				}
				obs[t][q] += w
				opps[fi][q] += w
			}
		}
	}

	m := &ErrorModel{}
	seed := Seed()
	for from := 0; from < 4; from++ {
		for q := 0; q < nQual; q++ {
			if opps[from][q] == 0 {
				// No observations at this quality; keep the nominal rates
				// rather than letting Laplace smoothing flatten them to 1/4.
				for to := 0; to < 4; to++ {
					m.rates[from*4+to][q] = seed.rates[from*4+to][q]
				}
				continue
			}
			denom := opps[from][q] + 4.0
			for to := 0; to < 4; to++ {
				m.rates[from*4+to][q] = (obs[from*4+to][q] + 1.0) / denom
			}
		}
	}
	return m
}
