// Package chimera flags amplicon sequence variants that are better explained
// as a two-parent splice of more abundant variants than as biological
// sequences. Chimeras form during PCR when an incomplete extension product
// primes a different template, so a chimera is always less abundant than
// both of its parents.
package chimera

import (
	"math"
	"sort"

	"github.com/biogo/store/llrb"

	"github.com/grailbio/asv/align"
)

// Candidate is one sequence variant to test, typically a merged ASV.
type Candidate struct {
	Seq       string
	Abundance int
}

// Opts configures chimera detection.
type Opts struct {
	// MinFoldParent is the minimum abundance ratio a parent must have over
	// the candidate.
	MinFoldParent float64
	// MaxMismatch is the largest total mismatch count at which a two-parent
	// model still flags the candidate.
	MaxMismatch int
	// MinSegmentLength is the minimum number of candidate positions each
	// parent must contribute on its side of the breakpoint.
	MinSegmentLength int
	// Align configures the pairwise aligner used against each parent.
	Align align.Params
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	MinFoldParent:    2.0,
	MaxMismatch:      0,
	MinSegmentLength: 4,
	Align:            align.DefaultParams,
}

// Flag records one flagged candidate and the two-parent model that explains
// it.
type Flag struct {
	// Index is the candidate's position in the input slice.
	Index int
	// LeftParent and RightParent index the parents contributing the
	// candidate's prefix and suffix.
	LeftParent, RightParent int
	// Breakpoint is the candidate position at which the model switches from
	// the left parent to the right one.
	Breakpoint int
	// Mismatches is the total mismatch count of the model.
	Mismatches int
}

// Report summarizes one Detect call.
type Report struct {
	Flags []Flag
	// Checked is the number of candidates with at least one eligible parent
	// pair.
	Checked int
	// Degenerate is the number of candidates skipped because they could not
	// be aligned.
	Degenerate int
	// FlaggedReads is the total abundance removed.
	FlaggedReads int
}

type parentKey struct {
	abundance int
	index     int
}

func (k parentKey) Compare(c llrb.Comparable) int {
	k2 := c.(parentKey)
	if k.abundance != k2.abundance {
		return k.abundance - k2.abundance
	}
	return k.index - k2.index
}

// Detect tests every candidate against two-parent splice models built from
// strictly more abundant candidates and returns the candidates that survive,
// in input order, together with a report of what was flagged. Flagged
// abundances are dropped, not redistributed. A candidate is flagged when
// some breakpoint splits it into a prefix explained by one parent and a
// suffix explained by another with at most opts.MaxMismatch total
// mismatches, both segments at least opts.MinSegmentLength long, and the
// two-parent model strictly better than either parent alone.
func Detect(candidates []Candidate, opts Opts) ([]Candidate, Report, error) {
	var rep Report
	if len(candidates) == 0 {
		return nil, rep, nil
	}

	// All candidates are potential parents; the tree orders them by
	// (abundance, index) so the eligible range for any threshold is a
	// contiguous scan.
	parents := &llrb.Tree{}
	for i, c := range candidates {
		parents.Insert(parentKey{abundance: c.Abundance, index: i})
	}

	// Test in ascending abundance order so reports are deterministic.
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		ci, cj := candidates[order[i]], candidates[order[j]]
		if ci.Abundance != cj.Abundance {
			return ci.Abundance < cj.Abundance
		}
		return order[i] < order[j]
	})

	flagged := make([]bool, len(candidates))
	for _, ci := range order {
		cand := candidates[ci]
		if align.Degenerate(cand.Seq) {
			rep.Degenerate++
			continue
		}
		threshold := int(math.Ceil(opts.MinFoldParent * float64(cand.Abundance)))
		if threshold <= cand.Abundance {
			threshold = cand.Abundance + 1
		}
		var eligible []int
		parents.DoRange(func(c llrb.Comparable) bool {
			k := c.(parentKey)
			if k.index != ci {
				eligible = append(eligible, k.index)
			}
			return false
		}, parentKey{abundance: threshold, index: math.MinInt32},
			parentKey{abundance: math.MaxInt32, index: math.MaxInt32})
		if len(eligible) < 2 {
			continue
		}
		rep.Checked++

		// Prefix mismatch profile of the candidate against each parent.
		profiles := make(map[int][]int, len(eligible))
		usable := eligible[:0]
		for _, pi := range eligible {
			pre, err := prefixMismatches(cand.Seq, candidates[pi].Seq, opts.Align)
			if err != nil {
				continue
			}
			profiles[pi] = pre
			usable = append(usable, pi)
		}

		if f, ok := bestModel(ci, len(cand.Seq), usable, profiles, opts); ok {
			flagged[ci] = true
			rep.Flags = append(rep.Flags, f)
			rep.FlaggedReads += cand.Abundance
		}
	}

	clean := make([]Candidate, 0, len(candidates))
	for i, c := range candidates {
		if !flagged[i] {
			clean = append(clean, c)
		}
	}
	return clean, rep, nil
}

// bestModel scans every ordered parent pair and breakpoint for the candidate
// and returns the lowest-mismatch model, breaking ties toward the leftmost
// breakpoint and then the parent order. ok is false when no model is good
// enough.
func bestModel(ci, n int, parents []int, profiles map[int][]int, opts Opts) (Flag, bool) {
	minSeg := opts.MinSegmentLength
	if minSeg < 1 {
		minSeg = 1
	}
	best := Flag{Index: ci, Mismatches: math.MaxInt32}
	found := false
	for _, li := range parents {
		preL := profiles[li]
		fullL := preL[n]
		for _, ri := range parents {
			if ri == li {
				continue
			}
			preR := profiles[ri]
			fullR := preR[n]
			for b := minSeg; b <= n-minSeg; b++ {
				total := preL[b] + (preR[n] - preR[b])
				if total > opts.MaxMismatch {
					continue
				}
				// The splice must beat both single-parent explanations,
				// otherwise the candidate is a plain variant of one parent.
				if total >= fullL || total >= fullR {
					continue
				}
				if !found || total < best.Mismatches ||
					(total == best.Mismatches && b < best.Breakpoint) {
					found = true
					best.LeftParent, best.RightParent = li, ri
					best.Breakpoint = b
					best.Mismatches = total
				}
			}
		}
	}
	return best, found
}

// prefixMismatches aligns the candidate against a parent and returns
// pre[0..n] where pre[i] is the number of mismatching or gapped alignment
// columns attributed to the first i candidate positions.
func prefixMismatches(cand, parent string, p align.Params) ([]int, error) {
	al, err := align.Global(cand, parent, p)
	if err != nil {
		return nil, err
	}
	n := len(cand)
	counts := make([]int, n)
	pos := 0
	for i := 0; i < len(al.RowA); i++ {
		ba, bb := al.RowA[i], al.RowB[i]
		if ba != bb {
			at := pos
			if at >= n {
				at = n - 1
			}
			counts[at]++
		}
		if ba != '-' {
			pos++
		}
	}
	pre := make([]int, n+1)
	for i := 0; i < n; i++ {
		pre[i+1] = pre[i] + counts[i]
	}
	return pre, nil
}
