package fastq

import (
	"strings"

	"github.com/grailbio/asv/phred"
	"github.com/pkg/errors"
)

// FilterParams controls the quality filtering and truncation pass applied to
// raw reads before dereplication.
type FilterParams struct {
	// TruncLen truncates each read to this length and discards reads that
	// are shorter. 0 disables length truncation.
	TruncLen int
	// TruncQ truncates the read at the first base with quality <= TruncQ.
	// 0 disables quality truncation.
	TruncQ byte
	// MaxEE discards reads whose expected-errors statistic (sum of per-base
	// error probabilities) exceeds this value. 0 disables the check.
	MaxEE float64
	// MaxN discards reads containing more than MaxN ambiguous bases.
	MaxN int
	// MinLen discards reads shorter than MinLen after truncation.
	MinLen int
}

// DefaultFilterParams matches the usual amplicon preset: no ambiguous bases,
// quality-2 tail truncation, expected errors capped at 2.
var DefaultFilterParams = FilterParams{
	TruncQ: 2,
	MaxEE:  2.0,
	MinLen: 20,
}

// Validate reports parameter combinations that can never pass a read.
func (p FilterParams) Validate() error {
	if p.TruncLen > 0 && p.MinLen > p.TruncLen {
		return errors.Errorf("min length %d exceeds truncation length %d", p.MinLen, p.TruncLen)
	}
	if p.MaxEE < 0 {
		return errors.New("max expected errors must be non-negative")
	}
	return nil
}

// FilterStats counts filtering outcomes.
type FilterStats struct {
	In, Out         int
	ShortAfterTrunc int
	TooManyN        int
	ExceededMaxEE   int
	DiscardedByMate int
}

// Merge adds the field values of the two FilterStats objects and creates new
// FilterStats.
func (s FilterStats) Merge(o FilterStats) FilterStats {
	s.In += o.In
	s.Out += o.Out
	s.ShortAfterTrunc += o.ShortAfterTrunc
	s.TooManyN += o.TooManyN
	s.ExceededMaxEE += o.ExceededMaxEE
	s.DiscardedByMate += o.DiscardedByMate
	return s
}

// FilterRead truncates r in place per the params and reports whether the
// read survives. Rejected reads are counted in stats and must not be used
// further.
func (p FilterParams) FilterRead(r *Read, stats *FilterStats) bool {
	stats.In++
	if p.TruncQ > 0 {
		for i, q := range r.Qual {
			if q <= p.TruncQ {
				r.Trim(i)
				break
			}
		}
	}
	if p.TruncLen > 0 {
		if len(r.Seq) < p.TruncLen {
			stats.ShortAfterTrunc++
			return false
		}
		r.Trim(p.TruncLen)
	}
	if len(r.Seq) < p.MinLen {
		stats.ShortAfterTrunc++
		return false
	}
	if strings.Count(r.Seq, "N") > p.MaxN {
		stats.TooManyN++
		return false
	}
	if p.MaxEE > 0 && phred.ExpectedErrors(r.Qual) > p.MaxEE {
		stats.ExceededMaxEE++
		return false
	}
	stats.Out++
	return true
}

// FilterPair filters both mates of a read pair. A pair survives only if both
// mates survive; a read rejected solely because of its mate is counted under
// DiscardedByMate.
func FilterPair(r1, r2 *Read, fwd, rev FilterParams, s1, s2 *FilterStats) bool {
	ok1 := fwd.FilterRead(r1, s1)
	ok2 := rev.FilterRead(r2, s2)
	if ok1 && !ok2 {
		s1.Out--
		s1.DiscardedByMate++
	}
	if ok2 && !ok1 {
		s2.Out--
		s2.DiscardedByMate++
	}
	return ok1 && ok2
}
