// Package align implements banded Needleman-Wunsch pairwise alignment of DNA
// sequences. It is the shared alignment primitive for the denoiser (global
// mode), the paired-read merger (ends-free overlap mode), and the chimera
// detector (global mode).
package align

import (
	"errors"
	"math"

	"github.com/grailbio/asv/phred"
)

var (
	// ErrDegenerate is returned when a sequence cannot be meaningfully
	// aligned (empty, or containing no ACGT base). The caller is expected to
	// drop the offending sequence and continue with the rest of the batch.
	ErrDegenerate = errors.New("degenerate sequence")
)

// Params configures the alignment scoring model. All penalties are
// non-negative; they are subtracted from the score.
type Params struct {
	// Match is the score awarded per matching column.
	Match float64
	// Mismatch is the penalty per substitution column.
	Mismatch float64
	// Gap is the penalty per gapped column (linear gap model).
	Gap float64
	// Band restricts the DP to cells within Band of the main diagonal.
	// Band <= 0 computes the full matrix. Banding applies to global mode
	// only; ends-free mode always computes the full matrix because the
	// optimal overlap path may sit far from the main diagonal.
	Band int
	// EndsFree makes leading and trailing gaps in either sequence free,
	// turning the alignment into an overlap (suffix/prefix or containment)
	// alignment.
	EndsFree bool
}

// DefaultParams is the scoring model used by the denoiser: unit costs and a
// band wide enough for the small edit distances seen between amplicon
// variants.
var DefaultParams = Params{Match: 1, Mismatch: 1, Gap: 1, Band: 16}

// Alignment is the result of aligning sequence A against sequence B. RowA and
// RowB are equal-length byte rows over {A,C,G,T,N,'-'}.
type Alignment struct {
	RowA, RowB []byte
	Score      float64
	// OverlapStart and OverlapEnd delimit the columns where both sequences
	// are present. In global mode this is the whole alignment; in ends-free
	// mode it excludes the unaligned overhangs.
	OverlapStart, OverlapEnd int
}

// Sub is one substitution column of an alignment, in the coordinates of both
// input sequences.
type Sub struct {
	PosA, PosB int
	From, To   byte
}

const gapByte = '-'

// Mismatches counts substitution columns within the overlap region.
func (a *Alignment) Mismatches() int {
	n := 0
	for i := a.OverlapStart; i < a.OverlapEnd; i++ {
		if a.RowA[i] != gapByte && a.RowB[i] != gapByte && a.RowA[i] != a.RowB[i] {
			n++
		}
	}
	return n
}

// Gaps counts gapped columns within the overlap region.
func (a *Alignment) Gaps() int {
	n := 0
	for i := a.OverlapStart; i < a.OverlapEnd; i++ {
		if a.RowA[i] == gapByte || a.RowB[i] == gapByte {
			n++
		}
	}
	return n
}

// EditDistance is the number of substitution plus gap columns within the
// overlap region.
func (a *Alignment) EditDistance() int { return a.Mismatches() + a.Gaps() }

// OverlapLen is the number of columns in the overlap region.
func (a *Alignment) OverlapLen() int { return a.OverlapEnd - a.OverlapStart }

// Subs lists the substitution columns within the overlap region, with
// positions in A and B coordinates.
func (a *Alignment) Subs() []Sub {
	var subs []Sub
	posA, posB := 0, 0
	for i := 0; i < len(a.RowA); i++ {
		ba, bb := a.RowA[i], a.RowB[i]
		if ba != gapByte && bb != gapByte && ba != bb && i >= a.OverlapStart && i < a.OverlapEnd {
			subs = append(subs, Sub{PosA: posA, PosB: posB, From: ba, To: bb})
		}
		if ba != gapByte {
			posA++
		}
		if bb != gapByte {
			posB++
		}
	}
	return subs
}

// Degenerate reports whether seq cannot be meaningfully aligned: empty, or
// containing no unambiguous base. Callers exclude such sequences from their
// batch and continue.
func Degenerate(seq string) bool {
	if len(seq) == 0 {
		return true
	}
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
			return false
		}
	}
	return true
}

// Global aligns a against b end to end and returns the optimal-score
// alignment. Among equal-score alignments the traceback prefers diagonal,
// then up (gap in b), then left (gap in a), which places gaps as far right
// as possible.
func Global(a, b string, p Params) (Alignment, error) {
	if Degenerate(a) || Degenerate(b) {
		return Alignment{}, ErrDegenerate
	}
	return alignDP(a, b, nil, nil, p)
}

// Overlap aligns a against b in ends-free mode: leading and trailing gaps in
// either sequence are free. It is used to find the suffix/prefix overlap of a
// forward read against a reverse-complemented reverse read.
func Overlap(a, b string, p Params) (Alignment, error) {
	if Degenerate(a) || Degenerate(b) {
		return Alignment{}, ErrDegenerate
	}
	p.EndsFree = true
	return alignDP(a, b, nil, nil, p)
}

// GlobalQual is Global with a quality-aware mismatch penalty: each mismatch
// penalty is scaled by 1-e, where e is the larger of the two bases' implied
// error probabilities. Mismatches at unreliable positions therefore cost
// less. qualA and qualB may be nil, in which case the corresponding sequence
// is treated as maximally reliable.
func GlobalQual(a, b string, qualA, qualB []byte, p Params) (Alignment, error) {
	if Degenerate(a) || Degenerate(b) {
		return Alignment{}, ErrDegenerate
	}
	return alignDP(a, b, qualA, qualB, p)
}

// alignDP fills a row-major (len(a)+1) x (len(b)+1) score table and traces
// back. Cells outside the band hold -inf and are never chosen.
func alignDP(a, b string, qualA, qualB []byte, p Params) (Alignment, error) {
	r, c := len(a)+1, len(b)+1
	band := p.Band
	if d := len(a) - len(b); band > 0 {
		// The terminal cell must sit inside the band.
		if d < 0 {
			d = -d
		}
		if band < d {
			band = d
		}
	}
	if p.EndsFree || band <= 0 || band >= r || band >= c {
		band = 0 // full matrix
	}
	negInf := math.Inf(-1)
	table := make([]float64, r*c)
	if band > 0 {
		for i := range table {
			table[i] = negInf
		}
	}

	mismatchPenalty := func(i, j int) float64 {
		// i, j are 1-based DP coordinates.
		pen := p.Mismatch
		if qualA == nil && qualB == nil {
			return pen
		}
		e := 0.0
		if qualA != nil {
			e = phred.ErrProb(qualA[i-1])
		}
		if qualB != nil {
			if e2 := phred.ErrProb(qualB[j-1]); e2 > e {
				e = e2
			}
		}
		return pen * (1.0 - e)
	}

	// Boundary conditions.
	table[0] = 0
	for j := 1; j < c; j++ {
		if band > 0 && j > band {
			break
		}
		if p.EndsFree {
			table[j] = 0
		} else {
			table[j] = -p.Gap * float64(j)
		}
	}
	for i := 1; i < r; i++ {
		if band > 0 && i > band {
			break
		}
		if p.EndsFree {
			table[i*c] = 0
		} else {
			table[i*c] = -p.Gap * float64(i)
		}
	}

	for i := 1; i < r; i++ {
		jLo, jHi := 1, c-1
		if band > 0 {
			if i-band > jLo {
				jLo = i - band
			}
			if i+band < jHi {
				jHi = i + band
			}
		}
		for j := jLo; j <= jHi; j++ {
			var diag float64
			if a[i-1] == b[j-1] {
				diag = table[(i-1)*c+(j-1)] + p.Match
			} else {
				diag = table[(i-1)*c+(j-1)] - mismatchPenalty(i, j)
			}
			up := table[(i-1)*c+j] - p.Gap
			left := table[i*c+(j-1)] - p.Gap
			best := diag
			if up > best {
				best = up
			}
			if left > best {
				best = left
			}
			table[i*c+j] = best
		}
	}

	// Pick the traceback origin. Global mode ends at (r-1, c-1); ends-free
	// mode ends at the best cell on the last row or column.
	ei, ej := r-1, c-1
	if p.EndsFree {
		best := negInf
		for j := 0; j < c; j++ {
			if s := table[(r-1)*c+j]; s > best {
				best, ei, ej = s, r-1, j
			}
		}
		for i := 0; i < r; i++ {
			if s := table[i*c+(c-1)]; s > best {
				best, ei, ej = s, i, c-1
			}
		}
	}

	al := Alignment{Score: table[ei*c+ej]}
	var rowA, rowB []byte

	// Trailing overhang (ends-free only).
	for i := r - 1; i > ei; i-- {
		rowA = append(rowA, a[i-1])
		rowB = append(rowB, gapByte)
	}
	for j := c - 1; j > ej; j-- {
		rowA = append(rowA, gapByte)
		rowB = append(rowB, b[j-1])
	}
	trailing := len(rowA)

	i, j := ei, ej
	for i > 0 && j > 0 {
		cur := table[i*c+j]
		var diag float64
		if a[i-1] == b[j-1] {
			diag = table[(i-1)*c+(j-1)] + p.Match
		} else {
			diag = table[(i-1)*c+(j-1)] - mismatchPenalty(i, j)
		}
		switch {
		case cur == diag:
			i--
			j--
			rowA = append(rowA, a[i])
			rowB = append(rowB, b[j])
		case cur == table[(i-1)*c+j]-p.Gap:
			i--
			rowA = append(rowA, a[i])
			rowB = append(rowB, gapByte)
		default:
			j--
			rowA = append(rowA, gapByte)
			rowB = append(rowB, b[j])
		}
	}
	// Leading overhang.
	for ; i > 0; i-- {
		rowA = append(rowA, a[i-1])
		rowB = append(rowB, gapByte)
	}
	for ; j > 0; j-- {
		rowA = append(rowA, gapByte)
		rowB = append(rowB, b[j-1])
	}

	reverseBytes(rowA)
	reverseBytes(rowB)
	al.RowA, al.RowB = rowA, rowB

	al.OverlapStart = 0
	al.OverlapEnd = len(rowA)
	if p.EndsFree {
		// The overlap region starts once both sequences have begun and ends
		// when the first of them runs out.
		start := 0
		for start < len(rowA) && (rowA[start] == gapByte || rowB[start] == gapByte) {
			start++
		}
		al.OverlapStart = start
		al.OverlapEnd = len(rowA) - trailing
		if al.OverlapEnd < al.OverlapStart {
			al.OverlapEnd = al.OverlapStart
		}
	}
	return al, nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
