// Package merge joins denoised forward and reverse reads of paired-end
// amplicon sequencing into full-length sequences. Merging happens after
// denoising, so each merge operates on a pair of cluster centers rather than
// on raw reads.
package merge

import (
	"github.com/grailbio/asv/align"
	"github.com/grailbio/asv/phred"
)

// Opts configures overlap detection and mismatch tolerance.
type Opts struct {
	// MinOverlap is the smallest acceptable overlap, in columns, between the
	// forward read and the reverse-complemented reverse read.
	MinOverlap int
	// MaxMismatch is the largest acceptable quality-weighted mismatch total
	// within the overlap. Each mismatch column contributes the product of the
	// two bases' call confidences, so disagreements between low-quality bases
	// count less than disagreements between high-quality ones.
	MaxMismatch float64
	// Align configures the ends-free aligner.
	Align align.Params
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	MinOverlap:  12,
	MaxMismatch: 1.0,
	Align:       align.DefaultParams,
}

// Result is one successfully merged sequence.
type Result struct {
	Seq  string
	Qual []byte
	// Overlap is the number of alignment columns shared by the two reads.
	Overlap int
	// Mismatches is the raw count of disagreeing overlap columns.
	Mismatches int
}

var complement [256]byte

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	complement['A'], complement['a'] = 'T', 'T'
	complement['C'], complement['c'] = 'G', 'G'
	complement['G'], complement['g'] = 'C', 'C'
	complement['T'], complement['t'] = 'A', 'A'
	complement['N'], complement['n'] = 'N', 'N'
}

// ReverseComplement returns the reverse complement of seq and, when qual is
// non-nil, the reversed quality vector to match.
func ReverseComplement(seq string, qual []byte) (string, []byte) {
	n := len(seq)
	rc := make([]byte, n)
	for i := 0; i < n; i++ {
		rc[i] = complement[seq[n-1-i]]
	}
	var rq []byte
	if qual != nil {
		rq = make([]byte, len(qual))
		for i := range qual {
			rq[i] = qual[len(qual)-1-i]
		}
	}
	return string(rc), rq
}

// One merges a forward sequence with an already reverse-complemented reverse
// sequence. Qualities may be nil, in which case the corresponding bases are
// treated as maximally reliable. ok is false when the pair does not overlap
// acceptably; an error is returned only for sequences that cannot be aligned
// at all.
func One(fwd string, fwdQual []byte, rcRev string, rcRevQual []byte, opts Opts) (Result, bool, error) {
	al, err := align.Overlap(fwd, rcRev, opts.Align)
	if err != nil {
		return Result{}, false, err
	}
	if al.OverlapLen() < opts.MinOverlap {
		return Result{}, false, nil
	}

	qualAt := func(qual []byte, pos int) byte {
		if qual == nil || pos >= len(qual) {
			return phred.NQual - 1
		}
		return qual[pos]
	}

	var seq, qual []byte
	mismatches := 0
	weighted := 0.0
	posA, posB := 0, 0
	for i := 0; i < len(al.RowA); i++ {
		ba, bb := al.RowA[i], al.RowB[i]
		switch {
		case ba == '-':
			seq = append(seq, bb)
			qual = append(qual, qualAt(rcRevQual, posB))
		case bb == '-':
			seq = append(seq, ba)
			qual = append(qual, qualAt(fwdQual, posA))
		case ba == bb:
			qa, qb := qualAt(fwdQual, posA), qualAt(rcRevQual, posB)
			if qb > qa {
				qa = qb
			}
			seq = append(seq, ba)
			qual = append(qual, qa)
		default:
			qa, qb := qualAt(fwdQual, posA), qualAt(rcRevQual, posB)
			mismatches++
			weighted += (1 - phred.ErrProb(qa)) * (1 - phred.ErrProb(qb))
			if qa >= qb {
				seq = append(seq, ba)
				qual = append(qual, qa)
			} else {
				seq = append(seq, bb)
				qual = append(qual, qb)
			}
		}
		if ba != '-' {
			posA++
		}
		if bb != '-' {
			posB++
		}
	}
	if weighted > opts.MaxMismatch {
		return Result{}, false, nil
	}
	return Result{
		Seq:        string(seq),
		Qual:       qual,
		Overlap:    al.OverlapLen(),
		Mismatches: mismatches,
	}, true, nil
}
