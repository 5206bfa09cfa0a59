package align

import (
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// With Match=0 and unit mismatch/gap penalties, -Score equals the
// Levenshtein distance.
var editParams = Params{Match: 0, Mismatch: 1, Gap: 1}

func TestGlobalMatchesLevenshtein(t *testing.T) {
	pairs := [][2]string{
		{"ACGTACGT", "ACGTACGT"},
		{"ACGTACGT", "ACGTTCGT"},
		{"ACGTACGT", "ACGACGT"},
		{"ACGTACGT", "ACGTAACGT"},
		{"AAAA", "TTTT"},
		{"GATTACA", "GCATGCT"},
		{"ACCGGTTA", "AGGTTACC"},
	}
	for _, p := range pairs {
		al, err := Global(p[0], p[1], editParams)
		require.NoError(t, err)
		want := matchr.Levenshtein(p[0], p[1])
		assert.Equal(t, want, -int(al.Score), "align(%s,%s)", p[0], p[1])
		assert.Equal(t, want, al.EditDistance(), "editdist(%s,%s)", p[0], p[1])
	}
}

func TestGlobalScoreSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"ACGTACGT", "ACGTTCGT"},
		{"ACGTACGT", "ACGACGTT"},
		{"GATTACA", "GCATGCT"},
	}
	for _, p := range pairs {
		fwd, err := Global(p[0], p[1], DefaultParams)
		require.NoError(t, err)
		rev, err := Global(p[1], p[0], DefaultParams)
		require.NoError(t, err)
		expect.EQ(t, fwd.Score, rev.Score)
	}
}

func TestGlobalRows(t *testing.T) {
	al, err := Global("ACGTACGT", "ACGTTCGT", editParams)
	require.NoError(t, err)
	expect.EQ(t, string(al.RowA), "ACGTACGT")
	expect.EQ(t, string(al.RowB), "ACGTTCGT")
	expect.EQ(t, al.Mismatches(), 1)
	expect.EQ(t, al.Gaps(), 0)

	subs := al.Subs()
	require.Equal(t, 1, len(subs))
	expect.EQ(t, subs[0], Sub{PosA: 4, PosB: 4, From: 'A', To: 'T'})
}

func TestBandedEqualsFull(t *testing.T) {
	a := "ACGTACGTACGTACGTACGT"
	b := "ACGTACGAACGTACGTACGT" // one substitution
	full, err := Global(a, b, Params{Match: 1, Mismatch: 1, Gap: 2})
	require.NoError(t, err)
	banded, err := Global(a, b, Params{Match: 1, Mismatch: 1, Gap: 2, Band: 4})
	require.NoError(t, err)
	expect.EQ(t, banded.Score, full.Score)
	expect.EQ(t, string(banded.RowA), string(full.RowA))
	expect.EQ(t, string(banded.RowB), string(full.RowB))
}

func TestOverlapSuffixPrefix(t *testing.T) {
	// a:  AAAACCCCGGGG
	// b:      CCCCGGGGTTTT
	al, err := Overlap("AAAACCCCGGGG", "CCCCGGGGTTTT", DefaultParams)
	require.NoError(t, err)
	expect.EQ(t, al.OverlapLen(), 8)
	expect.EQ(t, al.Mismatches(), 0)
	expect.EQ(t, string(al.RowA), "AAAACCCCGGGG----")
	expect.EQ(t, string(al.RowB), "----CCCCGGGGTTTT")
}

func TestOverlapContainment(t *testing.T) {
	al, err := Overlap("CCCCGGGG", "AACCCCGGGGTT", DefaultParams)
	require.NoError(t, err)
	expect.EQ(t, al.OverlapLen(), 8)
	expect.EQ(t, al.Mismatches(), 0)
}

func TestOverlapWithMismatch(t *testing.T) {
	al, err := Overlap("AAAACCCTGGGG", "CCCCGGGGTTTT", DefaultParams)
	require.NoError(t, err)
	expect.EQ(t, al.OverlapLen(), 8)
	expect.EQ(t, al.Mismatches(), 1)
}

func TestDegenerate(t *testing.T) {
	_, err := Global("", "ACGT", DefaultParams)
	assert.Equal(t, ErrDegenerate, err)
	_, err = Global("ACGT", "NNNN", DefaultParams)
	assert.Equal(t, ErrDegenerate, err)
	_, err = Overlap("NNN", "ACGT", DefaultParams)
	assert.Equal(t, ErrDegenerate, err)
}

func TestQualAwareMismatch(t *testing.T) {
	a := "ACGTACGT"
	b := "ACGTTCGT"
	hi := []byte{40, 40, 40, 40, 40, 40, 40, 40}
	lo := []byte{40, 40, 40, 40, 2, 40, 40, 40}

	plain, err := GlobalQual(a, b, hi, hi, Params{Match: 1, Mismatch: 4, Gap: 4})
	require.NoError(t, err)
	cheap, err := GlobalQual(a, b, lo, lo, Params{Match: 1, Mismatch: 4, Gap: 4})
	require.NoError(t, err)
	// The mismatch sits at the low-quality position, so it must cost less.
	assert.True(t, cheap.Score > plain.Score, "cheap=%v plain=%v", cheap.Score, plain.Score)
}
