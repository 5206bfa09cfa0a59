package merge

import (
	"context"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/asv/denoise"
	"github.com/grailbio/asv/derep"
	"github.com/grailbio/asv/encoding/fastq"
)

func uniformQual(n int, q byte) []byte {
	qual := make([]byte, n)
	for i := range qual {
		qual[i] = q
	}
	return qual
}

func TestReverseComplement(t *testing.T) {
	seq, qual := ReverseComplement("AACGT", []byte{10, 20, 30, 40, 50})
	expect.EQ(t, seq, "ACGTT")
	expect.EQ(t, qual, []byte{50, 40, 30, 20, 10})

	seq, qual = ReverseComplement("ANGT", nil)
	expect.EQ(t, seq, "ACNT")
	assert.Nil(t, qual)
}

func TestOne(t *testing.T) {
	opts := DefaultOpts
	opts.MinOverlap = 4
	res, ok, err := One(
		"AAAACCCCGGGG", uniformQual(12, 30),
		"CCCCGGGGTTTT", uniformQual(12, 35), opts)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, res.Seq, "AAAACCCCGGGGTTTT")
	expect.EQ(t, res.Overlap, 8)
	expect.EQ(t, res.Mismatches, 0)
	// Overlap positions take the higher quality of the two reads.
	expect.EQ(t, res.Qual, []byte{
		30, 30, 30, 30, 35, 35, 35, 35, 35, 35, 35, 35, 35, 35, 35, 35,
	})
}

func TestOneMismatchTakesHigherQual(t *testing.T) {
	opts := DefaultOpts
	opts.MinOverlap = 4
	opts.MaxMismatch = 2.0
	fq := uniformQual(12, 20)
	rq := uniformQual(12, 38)
	// Disagreement at the second overlap column; the reverse read wins on
	// quality.
	res, ok, err := One("AAAACCCCGGGG", fq, "CACCGGGGTTTT", rq, opts)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, res.Seq, "AAAACACCGGGGTTTT")
	expect.EQ(t, res.Mismatches, 1)
	expect.EQ(t, res.Qual[5], byte(38))
}

func TestOneRejectShortOverlap(t *testing.T) {
	opts := DefaultOpts
	opts.MinOverlap = 10
	_, ok, err := One(
		"AAAACCCCGGGG", nil,
		"CCCCGGGGTTTT", nil, opts)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOneRejectMismatches(t *testing.T) {
	opts := DefaultOpts
	opts.MinOverlap = 4
	opts.MaxMismatch = 0.5
	// One confident disagreement weighs close to 1 and exceeds the budget.
	_, ok, err := One(
		"AAAACCCCGGGG", uniformQual(12, 38),
		"CACCGGGGTTTT", uniformQual(12, 38), opts)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOneDegenerate(t *testing.T) {
	_, _, err := One("NNNN", nil, "ACGT", nil, DefaultOpts)
	assert.Error(t, err)
}

// Swapping the roles of the two reads produces the reverse complement of the
// original merge.
func TestOneOrientationIndependent(t *testing.T) {
	opts := DefaultOpts
	opts.MinOverlap = 4
	x := "TTGACGGCTAGCTCAGTCCT"
	y := "CAGTCCTAGGTACAGTGCTA"
	fwd, ok, err := One(x, uniformQual(len(x), 30), y, uniformQual(len(y), 30), opts)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, fwd.Seq, "TTGACGGCTAGCTCAGTCCTAGGTACAGTGCTA")

	rcY, _ := ReverseComplement(y, nil)
	rcX, _ := ReverseComplement(x, nil)
	rev, ok, err := One(rcY, uniformQual(len(y), 30), rcX, uniformQual(len(x), 30), opts)
	require.NoError(t, err)
	require.True(t, ok)
	want, _ := ReverseComplement(fwd.Seq, nil)
	expect.EQ(t, rev.Seq, want)
	expect.EQ(t, rev.Overlap, fwd.Overlap)
}

const amplicon = "TTGACGGCTAGCTCAGTCCTAGGTACAGTGCTAGCTACGATCACG"

func mutate(seq string, positions ...int) string {
	b := []byte(seq)
	for _, p := range positions {
		switch b[p] {
		case 'A':
			b[p] = 'G'
		case 'G':
			b[p] = 'A'
		case 'C':
			b[p] = 'T'
		default:
			b[p] = 'C'
		}
	}
	return string(b)
}

func sampleReads(t *testing.T, species map[string]int) (*derep.Set, *derep.Set) {
	t.Helper()
	var fwd, rev []fastq.Read
	for seq, n := range species {
		f := seq[:30]
		r, _ := ReverseComplement(seq[15:], nil)
		for i := 0; i < n; i++ {
			fwd = append(fwd, fastq.Read{Seq: f, Qual: uniformQual(len(f), 35)})
			rev = append(rev, fastq.Read{Seq: r, Qual: uniformQual(len(r), 35)})
		}
	}
	fwdSet, err := derep.Dereplicate(fwd)
	require.NoError(t, err)
	revSet, err := derep.Dereplicate(rev)
	require.NoError(t, err)
	return fwdSet, revSet
}

func TestPairs(t *testing.T) {
	ctx := context.Background()
	variant := mutate(amplicon, 5, 12, 22, 32, 40)
	fwdSet, revSet := sampleReads(t, map[string]int{
		amplicon: 300,
		variant:  300,
	})
	fwdCS, err := denoise.Denoise(ctx, fwdSet, denoise.Seed(), denoise.DefaultOpts)
	require.NoError(t, err)
	revCS, err := denoise.Denoise(ctx, revSet, denoise.Seed(), denoise.DefaultOpts)
	require.NoError(t, err)
	require.Equal(t, 2, len(fwdCS.Clusters))
	require.Equal(t, 2, len(revCS.Clusters))

	asvs, stats, err := Pairs(fwdCS, revCS, fwdSet, revSet, DefaultOpts)
	require.NoError(t, err)
	expect.EQ(t, stats.Pairs, 2)
	expect.EQ(t, stats.Merged, 2)
	expect.EQ(t, stats.Rejected, 0)
	require.Equal(t, 2, len(asvs))

	got := map[string]int{}
	for _, a := range asvs {
		got[a.Seq] = a.Abundance
		expect.EQ(t, len(a.Qual), len(a.Seq))
	}
	expect.EQ(t, got[amplicon], 300)
	expect.EQ(t, got[variant], 300)
}

func TestPairsCountMismatch(t *testing.T) {
	ctx := context.Background()
	fwdSet, _ := sampleReads(t, map[string]int{amplicon: 10})
	shortRev, err := derep.Dereplicate([]fastq.Read{
		{Seq: "ACGTACGTAC", Qual: uniformQual(10, 30)},
	})
	require.NoError(t, err)
	fwdCS, err := denoise.Denoise(ctx, fwdSet, denoise.Seed(), denoise.DefaultOpts)
	require.NoError(t, err)
	shortCS, err := denoise.Denoise(ctx, shortRev, denoise.Seed(), denoise.DefaultOpts)
	require.NoError(t, err)
	_, _, err = Pairs(fwdCS, shortCS, fwdSet, shortRev, DefaultOpts)
	assert.Error(t, err)
}
