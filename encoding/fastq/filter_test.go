package fastq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(seq string, qual byte) Read {
	q := make([]byte, len(seq))
	for i := range q {
		q[i] = qual
	}
	return Read{ID: "@r", Seq: seq, Qual: q}
}

func TestFilterTruncQ(t *testing.T) {
	p := FilterParams{TruncQ: 2, MinLen: 4}
	var stats FilterStats
	r := read("ACGTACGT", 38)
	r.Qual[6] = 2
	require.True(t, p.FilterRead(&r, &stats))
	assert.Equal(t, "ACGTAC", r.Seq)
	assert.Equal(t, 6, len(r.Qual))
}

func TestFilterTruncLen(t *testing.T) {
	p := FilterParams{TruncLen: 6}
	var stats FilterStats
	r := read("ACGTACGT", 38)
	require.True(t, p.FilterRead(&r, &stats))
	assert.Equal(t, "ACGTAC", r.Seq)

	short := read("ACGT", 38)
	assert.False(t, p.FilterRead(&short, &stats))
	assert.Equal(t, 1, stats.ShortAfterTrunc)
}

func TestFilterMaxN(t *testing.T) {
	p := FilterParams{MaxN: 0}
	var stats FilterStats
	r := read("ACGTNCGT", 38)
	assert.False(t, p.FilterRead(&r, &stats))
	assert.Equal(t, 1, stats.TooManyN)
}

func TestFilterMaxEE(t *testing.T) {
	p := FilterParams{MaxEE: 1.0}
	var stats FilterStats
	good := read("ACGTACGT", 38)
	assert.True(t, p.FilterRead(&good, &stats))
	// Phred 5 implies ~0.32 errors per base; 8 bases far exceed 1 expected
	// error.
	bad := read("ACGTACGT", 5)
	assert.False(t, p.FilterRead(&bad, &stats))
	assert.Equal(t, 1, stats.ExceededMaxEE)
}

func TestFilterPairMateDiscard(t *testing.T) {
	p := FilterParams{MaxEE: 1.0}
	var s1, s2 FilterStats
	r1 := read("ACGTACGT", 38)
	r2 := read("ACGTACGT", 5)
	assert.False(t, FilterPair(&r1, &r2, p, p, &s1, &s2))
	assert.Equal(t, 0, s1.Out)
	assert.Equal(t, 1, s1.DiscardedByMate)
	assert.Equal(t, 1, s2.ExceededMaxEE)
}

func TestFilterParamsValidate(t *testing.T) {
	assert.Error(t, FilterParams{TruncLen: 10, MinLen: 20}.Validate())
	assert.NoError(t, DefaultFilterParams.Validate())
}

func TestDownsample(t *testing.T) {
	var in1, in2 strings.Builder
	for i := 0; i < 100; i++ {
		in1.WriteString("@r\nACGT\n+\nAAAA\n")
		in2.WriteString("@r\nTGCA\n+\nAAAA\n")
	}
	var out1, out2 bytes.Buffer
	require.NoError(t, Downsample(0.5, strings.NewReader(in1.String()), strings.NewReader(in2.String()), &out1, &out2))
	n1 := strings.Count(out1.String(), "@r\n")
	n2 := strings.Count(out2.String(), "@r\n")
	assert.Equal(t, n1, n2)
	assert.True(t, n1 > 20 && n1 < 80, "n1=%d", n1)
}
