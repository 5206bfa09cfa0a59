package denoise

import (
	"context"
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/asv/align"
	"github.com/grailbio/asv/derep"
	"github.com/grailbio/asv/encoding/fastq"
	"github.com/grailbio/asv/phred"
)

func TestSeedModel(t *testing.T) {
	m := Seed()
	e := phred.ErrProb(20)
	assert.InDelta(t, 1-e, m.Prob('A', 'A', 20), 1e-12)
	assert.InDelta(t, e/3, m.Prob('A', 'C', 20), 1e-12)
	assert.InDelta(t, e/3, m.Prob('G', 'T', 20), 1e-12)
	// Ambiguous bases are neutral.
	expect.EQ(t, m.Prob('N', 'A', 20), 1.0)
	expect.EQ(t, m.Prob('A', 'N', 20), 1.0)
	// Quality scores past the table end clamp to the last entry.
	expect.EQ(t, m.Prob('A', 'A', 200), m.Prob('A', 'A', nQual-1))
}

func TestLambda(t *testing.T) {
	m := Seed()
	set, err := derep.Dereplicate(uniformReads("ACGA", 20, 1))
	require.NoError(t, err)
	u := set.Uniques[0]

	// "ACGT" read as "ACGA": three self columns plus one T->A substitution.
	subs := []align.Sub{{PosA: 3, PosB: 3, From: 'T', To: 'A'}}
	got := m.lambda("ACGT", u, subs, 0, 1e-4)
	self := m.Prob('A', 'A', 20)
	want := math.Pow(self, 3) * m.Prob('T', 'A', 20)
	assert.InEpsilon(t, want, got, 1e-9)

	// Identical sequence: pure self product.
	set2, err := derep.Dereplicate(uniformReads("ACGT", 20, 1))
	require.NoError(t, err)
	got = m.lambda("ACGT", set2.Uniques[0], nil, 0, 1e-4)
	assert.InEpsilon(t, math.Pow(self, 4), got, 1e-9)

	// Each gap column contributes the flat gap rate.
	got = m.lambda("ACGT", set2.Uniques[0], nil, 2, 1e-4)
	assert.InEpsilon(t, math.Pow(self, 4)*1e-8, got, 1e-9)
}

func TestEstimate(t *testing.T) {
	reads := append(uniformReads("AAAA", 20, 90), uniformReads("AAAT", 20, 10)...)
	set, err := derep.Dereplicate(reads)
	require.NoError(t, err)
	cs, err := Denoise(context.Background(), set, Seed(), DefaultOpts)
	require.NoError(t, err)
	require.Equal(t, 1, len(cs.Clusters))

	m := estimate(set, cs)
	// 10 A->T observations out of 400 A opportunities at q20, with +1/+4
	// smoothing.
	assert.InDelta(t, 11.0/404.0, m.Prob('A', 'T', 20), 1e-12)
	assert.InDelta(t, 391.0/404.0, m.Prob('A', 'A', 20), 1e-12)
	// Unobserved transitions keep a nonzero rate.
	assert.True(t, m.Prob('A', 'C', 20) > 0)
	// Qualities never seen in the data keep the nominal seed rates.
	seed := Seed()
	expect.EQ(t, m.Prob('C', 'G', 30), seed.Prob('C', 'G', 30))
}

// uniformReads returns n copies of seq with every position at quality q.
func uniformReads(seq string, q byte, n int) []fastq.Read {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = q
	}
	reads := make([]fastq.Read, n)
	for i := range reads {
		reads[i] = fastq.Read{Seq: seq, Qual: qual}
	}
	return reads
}
