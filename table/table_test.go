package table

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/asv/merge"
)

func asv(seq string, n int) merge.ASV {
	return merge.ASV{Seq: seq, Abundance: n}
}

func TestBuild(t *testing.T) {
	tbl, err := Build([]Sample{
		{Name: "s1", ASVs: []merge.ASV{asv("AAAA", 10), asv("CCCC", 5)}},
		{Name: "s2", ASVs: []merge.ASV{asv("CCCC", 7), asv("GGGG", 3)}},
	})
	require.NoError(t, err)
	expect.EQ(t, tbl.NumSamples(), 2)
	expect.EQ(t, tbl.NumSeqs(), 3)
	// Columns appear in first-appearance order.
	expect.EQ(t, tbl.Seqs, []string{"AAAA", "CCCC", "GGGG"})
	expect.EQ(t, tbl.Count(0, 0), 10)
	expect.EQ(t, tbl.Count(0, 1), 5)
	expect.EQ(t, tbl.Count(0, 2), 0)
	expect.EQ(t, tbl.Count(1, 1), 7)
	expect.EQ(t, tbl.RowSum(0), 15)
	expect.EQ(t, tbl.RowSum(1), 10)
	expect.EQ(t, tbl.ColTotal(1), 12)
}

func TestBuildDuplicateSeqsInSample(t *testing.T) {
	tbl, err := Build([]Sample{
		{Name: "s1", ASVs: []merge.ASV{asv("AAAA", 4), asv("AAAA", 6)}},
	})
	require.NoError(t, err)
	expect.EQ(t, tbl.NumSeqs(), 1)
	expect.EQ(t, tbl.Count(0, 0), 10)
}

func TestBuildDuplicateSampleName(t *testing.T) {
	_, err := Build([]Sample{
		{Name: "s1"},
		{Name: "s1"},
	})
	assert.Error(t, err)
}

// Adding a sample never reorders the columns contributed by earlier samples.
func TestBuildColumnsAppendOnly(t *testing.T) {
	base := []Sample{
		{Name: "s1", ASVs: []merge.ASV{asv("AAAA", 1), asv("CCCC", 1)}},
	}
	tbl1, err := Build(base)
	require.NoError(t, err)
	tbl2, err := Build(append(base, Sample{
		Name: "s2", ASVs: []merge.ASV{asv("TTTT", 1), asv("AAAA", 1)},
	}))
	require.NoError(t, err)
	expect.EQ(t, tbl2.Seqs[:tbl1.NumSeqs()], tbl1.Seqs)
}

func TestFilter(t *testing.T) {
	tbl, err := Build([]Sample{
		{Name: "s1", ASVs: []merge.ASV{asv("AAAA", 10), asv("CCCC", 5)}},
		{Name: "s2", ASVs: []merge.ASV{asv("CCCC", 7), asv("GGGG", 3)}},
	})
	require.NoError(t, err)
	flagged := map[string]bool{"CCCC": true}
	ft := tbl.Filter(func(seq string, total int) bool { return !flagged[seq] })
	expect.EQ(t, ft.Seqs, []string{"AAAA", "GGGG"})
	expect.EQ(t, ft.Count(0, 0), 10)
	expect.EQ(t, ft.Count(1, 1), 3)
	expect.EQ(t, ft.RowSum(0), 10)
	// The original is untouched.
	expect.EQ(t, tbl.NumSeqs(), 3)

	ci, ok := ft.col("GGGG")
	assert.True(t, ok)
	expect.EQ(t, ci, 1)
	_, ok = ft.col("CCCC")
	assert.False(t, ok)
}

func TestWriteTSV(t *testing.T) {
	tbl, err := Build([]Sample{
		{Name: "s1", ASVs: []merge.ASV{asv("AAAA", 10)}},
		{Name: "s2", ASVs: []merge.ASV{asv("AAAA", 2), asv("CCCC", 3)}},
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tbl.WriteTSV(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, 3, len(lines))
	expect.EQ(t, lines[0], "sample\tAAAA\tCCCC")
	expect.EQ(t, lines[1], "s1\t10\t0")
	expect.EQ(t, lines[2], "s2\t2\t3")
}

func TestSpillRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill")
	w, err := NewSpillWriter(path)
	require.NoError(t, err)
	samples := []Sample{
		{Name: "s1", ASVs: []merge.ASV{{Seq: "AAAA", Qual: []byte{30, 30, 30, 30}, Abundance: 10}}},
		{Name: "s2", ASVs: []merge.ASV{asv("CCCC", 3), asv("GGGG", 1)}},
	}
	for _, s := range samples {
		require.NoError(t, w.Write(s))
	}
	require.NoError(t, w.Close())

	got, err := ReadSpill(path)
	require.NoError(t, err)
	require.Equal(t, len(samples), len(got))
	for i := range samples {
		expect.EQ(t, got[i].Name, samples[i].Name)
		require.Equal(t, len(samples[i].ASVs), len(got[i].ASVs))
		for j := range samples[i].ASVs {
			expect.EQ(t, got[i].ASVs[j].Seq, samples[i].ASVs[j].Seq)
			expect.EQ(t, got[i].ASVs[j].Abundance, samples[i].ASVs[j].Abundance)
		}
	}
	expect.EQ(t, got[0].ASVs[0].Qual, []byte{30, 30, 30, 30})
}
