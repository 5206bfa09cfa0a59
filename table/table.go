// Package table assembles per-sample amplicon sequence variants into a
// samples x sequences count matrix, the final product of the pipeline.
package table

import (
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/unsafe"
	"github.com/minio/highwayhash"

	"github.com/grailbio/asv/merge"
)

// Sample is one sample's merged sequence variants.
type Sample struct {
	Name string
	ASVs []merge.ASV
}

type hashKey = [highwayhash.Size]uint8

var zeroSeed = hashKey{}

// Table is an immutable samples x sequence variants count matrix. Column
// order is the order in which sequences first appear across the input
// samples, so appending samples never reorders existing columns.
type Table struct {
	SampleNames []string
	Seqs        []string
	counts      [][]int
	// cols maps a sequence hash to candidate column indices; the slice
	// absorbs hash collisions.
	cols map[hashKey][]int
}

func (t *Table) col(seq string) (int, bool) {
	h := highwayhash.Sum(unsafe.StringToBytes(seq), zeroSeed[:])
	for _, ci := range t.cols[h] {
		if t.Seqs[ci] == seq {
			return ci, true
		}
	}
	return -1, false
}

func (t *Table) addCol(seq string) int {
	if ci, ok := t.col(seq); ok {
		return ci
	}
	ci := len(t.Seqs)
	t.Seqs = append(t.Seqs, seq)
	h := highwayhash.Sum(unsafe.StringToBytes(seq), zeroSeed[:])
	t.cols[h] = append(t.cols[h], ci)
	for si := range t.counts {
		t.counts[si] = append(t.counts[si], 0)
	}
	return ci
}

// Build assembles the count matrix. Sample names must be unique. Duplicate
// sequences within one sample have their abundances summed.
func Build(samples []Sample) (*Table, error) {
	t := &Table{cols: map[hashKey][]int{}}
	seen := map[string]bool{}
	for _, s := range samples {
		if seen[s.Name] {
			return nil, errors.E(errors.Invalid, "table: duplicate sample name", s.Name)
		}
		seen[s.Name] = true
		t.SampleNames = append(t.SampleNames, s.Name)
		t.counts = append(t.counts, make([]int, len(t.Seqs)))
		si := len(t.counts) - 1
		for _, a := range s.ASVs {
			ci := t.addCol(a.Seq)
			t.counts[si][ci] += a.Abundance
		}
	}
	return t, nil
}

// NumSamples returns the number of rows.
func (t *Table) NumSamples() int { return len(t.SampleNames) }

// NumSeqs returns the number of columns.
func (t *Table) NumSeqs() int { return len(t.Seqs) }

// Count returns the reads of sequence column ci in sample row si.
func (t *Table) Count(si, ci int) int { return t.counts[si][ci] }

// RowSum returns the total reads of sample row si.
func (t *Table) RowSum(si int) int {
	sum := 0
	for _, c := range t.counts[si] {
		sum += c
	}
	return sum
}

// ColTotal returns the total reads of sequence column ci across all samples.
func (t *Table) ColTotal(ci int) int {
	sum := 0
	for si := range t.counts {
		sum += t.counts[si][ci]
	}
	return sum
}

// Filter returns a new table containing only the columns for which keep
// returns true, preserving column order. It is how chimera-flagged sequences
// are removed.
func (t *Table) Filter(keep func(seq string, total int) bool) *Table {
	nt := &Table{
		SampleNames: t.SampleNames,
		cols:        map[hashKey][]int{},
		counts:      make([][]int, len(t.counts)),
	}
	var kept []int
	for ci, seq := range t.Seqs {
		if keep(seq, t.ColTotal(ci)) {
			kept = append(kept, ci)
			nci := len(nt.Seqs)
			nt.Seqs = append(nt.Seqs, seq)
			h := highwayhash.Sum(unsafe.StringToBytes(seq), zeroSeed[:])
			nt.cols[h] = append(nt.cols[h], nci)
		}
	}
	for si := range t.counts {
		row := make([]int, len(kept))
		for i, ci := range kept {
			row[i] = t.counts[si][ci]
		}
		nt.counts[si] = row
	}
	return nt
}

// WriteTSV writes the matrix with a header row of sequences and one row per
// sample.
func (t *Table) WriteTSV(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("sample")
	for _, seq := range t.Seqs {
		tw.WriteString(seq)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for si, name := range t.SampleNames {
		tw.WriteString(name)
		for ci := range t.Seqs {
			tw.WriteUint32(uint32(t.counts[si][ci]))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
