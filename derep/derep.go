// Package derep collapses identical reads into unique sequences with
// abundances and per-position quality summaries. Dereplication is the first
// step of the per-sample pipeline; its output feeds error-model learning and
// denoising.
package derep

import (
	"errors"
	"sort"
	"sync"

	"blainsmith.com/go/seahash"
	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/unsafe"
	"github.com/grailbio/asv/encoding/fastq"
	"github.com/grailbio/asv/phred"
)

// ErrEmptyInput is returned when dereplicating zero reads.
var ErrEmptyInput = errors.New("derep: empty read set")

// Unique is one distinct base string with its total abundance and aggregated
// per-position quality.
type Unique struct {
	Seq string
	// Abundance is the number of reads that collapsed into this sequence.
	Abundance int

	// sumQual[i] is the sum of Phred scores contributed at position i;
	// counts[i] is the number of contributing reads (reads shorter than the
	// longest contributor cover a prefix only).
	sumQual []int64
	counts  []int32
	reads   []int32
}

// Len returns the sequence length.
func (u *Unique) Len() int { return len(u.Seq) }

// MeanQual returns the rounded mean Phred score at position pos.
func (u *Unique) MeanQual(pos int) byte {
	if pos >= len(u.sumQual) || u.counts[pos] == 0 {
		return 0
	}
	q := (u.sumQual[pos] + int64(u.counts[pos])/2) / int64(u.counts[pos])
	return phred.Clamp(int(q))
}

// Quals materializes the per-position mean quality vector.
func (u *Unique) Quals() []byte {
	q := make([]byte, len(u.Seq))
	for i := range q {
		q[i] = u.MeanQual(i)
	}
	return q
}

// Set is the result of dereplicating one sample. Uniques are sorted by
// descending abundance, ties broken by sequence, so output is deterministic
// and independent of read order.
type Set struct {
	Uniques []*Unique
	// ReadMap maps each input read index to its unique's index in Uniques.
	ReadMap []int32
	// TotalReads equals the sum of all abundances.
	TotalReads int
}

const numShards = 64

type shard struct {
	mu sync.Mutex
	// Keyed by farm hash of the sequence; the slice absorbs hash collisions.
	buckets map[uint64][]*Unique
}

func (s *shard) add(seq string, qual []byte, readIdx int32) {
	h := farm.Hash64(unsafe.StringToBytes(seq))
	var u *Unique
	for _, c := range s.buckets[h] {
		if c.Seq == seq {
			u = c
			break
		}
	}
	if u == nil {
		u = &Unique{
			Seq:     seq,
			sumQual: make([]int64, len(seq)),
			counts:  make([]int32, len(seq)),
		}
		s.buckets[h] = append(s.buckets[h], u)
	}
	u.Abundance++
	u.reads = append(u.reads, readIdx)
	for i, q := range qual {
		u.sumQual[i] += int64(q)
		u.counts[i]++
	}
}

// Dereplicate collapses the reads into unique sequences. The reads must
// already be filtered and length-normalized by the upstream fastq pass.
// Output does not depend on read order. Dereplicate fails with ErrEmptyInput
// on an empty read set.
func Dereplicate(reads []fastq.Read) (*Set, error) {
	if len(reads) == 0 {
		return nil, ErrEmptyInput
	}
	shards := make([]shard, numShards)
	for i := range shards {
		shards[i].buckets = map[uint64][]*Unique{}
	}
	// Reads are binned to shards by sequence hash, then each shard is
	// collapsed independently. Identical sequences always land in the same
	// shard, so no cross-shard merging is needed.
	bins := make([][]int32, numShards)
	for i := range reads {
		h := seahash.Sum64(unsafe.StringToBytes(reads[i].Seq))
		s := int(h % numShards)
		bins[s] = append(bins[s], int32(i))
	}
	if err := traverse.Each(numShards, func(si int) error {
		s := &shards[si]
		for _, ri := range bins[si] {
			r := &reads[ri]
			s.add(r.Seq, r.Qual, ri)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	set := &Set{ReadMap: make([]int32, len(reads)), TotalReads: len(reads)}
	for i := range shards {
		for _, chain := range shards[i].buckets {
			set.Uniques = append(set.Uniques, chain...)
		}
	}
	sort.Slice(set.Uniques, func(i, j int) bool {
		ui, uj := set.Uniques[i], set.Uniques[j]
		if ui.Abundance != uj.Abundance {
			return ui.Abundance > uj.Abundance
		}
		return ui.Seq < uj.Seq
	})
	for ui, u := range set.Uniques {
		for _, ri := range u.reads {
			set.ReadMap[ri] = int32(ui)
		}
		u.reads = nil
	}
	return set, nil
}
