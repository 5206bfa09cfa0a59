package merge

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/grailbio/asv/denoise"
	"github.com/grailbio/asv/derep"
)

// ASV is one merged amplicon sequence variant with its read support.
type ASV struct {
	Seq  string
	Qual []byte
	// Abundance is the number of read pairs in the (forward, reverse)
	// cluster pair that produced this sequence.
	Abundance int
}

// Stats counts the outcomes of one Pairs call.
type Stats struct {
	// Pairs is the number of distinct (forward cluster, reverse cluster)
	// combinations seen.
	Pairs int
	// Merged is the number of combinations that merged successfully.
	Merged int
	// Rejected is the number of combinations that failed the overlap or
	// mismatch test; RejectedReads counts the read pairs they carried.
	Rejected      int
	RejectedReads int
	// SkippedReads counts read pairs whose forward or reverse read fell into
	// no cluster (degenerate).
	SkippedReads int
}

// Merge adds the field values of the two Stats objects and creates new Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Pairs += o.Pairs
	s.Merged += o.Merged
	s.Rejected += o.Rejected
	s.RejectedReads += o.RejectedReads
	s.SkippedReads += o.SkippedReads
	return s
}

type clusterPair struct {
	fwd, rev int32
}

// Pairs merges the denoised forward and reverse reads of one sample. Read
// pairs are grouped by their (forward cluster, reverse cluster) combination
// through the dereplication read maps, each combination's centers are merged
// once, and the merged sequence inherits the combination's read-pair count.
// Combinations that fail the overlap or mismatch test are counted in Stats
// and dropped, never an error. The read counts of the two sides must match.
func Pairs(fwdCS, revCS *denoise.ClusterSet, fwdSet, revSet *derep.Set, opts Opts) ([]ASV, Stats, error) {
	var stats Stats
	if len(fwdSet.ReadMap) != len(revSet.ReadMap) {
		return nil, stats, errors.E(errors.Invalid,
			"merge: forward and reverse read counts differ",
			len(fwdSet.ReadMap), len(revSet.ReadMap))
	}
	counts := map[clusterPair]int{}
	for i := range fwdSet.ReadMap {
		fc := fwdCS.Assignment[fwdSet.ReadMap[i]]
		rc := revCS.Assignment[revSet.ReadMap[i]]
		if fc < 0 || rc < 0 {
			stats.SkippedReads++
			continue
		}
		counts[clusterPair{fc, rc}]++
	}
	pairs := make([]clusterPair, 0, len(counts))
	for p := range counts {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].fwd != pairs[j].fwd {
			return pairs[i].fwd < pairs[j].fwd
		}
		return pairs[i].rev < pairs[j].rev
	})

	var asvs []ASV
	for _, p := range pairs {
		stats.Pairs++
		fcl := fwdCS.Clusters[p.fwd]
		rcl := revCS.Clusters[p.rev]
		rcSeq, rcQual := ReverseComplement(rcl.Center, rcl.CenterQual)
		res, ok, err := One(fcl.Center, fcl.CenterQual, rcSeq, rcQual, opts)
		if err != nil {
			// Degenerate centers cannot occur here (the denoiser excludes
			// them), but tolerate them the same way as a failed overlap.
			log.Error.Printf("merge: cluster pair (%d,%d): %v", p.fwd, p.rev, err)
			ok = false
		}
		if !ok {
			stats.Rejected++
			stats.RejectedReads += counts[p]
			continue
		}
		stats.Merged++
		asvs = append(asvs, ASV{Seq: res.Seq, Qual: res.Qual, Abundance: counts[p]})
	}
	return asvs, stats, nil
}
