package denoise

import (
	"context"
	"errors"

	"github.com/grailbio/base/traverse"

	"github.com/grailbio/asv/align"
	"github.com/grailbio/asv/derep"
)

// ErrEmptyInput is returned when denoising an empty or all-degenerate
// unique-sequence set.
var ErrEmptyInput = errors.New("denoise: empty unique-sequence set")

// Member is one unique sequence assigned to a cluster, together with its
// alignment against the cluster center.
type Member struct {
	// Unique indexes into the derep.Set fed to Denoise.
	Unique int
	// Subs are the substitution columns of the center-vs-member alignment.
	Subs []align.Sub
	// Gaps is the number of gapped alignment columns.
	Gaps int
	// EditDist is len(Subs)+Gaps.
	EditDist int
	// Lambda is the probability, under the error model, that a read of the
	// center comes off the sequencer as this member's sequence.
	Lambda float64
}

// Cluster is one inferred true sequence and the unique sequences explained
// by it. After the partition converges, each cluster is one ASV.
type Cluster struct {
	ID     int
	Center string
	// CenterQual is the per-position mean quality of the center, used when
	// the consensus sequence is carried into paired-read merging.
	CenterQual []byte
	// Abundance is the total read count across members.
	Abundance int
	Members   []Member
}

// ClusterSet is the converged partition of one sample's unique sequences.
type ClusterSet struct {
	Clusters []*Cluster
	// Assignment maps unique index to cluster index; -1 marks uniques
	// excluded as degenerate.
	Assignment []int32
	// TotalReads is the sum of cluster abundances.
	TotalReads int
	// Converged is false when the pass or wall-clock budget expired before
	// the partition reached its fixed point; the partition is still usable.
	Converged bool
	Stats     Stats
}

// assignResult is the per-unique output of one assignment pass. Results are
// computed in parallel into a private slice and applied atomically so the
// significance test always sees a complete partition.
type assignResult struct {
	cluster  int
	subs     []align.Sub
	gaps     int
	edit     int
	lambda   float64
	excluded bool
}

func newCluster(id int, u *derep.Unique) *Cluster {
	return &Cluster{
		ID:         id,
		Center:     u.Seq,
		CenterQual: u.Quals(),
		Abundance:  u.Abundance,
	}
}

// Denoise partitions the sample's unique sequences into clusters, each
// representing one inferred true sequence. The error model is read-only and
// may be shared across samples. Cancelling ctx (or exhausting
// opts.MaxPasses) returns the best partition found so far with
// Converged=false rather than an error.
func Denoise(ctx context.Context, set *derep.Set, model *ErrorModel, opts Opts) (*ClusterSet, error) {
	if set == nil || len(set.Uniques) == 0 {
		return nil, ErrEmptyInput
	}
	if model == nil {
		model = Seed()
	}
	uniques := set.Uniques

	degenerate := make([]bool, len(uniques))
	nDegenerate := 0
	for i, u := range uniques {
		if align.Degenerate(u.Seq) {
			degenerate[i] = true
			nDegenerate++
		}
	}
	// Uniques are sorted by descending abundance, so the first usable one
	// seeds the initial cluster.
	seed := -1
	for i := range uniques {
		if !degenerate[i] {
			seed = i
			break
		}
	}
	if seed < 0 {
		return nil, ErrEmptyInput
	}

	clusters := []*Cluster{newCluster(0, uniques[seed])}
	results := make([]assignResult, len(uniques))
	converged := false
	passes := 0

	for {
		passes++
		if err := traverse.Each(len(uniques), func(i int) error {
			if degenerate[i] {
				results[i] = assignResult{excluded: true}
				return nil
			}
			u := uniques[i]
			best := -1
			var bestScore float64
			var bestRes assignResult
			for ci, cl := range clusters {
				var r assignResult
				var score float64
				if u.Seq == cl.Center {
					score = opts.Align.Match * float64(len(u.Seq))
					r = assignResult{cluster: ci, lambda: model.lambda(cl.Center, u, nil, 0, opts.GapErrorRate)}
				} else {
					al, err := align.Global(cl.Center, u.Seq, opts.Align)
					if err != nil {
						return err
					}
					subs := al.Subs()
					gaps := al.Gaps()
					r = assignResult{
						cluster: ci,
						subs:    subs,
						gaps:    gaps,
						edit:    len(subs) + gaps,
						lambda:  model.lambda(cl.Center, u, subs, gaps, opts.GapErrorRate),
					}
					score = al.Score
				}
				if best < 0 || score > bestScore ||
					(score == bestScore && clusters[ci].Abundance > clusters[best].Abundance) {
					best, bestScore, bestRes = ci, score, r
				}
			}
			results[i] = bestRes
			return nil
		}); err != nil {
			return nil, err
		}
		apply(clusters, uniques, results)

		// Significance test: per cluster, the most distant eligible member;
		// across clusters, the most significant one wins. Iteration order
		// makes the lowest cluster index win p-value ties.
		spawnUnique := -1
		spawnP := 1.0
		if opts.MaxClusters <= 0 || len(clusters) < opts.MaxClusters {
			for _, cl := range clusters {
				mi := -1
				for m := range cl.Members {
					mem := &cl.Members[m]
					if mem.EditDist == 0 {
						// Identical to the center: never spawns a duplicate.
						continue
					}
					if uniques[mem.Unique].Abundance < opts.MinAbundance {
						continue
					}
					if mi < 0 || mem.EditDist > cl.Members[mi].EditDist {
						mi = m
					}
				}
				if mi < 0 {
					continue
				}
				mem := &cl.Members[mi]
				p := tailProb(opts.Tail, mem.Lambda, cl.Abundance, uniques[mem.Unique].Abundance)
				if p < spawnP {
					spawnP = p
					spawnUnique = mem.Unique
				}
			}
		}
		if spawnUnique < 0 || spawnP >= opts.OmegaA {
			converged = true
			break
		}
		if ctx.Err() != nil || (opts.MaxPasses > 0 && passes >= opts.MaxPasses) {
			break
		}
		clusters = append(clusters, newCluster(len(clusters), uniques[spawnUnique]))
	}

	if opts.ConsensusCenters {
		changed := false
		for _, cl := range clusters {
			if refineCenter(cl, uniques) {
				changed = true
			}
		}
		if changed {
			// Refresh member alignments against the refined centers; no
			// further spawning.
			if err := reassign(clusters, uniques, degenerate, results, model, opts); err != nil {
				return nil, err
			}
		}
	}

	cs := &ClusterSet{
		Clusters:   clusters,
		Assignment: make([]int32, len(uniques)),
		Converged:  converged,
	}
	for i := range results {
		if results[i].excluded {
			cs.Assignment[i] = -1
		} else {
			cs.Assignment[i] = int32(results[i].cluster)
		}
	}
	for _, cl := range clusters {
		cs.TotalReads += cl.Abundance
	}
	cs.Stats = Stats{
		Uniques:    len(uniques),
		Reads:      cs.TotalReads,
		Clusters:   len(clusters),
		Passes:     passes,
		Degenerate: nDegenerate,
	}
	return cs, nil
}

// apply rebuilds cluster membership from a completed assignment pass.
func apply(clusters []*Cluster, uniques []*derep.Unique, results []assignResult) {
	for _, cl := range clusters {
		cl.Members = cl.Members[:0]
		cl.Abundance = 0
	}
	for i := range results {
		r := &results[i]
		if r.excluded {
			continue
		}
		cl := clusters[r.cluster]
		cl.Members = append(cl.Members, Member{
			Unique:   i,
			Subs:     r.subs,
			Gaps:     r.gaps,
			EditDist: r.edit,
			Lambda:   r.lambda,
		})
		cl.Abundance += uniques[i].Abundance
	}
}

// reassign runs one assignment pass against the current centers without
// spawning. It is used after consensus refinement.
func reassign(clusters []*Cluster, uniques []*derep.Unique, degenerate []bool, results []assignResult, model *ErrorModel, opts Opts) error {
	if err := traverse.Each(len(uniques), func(i int) error {
		if degenerate[i] {
			results[i] = assignResult{excluded: true}
			return nil
		}
		u := uniques[i]
		best := -1
		var bestScore float64
		var bestRes assignResult
		for ci, cl := range clusters {
			var r assignResult
			var score float64
			if u.Seq == cl.Center {
				score = opts.Align.Match * float64(len(u.Seq))
				r = assignResult{cluster: ci, lambda: model.lambda(cl.Center, u, nil, 0, opts.GapErrorRate)}
			} else {
				al, err := align.Global(cl.Center, u.Seq, opts.Align)
				if err != nil {
					return err
				}
				subs := al.Subs()
				gaps := al.Gaps()
				r = assignResult{
					cluster: ci,
					subs:    subs,
					gaps:    gaps,
					edit:    len(subs) + gaps,
					lambda:  model.lambda(cl.Center, u, subs, gaps, opts.GapErrorRate),
				}
				score = al.Score
			}
			if best < 0 || score > bestScore ||
				(score == bestScore && clusters[ci].Abundance > clusters[best].Abundance) {
				best, bestScore, bestRes = ci, score, r
			}
		}
		results[i] = bestRes
		return nil
	}); err != nil {
		return err
	}
	apply(clusters, uniques, results)
	return nil
}

// refineCenter recomputes the cluster center as the abundance-weighted
// per-position modal base of its members. Only members that align to the
// center without gaps (and therefore share its length) vote; others keep
// their alignment but do not shift the consensus. Returns whether the center
// changed.
func refineCenter(cl *Cluster, uniques []*derep.Unique) bool {
	n := len(cl.Center)
	votes := make([][4]int, n)
	qualSum := make([]int64, n)
	weight := make([]int64, n)
	for _, mem := range cl.Members {
		u := uniques[mem.Unique]
		if mem.Gaps > 0 || len(u.Seq) != n {
			continue
		}
		w := u.Abundance
		for p := 0; p < n; p++ {
			if bi := baseIndex[u.Seq[p]]; bi >= 0 {
				votes[p][bi] += w
			}
			qualSum[p] += int64(u.MeanQual(p)) * int64(w)
			weight[p] += int64(w)
		}
	}
	center := []byte(cl.Center)
	qual := make([]byte, n)
	changed := false
	const bases = "ACGT"
	for p := 0; p < n; p++ {
		bi := baseIndex[center[p]]
		bestBase, bestVotes := bi, -1
		if bi >= 0 {
			bestVotes = votes[p][bi] // the incumbent wins ties
		}
		for b := 0; b < 4; b++ {
			if votes[p][b] > bestVotes {
				bestBase, bestVotes = int8(b), votes[p][b]
			}
		}
		if bestBase >= 0 && bases[bestBase] != center[p] {
			center[p] = bases[bestBase]
			changed = true
		}
		if weight[p] > 0 {
			qual[p] = byte((qualSum[p] + weight[p]/2) / weight[p])
		} else {
			qual[p] = cl.CenterQual[p]
		}
	}
	cl.Center = string(center)
	cl.CenterQual = qual
	return changed
}
