package denoise

import (
	"context"
	"errors"

	"github.com/grailbio/asv/derep"
)

// ErrNotConverged is returned by Learn when the alternation between
// partitioning and re-estimation did not reach a fixed point within
// opts.MaxLearnRounds. The returned model is still the best available and is
// safe to use.
var ErrNotConverged = errors.New("denoise: error model estimation did not converge")

// Diagnostics describes one Learn run.
type Diagnostics struct {
	// Rounds is the number of partition/re-estimate rounds executed.
	Rounds int
	// Converged is true when two successive rounds produced identical
	// partitions.
	Converged bool
	// ClusterHistory records the cluster count after each round.
	ClusterHistory []int
}

// Learn estimates an error model from the sample by alternating denoising
// and rate re-estimation, starting from the nominal quality-derived rates.
// Convergence is declared when a round reproduces the previous round's
// partition exactly. On hitting the round cap the last model is returned
// together with ErrNotConverged; callers typically log and proceed.
func Learn(ctx context.Context, set *derep.Set, opts Opts) (*ErrorModel, Diagnostics, error) {
	model := Seed()
	var diag Diagnostics
	var prev *ClusterSet

	rounds := opts.MaxLearnRounds
	if rounds <= 0 {
		rounds = DefaultOpts.MaxLearnRounds
	}
	for r := 0; r < rounds; r++ {
		cs, err := Denoise(ctx, set, model, opts)
		if err != nil {
			return nil, diag, err
		}
		diag.Rounds++
		diag.ClusterHistory = append(diag.ClusterHistory, len(cs.Clusters))
		if prev != nil && samePartition(prev, cs) {
			diag.Converged = true
			return model, diag, nil
		}
		model = estimate(set, cs)
		prev = cs
		if ctx.Err() != nil {
			break
		}
	}
	return model, diag, ErrNotConverged
}

// samePartition reports whether two cluster sets assign every unique to a
// cluster with the same center sequence. Cluster indices may differ between
// rounds, so centers are compared instead.
func samePartition(a, b *ClusterSet) bool {
	if len(a.Assignment) != len(b.Assignment) || len(a.Clusters) != len(b.Clusters) {
		return false
	}
	for i := range a.Assignment {
		ca, cb := a.Assignment[i], b.Assignment[i]
		if (ca < 0) != (cb < 0) {
			return false
		}
		if ca < 0 {
			continue
		}
		if a.Clusters[ca].Center != b.Clusters[cb].Center {
			return false
		}
	}
	return true
}
