package denoise

import "github.com/grailbio/asv/align"

// Tail selects the distributional assumption used for the cluster-formation
// significance test.
type Tail int

const (
	// PoissonTail models the abundance of an error variant as Poisson with
	// mean lambda * cluster reads.
	PoissonTail Tail = iota
	// BinomialTail models it as Binomial(cluster reads, lambda).
	BinomialTail
)

type Opts struct {
	// OmegaA is the formation threshold: a member sequence whose abundance
	// p-value under the error model falls below OmegaA is promoted to its
	// own cluster.
	OmegaA float64

	// MinAbundance is the smallest member abundance eligible for the
	// significance test. 1 means every member, including singletons, is
	// testable.
	MinAbundance int

	// MaxClusters caps the number of clusters per sample. 0 means no cap.
	MaxClusters int

	// MaxPasses caps the spawn/reassign passes within one denoising run.
	// When reached, the best partition found so far is returned with
	// Converged=false. 0 means no cap.
	MaxPasses int

	// MaxLearnRounds caps the EM rounds in Learn. When reached without
	// partition stability, the last model is returned together with
	// ErrNotConverged.
	MaxLearnRounds int

	// ConsensusCenters recomputes each cluster center as the
	// abundance-weighted per-position modal base of its members after the
	// partition converges. When false the seed unique remains the center.
	ConsensusCenters bool

	// GapErrorRate is the per-column probability assigned to alignment gaps
	// when computing the likelihood of a member arising from a center by
	// sequencing error.
	GapErrorRate float64

	// Tail selects the significance-test distribution.
	Tail Tail

	// Align configures the shared pairwise aligner.
	Align align.Params
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	OmegaA:         1e-40,
	MinAbundance:   1,
	MaxPasses:      32,
	MaxLearnRounds: 10,
	GapErrorRate:   1e-4,
	Tail:           PoissonTail,
	Align:          align.DefaultParams,
}
