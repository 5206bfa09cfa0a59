package denoise

// Stats represents high-level statistics of one denoising run.
type Stats struct {
	// Uniques is the number of unique sequences fed to the partitioner.
	Uniques int
	// Reads is the total read count across those uniques.
	Reads int
	// Clusters is the number of clusters in the final partition.
	Clusters int
	// Passes is the number of spawn/reassign passes executed.
	Passes int
	// Degenerate is the number of uniques excluded because they could not
	// be aligned (empty or all-N); their reads are not represented in any
	// cluster.
	Degenerate int
}

// Merge adds the field values of the two Stats objects and creates new Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Uniques += o.Uniques
	s.Reads += o.Reads
	s.Clusters += o.Clusters
	s.Passes += o.Passes
	s.Degenerate += o.Degenerate
	return s
}
