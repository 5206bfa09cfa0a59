package main

//
// bio-asv
//
// Infers exact amplicon sequence variants (ASVs) from quality-scored reads
// and emits a samples x sequences count table.
//
// The pipeline has four phases:
//
//   1. filter: quality-filter and truncate the raw reads of every sample.
//   2. learn: pool the filtered reads, dereplicate, and fit the error model.
//   3. denoise: per sample, dereplicate, partition with the shared model,
//      and (for paired input) merge forward and reverse centers.
//   4. tabulate: flag chimeras over the pooled variants and write the table.
//
// Example 1: paired-end run over three samples.
//
//    bio-asv --r1=a_1.fq.gz,b_1.fq.gz,c_1.fq.gz --r2=a_2.fq.gz,b_2.fq.gz,c_2.fq.gz --output=table.tsv
//
// Example 2: rerun only the chimera/table phase from a previous dump.
//
//    bio-asv --rio-input=asvs.rio --output=table.tsv
//

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/asv/chimera"
	"github.com/grailbio/asv/denoise"
	"github.com/grailbio/asv/derep"
	"github.com/grailbio/asv/encoding/fastq"
	"github.com/grailbio/asv/merge"
	"github.com/grailbio/asv/table"
)

// Collection of options set via cmdline flags.
type asvFlags struct {
	r1, r2      string
	sampleNames string

	outputPath    string
	rioOutputPath string
	rioInputPath  string
	scratchPath   string

	noChimera bool
}

type sampleInput struct {
	name   string
	r1, r2 string
}

func parseSampleInputs(flags asvFlags) []sampleInput {
	r1Paths := strings.Split(flags.r1, ",")
	var r2Paths []string
	if flags.r2 != "" {
		r2Paths = strings.Split(flags.r2, ",")
		if len(r1Paths) != len(r2Paths) {
			log.Panicf("there must be the same # of R1 and R2 files: '%s' <-> '%s'", flags.r1, flags.r2)
		}
	}
	var names []string
	if flags.sampleNames != "" {
		names = strings.Split(flags.sampleNames, ",")
		if len(names) != len(r1Paths) {
			log.Panicf("there must be one sample name per R1 file: '%s'", flags.sampleNames)
		}
	} else {
		for _, p := range r1Paths {
			base := filepath.Base(p)
			if i := strings.IndexByte(base, '.'); i > 0 {
				base = base[:i]
			}
			names = append(names, base)
		}
	}
	inputs := make([]sampleInput, len(r1Paths))
	for i := range r1Paths {
		inputs[i] = sampleInput{name: names[i], r1: r1Paths[i]}
		if r2Paths != nil {
			inputs[i].r2 = r2Paths[i]
		}
	}
	return inputs
}

func openFASTQ(ctx context.Context, path string) (file.File, io.Reader) {
	in, err := file.Open(ctx, path)
	if err != nil {
		log.Panicf("open %v: %v", path, err)
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	return in, r
}

// copyRead deep-copies a scanned read; the scanner reuses the quality buffer
// across Scan calls.
func copyRead(r *fastq.Read) fastq.Read {
	return fastq.Read{
		ID:   r.ID,
		Seq:  r.Seq,
		Qual: append([]byte(nil), r.Qual...),
	}
}

// loadedSample holds one sample's filtered reads; rev is nil for single-end
// input.
type loadedSample struct {
	in       sampleInput
	fwd, rev []fastq.Read
	stats    fastq.FilterStats
}

func loadSample(ctx context.Context, in sampleInput, fwdParams, revParams fastq.FilterParams) loadedSample {
	ls := loadedSample{in: in}
	if in.r2 == "" {
		f, r := openFASTQ(ctx, in.r1)
		sc := fastq.NewScanner(r, fastq.Seq|fastq.Qual)
		var read fastq.Read
		for sc.Scan(&read) {
			if fwdParams.FilterRead(&read, &ls.stats) {
				ls.fwd = append(ls.fwd, copyRead(&read))
			}
		}
		once := errors.Once{}
		once.Set(sc.Err())
		once.Set(f.Close(ctx))
		if err := once.Err(); err != nil {
			log.Panicf("read %v: %v", in.r1, err)
		}
		return ls
	}
	f1, r1 := openFASTQ(ctx, in.r1)
	f2, r2 := openFASTQ(ctx, in.r2)
	sc := fastq.NewPairScanner(r1, r2, fastq.Seq|fastq.Qual)
	var fwdStats, revStats fastq.FilterStats
	var rd1, rd2 fastq.Read
	for sc.Scan(&rd1, &rd2) {
		if fastq.FilterPair(&rd1, &rd2, fwdParams, revParams, &fwdStats, &revStats) {
			ls.fwd = append(ls.fwd, copyRead(&rd1))
			ls.rev = append(ls.rev, copyRead(&rd2))
		}
	}
	once := errors.Once{}
	once.Set(sc.Err())
	once.Set(f1.Close(ctx))
	once.Set(f2.Close(ctx))
	if err := once.Err(); err != nil {
		log.Panicf("read %v,%v: %v", in.r1, in.r2, err)
	}
	ls.stats = fwdStats.Merge(revStats)
	return ls
}

// learnModel pools reads across samples, dereplicates once, and fits the
// error model shared by every sample on that strand.
func learnModel(ctx context.Context, name string, pooled []fastq.Read, opts denoise.Opts) *denoise.ErrorModel {
	set, err := derep.Dereplicate(pooled)
	if err != nil {
		log.Panicf("learn %s: %v", name, err)
	}
	log.Printf("learn %s: %d reads, %d uniques", name, set.TotalReads, len(set.Uniques))
	model, diag, err := denoise.Learn(ctx, set, opts)
	if err == denoise.ErrNotConverged {
		log.Error.Printf("learn %s: model not converged after %d rounds (cluster history %v), using last estimate",
			name, diag.Rounds, diag.ClusterHistory)
	} else if err != nil {
		log.Panicf("learn %s: %v", name, err)
	} else {
		log.Printf("learn %s: converged in %d rounds (cluster history %v)", name, diag.Rounds, diag.ClusterHistory)
	}
	return model
}

func denoiseSide(ctx context.Context, sample, side string, reads []fastq.Read, model *denoise.ErrorModel, opts denoise.Opts) (*derep.Set, *denoise.ClusterSet) {
	set, err := derep.Dereplicate(reads)
	if err != nil {
		log.Panicf("%s/%s: %v", sample, side, err)
	}
	cs, err := denoise.Denoise(ctx, set, model, opts)
	if err != nil {
		log.Panicf("%s/%s: %v", sample, side, err)
	}
	if !cs.Converged {
		log.Error.Printf("%s/%s: partition budget expired after %d passes, using best partition", sample, side, cs.Stats.Passes)
	}
	log.Printf("%s/%s: %+v", sample, side, cs.Stats)
	return set, cs
}

// processSample runs phase 3 for one sample and returns its variant list.
func processSample(ctx context.Context, ls loadedSample, fwdModel, revModel *denoise.ErrorModel, dnOpts denoise.Opts, mergeOpts merge.Opts) table.Sample {
	fwdSet, fwdCS := denoiseSide(ctx, ls.in.name, "fwd", ls.fwd, fwdModel, dnOpts)
	if ls.rev == nil {
		asvs := make([]merge.ASV, 0, len(fwdCS.Clusters))
		for _, cl := range fwdCS.Clusters {
			asvs = append(asvs, merge.ASV{Seq: cl.Center, Qual: cl.CenterQual, Abundance: cl.Abundance})
		}
		return table.Sample{Name: ls.in.name, ASVs: asvs}
	}
	revSet, revCS := denoiseSide(ctx, ls.in.name, "rev", ls.rev, revModel, dnOpts)
	asvs, stats, err := merge.Pairs(fwdCS, revCS, fwdSet, revSet, mergeOpts)
	if err != nil {
		log.Panicf("%s: merge: %v", ls.in.name, err)
	}
	log.Printf("%s: merge: %+v", ls.in.name, stats)
	return table.Sample{Name: ls.in.name, ASVs: asvs}
}

func runPipeline(ctx context.Context, flags asvFlags, fwdParams, revParams fastq.FilterParams, dnOpts denoise.Opts, mergeOpts merge.Opts) []table.Sample {
	inputs := parseSampleInputs(flags)

	// Phase 1: filter.
	loaded := make([]loadedSample, len(inputs))
	if err := traverse.Each(len(inputs), func(i int) error {
		loaded[i] = loadSample(ctx, inputs[i], fwdParams, revParams)
		return nil
	}); err != nil {
		log.Panic(err)
	}
	paired := false
	for _, ls := range loaded {
		log.Printf("%s: filter: %+v", ls.in.name, ls.stats)
		if ls.rev != nil {
			paired = true
		}
	}

	// Phase 2: learn one model per strand from the pooled reads.
	var pooledFwd, pooledRev []fastq.Read
	for _, ls := range loaded {
		pooledFwd = append(pooledFwd, ls.fwd...)
		pooledRev = append(pooledRev, ls.rev...)
	}
	fwdModel := learnModel(ctx, "fwd", pooledFwd, dnOpts)
	var revModel *denoise.ErrorModel
	if paired {
		revModel = learnModel(ctx, "rev", pooledRev, dnOpts)
	}

	// Phase 3: denoise and merge each sample. The models are immutable from
	// here on, so samples are processed in parallel.
	samples := make([]table.Sample, len(loaded))
	if err := traverse.Each(len(loaded), func(i int) error {
		samples[i] = processSample(ctx, loaded[i], fwdModel, revModel, dnOpts, mergeOpts)
		return nil
	}); err != nil {
		log.Panic(err)
	}

	if flags.rioOutputPath != "" {
		w := newASVWriter(ctx, flags.rioOutputPath, dnOpts)
		for _, s := range samples {
			w.Write(s)
		}
		w.Close(ctx)
		log.Printf("wrote %d samples to %s", len(samples), flags.rioOutputPath)
	}

	// An on-disk round trip keeps peak memory bounded when the caller layers
	// many pipeline invocations over one scratch file.
	if flags.scratchPath != "" {
		sw, err := table.NewSpillWriter(flags.scratchPath)
		if err != nil {
			log.Panic(err)
		}
		for _, s := range samples {
			if err := sw.Write(s); err != nil {
				log.Panic(err)
			}
		}
		if err := sw.Close(); err != nil {
			log.Panic(err)
		}
		if samples, err = table.ReadSpill(flags.scratchPath); err != nil {
			log.Panic(err)
		}
	}
	return samples
}

func writeTable(ctx context.Context, tbl *table.Table, path string) {
	out, err := file.Create(ctx, path)
	if err != nil {
		log.Panic(err)
	}
	er := errors.Once{}
	er.Set(tbl.WriteTSV(out.Writer(ctx)))
	er.Set(out.Close(ctx))
	if er.Err() != nil {
		log.Panic(er.Err())
	}
}

func run(ctx context.Context, flags asvFlags, fwdParams, revParams fastq.FilterParams, dnOpts denoise.Opts, mergeOpts merge.Opts, chimOpts chimera.Opts) {
	var samples []table.Sample
	if flags.rioInputPath != "" {
		r := newASVReader(ctx, flags.rioInputPath)
		for r.Scan() {
			samples = append(samples, r.Get())
		}
		r.Close(ctx)
		log.Printf("read %d samples from %s", len(samples), flags.rioInputPath)
	} else {
		samples = runPipeline(ctx, flags, fwdParams, revParams, dnOpts, mergeOpts)
	}

	tbl, err := table.Build(samples)
	if err != nil {
		log.Panic(err)
	}
	log.Printf("table: %d samples x %d sequences", tbl.NumSamples(), tbl.NumSeqs())

	if !flags.noChimera {
		candidates := make([]chimera.Candidate, tbl.NumSeqs())
		for ci, seq := range tbl.Seqs {
			candidates[ci] = chimera.Candidate{Seq: seq, Abundance: tbl.ColTotal(ci)}
		}
		_, rep, err := chimera.Detect(candidates, chimOpts)
		if err != nil {
			log.Panic(err)
		}
		flagged := map[string]bool{}
		for _, f := range rep.Flags {
			flagged[candidates[f.Index].Seq] = true
		}
		tbl = tbl.Filter(func(seq string, total int) bool { return !flagged[seq] })
		log.Printf("chimera: flagged %d of %d sequences (%d reads)",
			len(rep.Flags), len(candidates), rep.FlaggedReads)
	}

	writeTable(ctx, tbl, flags.outputPath)
	log.Printf("wrote %s", flags.outputPath)
}

func main() {
	flags := asvFlags{}
	flag.StringVar(&flags.r1, "r1", "", "Comma-separated list of FASTQ files containing forward reads, one per sample.")
	flag.StringVar(&flags.r2, "r2", "", "Comma-separated list of FASTQ files containing reverse reads. Empty for single-end input.")
	flag.StringVar(&flags.sampleNames, "samples", "", "Comma-separated sample names. Defaults to the R1 file names.")
	flag.StringVar(&flags.outputPath, "output", "./asv-table.tsv", "TSV file to store the sample x sequence count table.")
	flag.StringVar(&flags.rioOutputPath, "rio-output", "", "If set, per-sample variants are dumped to this recordio file.")
	flag.StringVar(&flags.rioInputPath, "rio-input", "", `If set, skip denoising and rebuild the table from a previous
--rio-output dump.`)
	flag.StringVar(&flags.scratchPath, "scratch", "", "If set, per-sample results are spilled to this file before table assembly.")
	flag.BoolVar(&flags.noChimera, "no-chimera", false, "Skip chimera flagging.")

	fwdParams := fastq.DefaultFilterParams
	revParams := fastq.DefaultFilterParams
	flag.IntVar(&fwdParams.TruncLen, "trunc-len", 0, "Truncate forward reads to this length; 0 disables.")
	flag.IntVar(&revParams.TruncLen, "trunc-len-r", 0, "Truncate reverse reads to this length; 0 disables.")
	var truncQ int
	flag.IntVar(&truncQ, "trunc-q", int(fastq.DefaultFilterParams.TruncQ), "Truncate reads at the first base with quality <= this.")
	flag.Float64Var(&fwdParams.MaxEE, "max-ee", fastq.DefaultFilterParams.MaxEE, "Discard reads with more expected errors than this.")
	flag.IntVar(&fwdParams.MaxN, "max-n", fastq.DefaultFilterParams.MaxN, "Discard reads with more ambiguous bases than this.")
	flag.IntVar(&fwdParams.MinLen, "min-len", fastq.DefaultFilterParams.MinLen, "Discard reads shorter than this after truncation.")

	dnOpts := denoise.DefaultOpts
	flag.Float64Var(&dnOpts.OmegaA, "omega-a", denoise.DefaultOpts.OmegaA, "Cluster formation p-value threshold.")
	flag.IntVar(&dnOpts.MinAbundance, "min-abundance", denoise.DefaultOpts.MinAbundance, "Smallest abundance eligible to found a cluster.")
	flag.IntVar(&dnOpts.MaxClusters, "max-clusters", denoise.DefaultOpts.MaxClusters, "Upper limit on clusters per sample; 0 means no limit.")
	flag.IntVar(&dnOpts.MaxPasses, "max-passes", denoise.DefaultOpts.MaxPasses, "Upper limit on partition passes per sample.")
	flag.IntVar(&dnOpts.MaxLearnRounds, "max-learn-rounds", denoise.DefaultOpts.MaxLearnRounds, "Upper limit on error-model estimation rounds.")
	flag.BoolVar(&dnOpts.ConsensusCenters, "consensus-centers", denoise.DefaultOpts.ConsensusCenters, "Recompute cluster centers by consensus after convergence.")
	flag.Float64Var(&dnOpts.GapErrorRate, "gap-error-rate", denoise.DefaultOpts.GapErrorRate, "Per-column error probability assigned to alignment gaps.")
	binomial := false
	flag.BoolVar(&binomial, "binomial", false, "Use a binomial significance test instead of Poisson.")
	flag.IntVar(&dnOpts.Align.Band, "band", denoise.DefaultOpts.Align.Band, "Alignment band width; 0 disables banding.")

	mergeOpts := merge.DefaultOpts
	flag.IntVar(&mergeOpts.MinOverlap, "min-overlap", merge.DefaultOpts.MinOverlap, "Smallest acceptable overlap when merging read pairs.")
	flag.Float64Var(&mergeOpts.MaxMismatch, "merge-max-mismatch", merge.DefaultOpts.MaxMismatch, "Largest acceptable quality-weighted mismatch total in the merge overlap.")

	chimOpts := chimera.DefaultOpts
	flag.Float64Var(&chimOpts.MinFoldParent, "min-fold-parent", chimera.DefaultOpts.MinFoldParent, "Minimum abundance ratio of a chimera parent over the candidate.")
	flag.IntVar(&chimOpts.MaxMismatch, "chimera-max-mismatch", chimera.DefaultOpts.MaxMismatch, "Largest mismatch count at which a two-parent model flags a candidate.")
	flag.IntVar(&chimOpts.MinSegmentLength, "min-segment", chimera.DefaultOpts.MinSegmentLength, "Minimum candidate positions each chimera parent must contribute.")

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if flags.r1 == "" && flags.rioInputPath == "" {
		fmt.Println("usage: bio-asv --r1=S1_1.fq[,S2_1.fq,...] [--r2=S1_2.fq,...] --output=table.tsv")
		flag.PrintDefaults()
		log.Fatal("either --r1 or --rio-input is required")
	}
	fwdParams.TruncQ = byte(truncQ)
	revParams.TruncQ = byte(truncQ)
	revParams.MaxEE = fwdParams.MaxEE
	revParams.MaxN = fwdParams.MaxN
	revParams.MinLen = fwdParams.MinLen
	if err := fwdParams.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := revParams.Validate(); err != nil {
		log.Fatal(err)
	}
	if binomial {
		dnOpts.Tail = denoise.BinomialTail
	}
	mergeOpts.Align = dnOpts.Align
	chimOpts.Align = dnOpts.Align

	run(ctx, flags, fwdParams, revParams, dnOpts, mergeOpts, chimOpts)
	log.Printf("All done")
}
