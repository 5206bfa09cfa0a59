package main

// This file defines asvWriter and asvReader. Type asvWriter dumps each
// sample's merged sequence variants into a recordio file, and asvReader reads
// them back. The recordio file can be used to rerun the chimera and table
// stages without repeating denoising.

import (
	"bytes"
	"context"
	"encoding/gob"
	"log"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"

	"github.com/grailbio/asv/denoise"
	"github.com/grailbio/asv/table"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "asvversion"
	fileVersion       = "ASV_V1"
)

// asvFileTrailer is stored in the trailer section of the recordio file.
type asvFileTrailer struct {
	// Opts is the denoising configuration used to produce the samples.
	Opts denoise.Opts
	// Samples lists the sample names in write order.
	Samples []string
}

func encodeGOB(gw *gob.Encoder, v interface{}) {
	if err := gw.Encode(v); err != nil {
		panic(err)
	}
}

func decodeGOB(gr *gob.Decoder, v interface{}) {
	if err := gr.Decode(v); err != nil {
		panic(err)
	}
}

// asvWriter dumps per-sample variants to a recordio file, one record per
// sample.
type asvWriter struct {
	out     file.File
	w       recordio.Writer
	opts    denoise.Opts
	samples []string
}

func newASVWriter(ctx context.Context, outPath string, opts denoise.Opts) *asvWriter {
	recordiozstd.Init()
	out, err := file.Create(ctx, outPath)
	if err != nil {
		log.Panicf("rio open %v: %v", outPath, err)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	return &asvWriter{out: out, w: w, opts: opts}
}

// Write adds one sample. Any error will crash the process.
func (w *asvWriter) Write(s table.Sample) {
	b := bytes.NewBuffer(nil)
	gw := gob.NewEncoder(b)
	encodeGOB(gw, s)
	w.w.Append(b.Bytes())
	w.samples = append(w.samples, s.Name)
}

// Close closes the writer. It must be called exactly once, after writing all
// the samples.
func (w *asvWriter) Close(ctx context.Context) {
	b := bytes.NewBuffer(nil)
	gw := gob.NewEncoder(b)
	encodeGOB(gw, asvFileTrailer{Opts: w.opts, Samples: w.samples})
	w.w.SetTrailer(b.Bytes())
	if err := w.w.Finish(); err != nil {
		log.Panic("close", err)
	}
	if err := w.out.Close(ctx); err != nil {
		log.Panic("close", err)
	}
}

// asvReader reads samples from a recordio file created by asvWriter.
type asvReader struct {
	in   file.File
	r    recordio.Scanner
	opts denoise.Opts

	s table.Sample // last sample read by Scan.
}

func newASVReader(ctx context.Context, inPath string) *asvReader {
	in, err := file.Open(ctx, inPath)
	if err != nil {
		log.Panicf("open %s: %v", inPath, err)
	}
	recordiozstd.Init()
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	versionFound := false
	for _, kv := range r.Header() {
		if kv.Key == fileVersionHeader {
			if kv.Value.(string) != fileVersion {
				log.Panicf("asv file version mismatch, got %v, expect %v",
					kv.Value.(string), fileVersion)
			}
			versionFound = true
			break
		}
	}
	if !versionFound {
		log.Panic(fileVersionHeader + " not found")
	}
	gr := gob.NewDecoder(bytes.NewReader(r.Trailer()))
	trailer := asvFileTrailer{}
	decodeGOB(gr, &trailer)
	return &asvReader{in: in, r: r, opts: trailer.Opts}
}

// Opts returns the denoising options written in the recordio file. This
// method can be called any time.
func (r *asvReader) Opts() denoise.Opts { return r.opts }

// Scan reads the next sample.
//
// REQUIRES: Close hasn't been called.
func (r *asvReader) Scan() bool {
	if !r.r.Scan() {
		return false
	}
	gr := gob.NewDecoder(bytes.NewReader(r.r.Get().([]byte)))
	r.s = table.Sample{}
	decodeGOB(gr, &r.s)
	return true
}

// Get yields the current sample.
//
// REQUIRES: Last Scan call returned true.
func (r *asvReader) Get() table.Sample { return r.s }

// Close closes the reader. It must be called exactly once.
func (r *asvReader) Close(ctx context.Context) {
	if err := r.r.Err(); err != nil {
		log.Panic(err)
	}
	if err := r.in.Close(ctx); err != nil {
		log.Panic(err)
	}
}
