package table

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
)

// SpillWriter stores samples on disk as they finish, so a batch run over
// many samples does not hold every sample's variants in memory while the
// rest are still being denoised. Samples are gob-encoded into a snappy
// stream. Write calls must not be concurrent.
type SpillWriter struct {
	f   *os.File
	w   *snappy.Writer
	enc *gob.Encoder
}

// NewSpillWriter creates the spill file at path, truncating any previous
// content.
func NewSpillWriter(path string) (*SpillWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.E(err, "spill: create", path)
	}
	w := snappy.NewBufferedWriter(f)
	return &SpillWriter{f: f, w: w, enc: gob.NewEncoder(w)}, nil
}

// Write appends one sample to the spill file.
func (s *SpillWriter) Write(sample Sample) error {
	if err := s.enc.Encode(sample); err != nil {
		return errors.E(err, "spill: encode sample", sample.Name)
	}
	return nil
}

// Close flushes and closes the spill file.
func (s *SpillWriter) Close() error {
	if err := s.w.Close(); err != nil {
		return errors.E(err, "spill: close", s.f.Name())
	}
	return s.f.Close()
}

// SpillReader reads samples back in write order.
type SpillReader struct {
	f   *os.File
	dec *gob.Decoder
}

// NewSpillReader opens the spill file at path.
func NewSpillReader(path string) (*SpillReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "spill: open", path)
	}
	return &SpillReader{f: f, dec: gob.NewDecoder(snappy.NewReader(f))}, nil
}

// Next returns the next sample, or io.EOF after the last one.
func (s *SpillReader) Next() (Sample, error) {
	var sample Sample
	err := s.dec.Decode(&sample)
	if err == io.EOF {
		return sample, io.EOF
	}
	if err != nil {
		return sample, errors.E(err, "spill: decode", s.f.Name())
	}
	return sample, nil
}

// Close closes the spill file.
func (s *SpillReader) Close() error { return s.f.Close() }

// ReadSpill reads every sample from the spill file at path.
func ReadSpill(path string) ([]Sample, error) {
	r, err := NewSpillReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close() // nolint: errcheck
	var samples []Sample
	for {
		s, err := r.Next()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
}
