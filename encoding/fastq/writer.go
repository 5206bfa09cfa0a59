package fastq

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

var (
	newline  = []byte{'\n'}
	plusLine = []byte{'+', '\n'}
)

// Writer is a FASTQ file writer.
type Writer struct {
	w    io.Writer
	gz   *gzip.Writer
	err  error
	qbuf []byte
}

// NewWriter constructs a new FASTQ writer that writes reads to the
// underlying writer w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewGzipWriter constructs a FASTQ writer that gzip-compresses its output.
// Close must be called to flush the compressor.
func NewGzipWriter(w io.Writer) *Writer {
	gz := gzip.NewWriter(w)
	return &Writer{w: gz, gz: gz}
}

// Write writes the read r in FASTQ format, re-encoding the quality scores as
// Phred+33. An error is returned if the write failed.
func (w *Writer) Write(r *Read) error {
	w.writeln(r.ID)
	w.writeln(r.Seq)
	w.write(plusLine)
	w.qbuf = w.qbuf[:0]
	for _, q := range r.Qual {
		w.qbuf = append(w.qbuf, q+qualOffset)
	}
	w.write(w.qbuf)
	w.write(newline)
	return w.err
}

// Close flushes the gzip stream, if any. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if w.gz != nil {
		if err := w.gz.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	return w.err
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, line)
	if w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}
