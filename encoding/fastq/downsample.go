package fastq

import (
	"io"
	"math/rand"

	"github.com/pkg/errors"
)

// Downsample writes read pairs from r1In and r2In to r1Out and r2Out. Read
// pairs are randomly selected for inclusion in the output at the given
// sampling rate. It is used to cap the number of reads fed to error-model
// learning. The random source is fixed so repeated runs select the same
// subset.
func Downsample(rate float64, r1In, r2In io.Reader, r1Out, r2Out io.Writer) error {
	if rate < 0.0 || rate > 1.0 {
		return errors.New("rate must be between 0 and 1 (inclusive)")
	}
	random := rand.New(rand.NewSource(0))
	sc := NewPairScanner(r1In, r2In, All)
	w1, w2 := NewWriter(r1Out), NewWriter(r2Out)
	var r1, r2 Read
	for sc.Scan(&r1, &r2) {
		if random.Float64() >= rate {
			continue
		}
		if err := w1.Write(&r1); err != nil {
			return errors.Wrap(err, "error writing R1 output")
		}
		if err := w2.Write(&r2); err != nil {
			return errors.Wrap(err, "error writing R2 output")
		}
	}
	return sc.Err()
}
