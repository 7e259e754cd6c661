package candump

import (
	"io"
	"iter"

	"github.com/cockroachdb/errors"
)

// Records returns a lazy sequence of decoded records drawn from the Reader.
//
// The sequence ends at end of input. A parse or I/O error is yielded once,
// paired with a zero Record, and then the sequence ends too; callers wanting
// to skip malformed lines and resume should drive ReadRecord directly.
// Consuming the sequence consumes the underlying source, so it is not
// restartable.
func (r *Reader) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := r.ReadRecord()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Record{}, err)
				}
				return
			}
			if !yield(*rec, nil) {
				return
			}
		}
	}
}
