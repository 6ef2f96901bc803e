package frame

import (
	"bufio"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Accumulator collects bytes received one at a time into a bounded frame
// buffer, the way a receive interrupt would.
type Accumulator struct {
	buf      []byte
	max      int
	overfull bool
}

// NewAccumulator creates an accumulator holding frames of at most max
// encoded bytes, excluding the delimiter.
func NewAccumulator(max int) *Accumulator {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &Accumulator{
		buf: make([]byte, 0, max),
		max: max,
	}
}

// Push adds one received byte. It returns the decoded payload when b
// completes a valid frame, nil while a frame is still being collected, and
// an error when b completes a frame that must be dropped.
//
// After an overfill the remaining bytes of the frame are discarded up to and
// including the next delimiter.
func (a *Accumulator) Push(b byte) ([]byte, error) {
	if b != Delimiter {
		if a.overfull {
			return nil, nil
		}
		if len(a.buf) == a.max {
			a.overfull = true
			a.buf = a.buf[:0]
			return nil, nil
		}
		a.buf = append(a.buf, b)
		return nil, nil
	}

	if a.overfull {
		a.overfull = false
		return nil, errors.Wrapf(ErrOverfill, "limit %d bytes", a.max)
	}
	raw := a.buf
	a.buf = a.buf[:0]
	if len(raw) == 0 {
		// Back to back delimiters carry nothing.
		return nil, nil
	}
	payload, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Pending reports the number of bytes collected for the current frame.
func (a *Accumulator) Pending() int {
	return len(a.buf)
}

// Reset discards any partially received frame.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
	a.overfull = false
}

// Reader splits an io.Reader into frames.
type Reader struct {
	r     *bufio.Reader
	acc   *Accumulator
	limit atomic.Int64
}

// NewReader creates a Reader accepting frames of at most max encoded bytes.
func NewReader(r io.Reader, max int) *Reader {
	fr := &Reader{
		r:   bufio.NewReader(r),
		acc: NewAccumulator(max),
	}
	fr.limit.Store(int64(fr.acc.max))
	return fr
}

// SetMax changes the frame size limit from the next frame on. It may be
// called while another goroutine is blocked in ReadFrame.
func (r *Reader) SetMax(max int) {
	if max > 0 {
		r.limit.Store(int64(max))
	}
}

// ReadFrame reads up to the next delimiter and returns the decoded payload.
//
// Errors:
//   - io.EOF: the stream ended between frames
//   - ErrTruncated: the stream ended mid-frame
//   - ErrCorrupt, ErrOverfill: the frame was dropped; the reader is
//     positioned at the start of the next frame
func (r *Reader) ReadFrame() ([]byte, error) {
	if max := int(r.limit.Load()); max != r.acc.max && r.acc.Pending() == 0 {
		r.acc.max = max
	}
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if err == io.EOF && r.acc.Pending() > 0 {
				r.acc.Reset()
				return nil, errors.Wrap(ErrTruncated, "stream ended mid-frame")
			}
			return nil, err
		}
		payload, err := r.acc.Push(b)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
	}
}
