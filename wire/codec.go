// Package wire defines the messages exchanged between the host programmer
// and the node, and their binary encoding.
//
// Every message is a tagged union: one discriminant byte followed by the
// variant's fields in declaration order. Integers are fixed-width 32-bit
// little endian, booleans are a single 0 or 1 byte and byte strings carry an
// explicit u32 length prefix. Discriminants are hand assigned and are part
// of the wire contract: existing values must never be renumbered, new
// variants are only ever appended.
//
// Requests travel host to node. Replies travel node to host as a Result,
// which is either Ok(Response) or Err(ResponseError).
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	// ErrMalformed is returned for truncated field sets, invalid field
	// values and trailing bytes.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownVariant is returned for an unrecognized discriminant.
	ErrUnknownVariant = errors.New("unknown variant")
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) bytes(v []byte) {
	e.u32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) addrRange(r Range) {
	e.u32(r.Start)
	e.u32(r.End)
}

// decoder reads fields from a message. The first failure sticks; later
// reads return zero values.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.pos < n {
		d.fail(errors.Wrapf(ErrMalformed, "need %d bytes at offset %d, have %d", n, d.pos, len(d.buf)-d.pos))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) bool() bool {
	switch v := d.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(errors.Wrapf(ErrMalformed, "invalid bool %d at offset %d", v, d.pos-1))
		return false
	}
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	if uint64(n) > uint64(len(d.buf)-d.pos) {
		d.fail(errors.Wrapf(ErrMalformed, "byte string of %d bytes overruns message", n))
		return nil
	}
	b := d.take(int(n))
	if len(b) == 0 {
		return nil
	}
	// Copy so decoded values never alias the receive buffer.
	return append([]byte{}, b...)
}

func (d *decoder) addrRange() Range {
	return Range{Start: d.u32(), End: d.u32()}
}

// finish reports the sticky error or any unconsumed bytes.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.buf) {
		return errors.Wrapf(ErrMalformed, "%d trailing bytes", len(d.buf)-d.pos)
	}
	return nil
}

func unknown(kind string, tag uint8) error {
	return errors.Wrapf(ErrUnknownVariant, "%s discriminant %d", kind, tag)
}
