package node

import (
	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/flash"
	"github.com/amrbekhit/squidboot/wire"
)

// StaticMemory is a byte slice mapped at Base.
type StaticMemory struct {
	Base uint32
	Data []byte
}

// Read returns a copy of n bytes at addr.
func (m *StaticMemory) Read(addr, n uint32) ([]byte, error) {
	if addr < m.Base || uint64(addr-m.Base)+uint64(n) > uint64(len(m.Data)) {
		return nil, errors.Errorf("read %08X+%d outside memory", addr, n)
	}
	off := addr - m.Base
	return append([]byte(nil), m.Data[off:off+n]...), nil
}

// RangeReader serves diagnostic reads from the RAM and flash windows.
type RangeReader struct {
	params wire.Parameters
	ram    flash.Memory
	flash  flash.Memory
}

// NewRangeReader creates a reader over the windows named in params.
func NewRangeReader(params wire.Parameters, ram, fl flash.Memory) *RangeReader {
	return &RangeReader{params: params, ram: ram, flash: fl}
}

type window struct {
	r   wire.Range
	mem flash.Memory
}

// Check validates a read of n bytes at start and returns the memory to read
// it from.
func (rr *RangeReader) Check(start, n uint32) (flash.Memory, error) {
	var w window
	switch {
	case rr.params.ValidRAMRead.Contains(start):
		w = window{rr.params.ValidRAMRead, rr.ram}
	case rr.params.ValidFlashRead.Contains(start):
		w = window{rr.params.ValidFlashRead, rr.flash}
	default:
		return nil, wire.BadRangeStart{}
	}
	if uint64(start)+uint64(n) > uint64(w.r.End)+1 {
		return nil, wire.BadRangeEnd{}
	}
	if n > rr.params.ReadMax {
		return nil, wire.BadRangeLength{Actual: n, Max: rr.params.ReadMax}
	}
	if w.mem == nil {
		return nil, errors.Errorf("no memory mapped at %v", w.r)
	}
	return w.mem, nil
}

// Read returns n bytes at start. Validation failures are wire.ResponseError
// values; other errors come from the memory.
func (rr *RangeReader) Read(start, n uint32) ([]byte, error) {
	mem, err := rr.Check(start, n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	data, err := mem.Read(start, n)
	if err != nil {
		return nil, errors.Wrapf(err, "read %08X+%d", start, n)
	}
	return data, nil
}
