package flash

import (
	"bytes"

	"github.com/pkg/errors"
)

// ErasedByte is the value of an erased flash byte.
const ErasedByte = 0xFF

var (
	// ErrNotErased is returned by the simulator when a subpage is
	// programmed without an erase in between.
	ErrNotErased = errors.New("subpage not erased")
	// ErrInjected is the failure returned by injected faults.
	ErrInjected = errors.New("injected fault")
)

// Simulator is an in-memory NOR flash. Erasing sets a page to ErasedByte and
// a subpage may only be programmed once between erases.
type Simulator struct {
	base        uint32
	mem         []byte
	pageSize    uint32
	subpageSize uint32
	dirty       bitset

	// EraseCount counts erases per page address.
	EraseCount map[uint32]int
	// FailErase and FailProgram make the operation at the given address
	// fail with ErrInjected.
	FailErase   map[uint32]bool
	FailProgram map[uint32]bool
}

// NewSimulator creates a simulated flash of size bytes at base. The initial
// contents are fill, which lets tests tell untouched bytes from erased ones.
func NewSimulator(base, size, pageSize, subpageSize uint32, fill byte) *Simulator {
	return &Simulator{
		base:        base,
		mem:         bytes.Repeat([]byte{fill}, int(size)),
		pageSize:    pageSize,
		subpageSize: subpageSize,
		dirty:       newBitset(int(size / subpageSize)),
		EraseCount:  make(map[uint32]int),
		FailErase:   make(map[uint32]bool),
		FailProgram: make(map[uint32]bool),
	}
}

func (s *Simulator) offset(addr, n uint32) (uint32, error) {
	if addr < s.base || uint64(addr-s.base)+uint64(n) > uint64(len(s.mem)) {
		return 0, errors.Errorf("access %08X+%d outside flash", addr, n)
	}
	return addr - s.base, nil
}

// Read returns a copy of n bytes at addr.
func (s *Simulator) Read(addr, n uint32) ([]byte, error) {
	off, err := s.offset(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s.mem[off:off+n]...), nil
}

// ErasePage erases the page at addr.
func (s *Simulator) ErasePage(addr uint32) error {
	if addr%s.pageSize != 0 {
		return errors.Errorf("erase at %08X is not page aligned", addr)
	}
	off, err := s.offset(addr, s.pageSize)
	if err != nil {
		return err
	}
	if s.FailErase[addr] {
		return ErrInjected
	}
	for i := off; i < off+s.pageSize; i++ {
		s.mem[i] = ErasedByte
	}
	for i := off / s.subpageSize; i < (off+s.pageSize)/s.subpageSize; i++ {
		s.dirty[i/64] &^= 1 << (i % 64)
	}
	s.EraseCount[addr]++
	return nil
}

// ProgramSubpage programs one subpage at addr.
func (s *Simulator) ProgramSubpage(addr uint32, data []byte) error {
	if addr%s.subpageSize != 0 || uint32(len(data)) != s.subpageSize {
		return errors.Errorf("program %08X+%d is not one aligned subpage", addr, len(data))
	}
	off, err := s.offset(addr, s.subpageSize)
	if err != nil {
		return err
	}
	if s.FailProgram[addr] {
		return ErrInjected
	}
	idx := int(off / s.subpageSize)
	if s.dirty.get(idx) || !bytes.Equal(s.mem[off:off+s.subpageSize], bytes.Repeat([]byte{ErasedByte}, int(s.subpageSize))) {
		return errors.Wrapf(ErrNotErased, "%08X", addr)
	}
	copy(s.mem[off:], data)
	s.dirty.set(idx)
	return nil
}

// Load writes data at addr bypassing erase rules, for seeding contents.
func (s *Simulator) Load(addr uint32, data []byte) error {
	off, err := s.offset(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(s.mem[off:], data)
	return nil
}
