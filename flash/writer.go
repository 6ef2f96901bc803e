// Package flash translates contiguous image writes into the erase and
// program operations a NOR flash accepts.
//
// Erasure is page granular and programming is subpage granular. Within one
// session the Writer erases each page at most once, lazily, just before the
// first subpage write that touches it, and refuses to program a subpage that
// was already programmed, so bytes accepted earlier in the session are never
// destroyed.
package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

// Geometry constants of the supported parts.
const (
	PageSize    = 2048
	SubpageSize = 512
)

// Memory is a readable address space.
type Memory interface {
	Read(addr, n uint32) ([]byte, error)
}

// Device is the flash hardware. Addresses passed to ErasePage are page
// aligned and addresses passed to ProgramSubpage are subpage aligned with
// exactly one subpage of data.
type Device interface {
	Memory
	ErasePage(addr uint32) error
	ProgramSubpage(addr uint32, data []byte) error
}

var (
	// ErrMisaligned is returned for writes that do not start and end on a
	// subpage boundary.
	ErrMisaligned = errors.New("write not subpage aligned")
	// ErrOutOfRange is returned for writes outside the writable region.
	ErrOutOfRange = errors.New("write outside writable region")
	// ErrAlreadyProgrammed is returned when a write touches a subpage that
	// was programmed earlier in the session.
	ErrAlreadyProgrammed = errors.New("subpage already programmed")
)

// FaultError reports a hardware failure.
type FaultError struct {
	Op   string
	Addr uint32
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s at %08X: %v", e.Op, e.Addr, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Geometry describes the writable region and its erase and program units.
type Geometry struct {
	Base        uint32
	Size        uint32
	PageSize    uint32
	SubpageSize uint32
}

// Validate checks that the region is a whole number of pages.
func (g Geometry) Validate() error {
	switch {
	case g.PageSize == 0 || g.SubpageSize == 0 || g.PageSize%g.SubpageSize != 0:
		return errors.Errorf("invalid page/subpage size %d/%d", g.PageSize, g.SubpageSize)
	case g.Size == 0 || g.Size%g.PageSize != 0:
		return errors.Errorf("region size %d is not a whole number of pages", g.Size)
	case uint64(g.Base)+uint64(g.Size) > 1<<32:
		return errors.Errorf("region %08X+%d overflows the address space", g.Base, g.Size)
	}
	return nil
}

func (g Geometry) pages() int    { return int(g.Size / g.PageSize) }
func (g Geometry) subpages() int { return int(g.Size / g.SubpageSize) }

// Writer programs data into a region of a flash device.
type Writer struct {
	dev      Device
	geom     Geometry
	erased   bitset
	programs bitset
}

// NewWriter creates a writer over the region described by geom.
func NewWriter(dev Device, geom Geometry) (*Writer, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		dev:      dev,
		geom:     geom,
		erased:   newBitset(geom.pages()),
		programs: newBitset(geom.subpages()),
	}, nil
}

// Geometry returns the writable region.
func (w *Writer) Geometry() Geometry {
	return w.geom
}

// Reset forgets which pages were erased and which subpages were programmed.
// It is called when a new session starts.
func (w *Writer) Reset() {
	w.erased.clear()
	w.programs.clear()
}

// Erased reports whether the page containing addr was erased this session.
func (w *Writer) Erased(addr uint32) bool {
	if !w.contains(addr) {
		return false
	}
	return w.erased.get(int((addr - w.geom.Base) / w.geom.PageSize))
}

// Programmed reports whether the subpage containing addr was programmed
// this session.
func (w *Writer) Programmed(addr uint32) bool {
	if !w.contains(addr) {
		return false
	}
	return w.programs.get(int((addr - w.geom.Base) / w.geom.SubpageSize))
}

func (w *Writer) contains(addr uint32) bool {
	return addr >= w.geom.Base && uint64(addr) < uint64(w.geom.Base)+uint64(w.geom.Size)
}

// Check validates a write without touching the device.
func (w *Writer) Check(addr uint32, data []byte) error {
	n := uint64(len(data))
	if uint64(addr)%uint64(w.geom.SubpageSize) != 0 || n%uint64(w.geom.SubpageSize) != 0 {
		return errors.Wrapf(ErrMisaligned, "%08X+%d", addr, n)
	}
	end := uint64(addr) + n
	if addr < w.geom.Base || end > uint64(w.geom.Base)+uint64(w.geom.Size) {
		return errors.Wrapf(ErrOutOfRange, "%08X+%d", addr, n)
	}
	first := int((addr - w.geom.Base) / w.geom.SubpageSize)
	for i := 0; i < int(n/uint64(w.geom.SubpageSize)); i++ {
		if w.programs.get(first + i) {
			return errors.Wrapf(ErrAlreadyProgrammed, "%08X", addr+uint32(i)*w.geom.SubpageSize)
		}
	}
	return nil
}

// Program writes data at addr. Every precondition is checked before the
// device is touched. A hardware failure part way through is returned as a
// *FaultError; subpages written before the failure stay recorded as
// programmed.
func (w *Writer) Program(addr uint32, data []byte) error {
	if err := w.Check(addr, data); err != nil {
		return err
	}
	sub := w.geom.SubpageSize
	for off := uint32(0); off < uint32(len(data)); off += sub {
		a := addr + off
		page := int((a - w.geom.Base) / w.geom.PageSize)
		if !w.erased.get(page) {
			pageAddr := w.geom.Base + uint32(page)*w.geom.PageSize
			if err := w.dev.ErasePage(pageAddr); err != nil {
				return &FaultError{Op: "erase", Addr: pageAddr, Err: err}
			}
			w.erased.set(page)
		}
		if err := w.dev.ProgramSubpage(a, data[off:off+sub]); err != nil {
			return &FaultError{Op: "program", Addr: a, Err: err}
		}
		w.programs.set(int((a - w.geom.Base) / sub))
	}
	return nil
}

// bitset is a fixed size set of small integers.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) get(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }
func (b bitset) set(i int)      { b[i/64] |= 1 << (uint(i) % 64) }

func (b bitset) clear() {
	for i := range b {
		b[i] = 0
	}
}
