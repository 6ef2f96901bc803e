package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// NoAddress marks an address with no defined value, such as the expected
// chunk address when no bootload session is active.
const NoAddress uint32 = 0xFFFFFFFF

// Range is an inclusive address range.
type Range struct {
	Start uint32
	End   uint32
}

// Contains reports whether addr lies within the range.
func (r Range) Contains(addr uint32) bool {
	return addr >= r.Start && addr <= r.End
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End) - uint64(r.Start) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%08X, %08X]", r.Start, r.End)
}

// Parameters is the static capability record of a node.
type Parameters struct {
	// SettingsMax is the largest accepted settings blob.
	SettingsMax uint32
	// DataChunkSize is the exact payload size of every data chunk.
	DataChunkSize uint32
	ValidRAMRead   Range
	ValidFlashRead Range
	// ReadMax is the largest diagnostic read.
	ReadMax uint32
	// ValidAppRange is the flash region reserved for application images.
	ValidAppRange Range
	// PageSize is the smallest erasable flash unit.
	PageSize uint32
	// SubpageSize is the smallest programmable flash unit.
	SubpageSize uint32
}

// Validate checks that the record describes a usable node.
func (p Parameters) Validate() error {
	switch {
	case p.SubpageSize == 0 || p.PageSize == 0:
		return errors.New("page and subpage sizes must be nonzero")
	case p.PageSize%p.SubpageSize != 0:
		return errors.Errorf("page size %d is not a multiple of subpage size %d", p.PageSize, p.SubpageSize)
	case p.DataChunkSize == 0 || p.DataChunkSize%p.SubpageSize != 0:
		return errors.Errorf("chunk size %d is not a multiple of subpage size %d", p.DataChunkSize, p.SubpageSize)
	case p.ReadMax == 0:
		return errors.New("read max must be nonzero")
	case p.ValidAppRange.End < p.ValidAppRange.Start:
		return errors.Errorf("app range %v is backwards", p.ValidAppRange)
	case !p.ValidFlashRead.Contains(p.ValidAppRange.Start) || !p.ValidFlashRead.Contains(p.ValidAppRange.End):
		return errors.Errorf("app range %v is outside flash %v", p.ValidAppRange, p.ValidFlashRead)
	case (p.ValidAppRange.Start-p.ValidFlashRead.Start)%p.PageSize != 0 || p.ValidAppRange.Size()%uint64(p.PageSize) != 0:
		return errors.Errorf("app range %v is not page aligned", p.ValidAppRange)
	}
	return nil
}

// maxHeader bounds the fixed part of every message carrying a variable
// length field: a RangeData result has a result tag, a response tag, two
// u32 and the length prefix.
const maxHeader = 14

// MaxMessageSize returns the largest request or result payload exchanged
// with a node using p.
func (p Parameters) MaxMessageSize() int {
	n := p.DataChunkSize
	if p.SettingsMax > n {
		n = p.SettingsMax
	}
	if p.ReadMax > n {
		n = p.ReadMax
	}
	return int(n) + maxHeader
}

func (p Parameters) encode(e *encoder) {
	e.u32(p.SettingsMax)
	e.u32(p.DataChunkSize)
	e.addrRange(p.ValidRAMRead)
	e.addrRange(p.ValidFlashRead)
	e.u32(p.ReadMax)
	e.addrRange(p.ValidAppRange)
	e.u32(p.PageSize)
	e.u32(p.SubpageSize)
}

func decodeParameters(d *decoder) Parameters {
	return Parameters{
		SettingsMax:    d.u32(),
		DataChunkSize:  d.u32(),
		ValidRAMRead:   d.addrRange(),
		ValidFlashRead: d.addrRange(),
		ReadMax:        d.u32(),
		ValidAppRange:  d.addrRange(),
		PageSize:       d.u32(),
		SubpageSize:    d.u32(),
	}
}

// Status is the phase of the bootload session.
type Status interface {
	encode(*encoder)
}

const (
	tagStatusIdle             = 0
	tagStatusStarted          = 1
	tagStatusLoading          = 2
	tagStatusAwaitingComplete = 3
)

// StatusIdle means no session is active.
type StatusIdle struct{}

// StatusStarted means a session was accepted but no chunk has been written.
type StatusStarted struct {
	StartAddr uint32
	Length    uint32
	CRC32     uint32
}

// StatusLoading means at least one chunk has been written.
type StatusLoading struct {
	StartAddr     uint32
	NextAddr      uint32
	PartialCRC32  uint32
	ExpectedCRC32 uint32
}

// StatusAwaitingComplete means every chunk has been written.
type StatusAwaitingComplete struct{}

func (StatusIdle) encode(e *encoder) { e.u8(tagStatusIdle) }

func (s StatusStarted) encode(e *encoder) {
	e.u8(tagStatusStarted)
	e.u32(s.StartAddr)
	e.u32(s.Length)
	e.u32(s.CRC32)
}

func (s StatusLoading) encode(e *encoder) {
	e.u8(tagStatusLoading)
	e.u32(s.StartAddr)
	e.u32(s.NextAddr)
	e.u32(s.PartialCRC32)
	e.u32(s.ExpectedCRC32)
}

func (StatusAwaitingComplete) encode(e *encoder) { e.u8(tagStatusAwaitingComplete) }

func decodeStatus(d *decoder) Status {
	switch tag := d.u8(); tag {
	case tagStatusIdle:
		return StatusIdle{}
	case tagStatusStarted:
		return StatusStarted{StartAddr: d.u32(), Length: d.u32(), CRC32: d.u32()}
	case tagStatusLoading:
		return StatusLoading{StartAddr: d.u32(), NextAddr: d.u32(), PartialCRC32: d.u32(), ExpectedCRC32: d.u32()}
	case tagStatusAwaitingComplete:
		return StatusAwaitingComplete{}
	default:
		if d.err == nil {
			d.fail(unknown("status", tag))
		}
		return nil
	}
}

// Verdict is the outcome of a bootability check.
type Verdict uint8

// Verdicts, in wire order.
const (
	Unsure Verdict = iota
	NoMissingSettings
	NoDuplicateSettings
	NoInvalidSettings
	NoInvalidCRC
	Yes
)

func (v Verdict) String() string {
	switch v {
	case Unsure:
		return "unsure"
	case NoMissingSettings:
		return "missing settings"
	case NoDuplicateSettings:
		return "duplicate settings"
	case NoInvalidSettings:
		return "invalid settings"
	case NoInvalidCRC:
		return "invalid crc"
	case Yes:
		return "bootable"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Bootable reports whether the node can start the application. CRC32 and
// Length are only carried when Verdict is Yes.
type Bootable struct {
	Verdict Verdict
	CRC32   uint32
	Length  uint32
}

// OK reports whether the verdict is Yes.
func (b Bootable) OK() bool {
	return b.Verdict == Yes
}

func (b Bootable) encode(e *encoder) {
	e.u8(uint8(b.Verdict))
	if b.Verdict == Yes {
		e.u32(b.CRC32)
		e.u32(b.Length)
	}
}

func decodeBootable(d *decoder) Bootable {
	v := Verdict(d.u8())
	switch {
	case v == Yes:
		return Bootable{Verdict: Yes, CRC32: d.u32(), Length: d.u32()}
	case v < Yes:
		return Bootable{Verdict: v}
	default:
		if d.err == nil {
			d.fail(unknown("bootable", uint8(v)))
		}
		return Bootable{}
	}
}

// BootCommand selects how a Boot request treats an unbootable image.
type BootCommand uint8

const (
	// BootIfBootable boots only when the bootability check passes.
	BootIfBootable BootCommand = 0
	// ForceBoot boots unconditionally.
	ForceBoot BootCommand = 1
)

func decodeBootCommand(d *decoder) BootCommand {
	c := BootCommand(d.u8())
	if c > ForceBoot && d.err == nil {
		d.fail(unknown("boot command", uint8(c)))
	}
	return c
}
