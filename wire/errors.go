package wire

import "fmt"

// ResponseError discriminants, appended to but never reordered.
const (
	tagBadStartAddress    = 0
	tagBadLength          = 1
	tagBootloadInProgress = 2
	tagSkippedRange       = 3
	tagIncorrectLength    = 4
	tagBadSubCRC          = 5
	tagNoBootloadActive   = 6
	tagTooManyChunks      = 7
	tagIncompleteLoad     = 8
	tagBadFullCRC         = 9
	tagSettingsTooLong    = 10
	tagBadRangeStart      = 11
	tagBadRangeEnd        = 12
	tagBadRangeLength     = 13
	tagBadSettingsCRC     = 14
	tagFlashFault         = 15
	tagSettingsFault      = 16
)

// ResponseError is a protocol-level validation failure reported by the
// node. A node returning one has not changed its session, flash or
// settings, except where a variant documents otherwise.
type ResponseError interface {
	error
	encode(*encoder)
}

// BadStartAddress: the image start is not page aligned or not in the app
// range.
type BadStartAddress struct{}

// BadLength: the image length is zero, not a chunk multiple, or runs past
// the app range.
type BadLength struct{}

// BootloadInProgress: a session is already active.
type BootloadInProgress struct{}

// SkippedRange: the chunk address is not the next expected address.
// Expected is NoAddress when no session is active.
type SkippedRange struct {
	Expected uint32
	Actual   uint32
}

// IncorrectLength: the chunk is not exactly the chunk size.
type IncorrectLength struct {
	Expected uint32
	Actual   uint32
}

// BadSubCRC: the chunk does not match its checksum. Expected is the value
// sent by the host, Actual the value computed by the node.
type BadSubCRC struct {
	Expected uint32
	Actual   uint32
}

// NoBootloadActive: the request needs an active session.
type NoBootloadActive struct{}

// TooManyChunks: every chunk of the image has already been written.
type TooManyChunks struct{}

// IncompleteLoad: completion was requested before every chunk was written.
type IncompleteLoad struct {
	ExpectedLen uint32
	ActualLen   uint32
}

// BadFullCRC: the image checksum does not match the one declared at start.
// The session is abandoned.
type BadFullCRC struct {
	Expected uint32
	Actual   uint32
}

// SettingsTooLong: the blob exceeds the settings capacity.
type SettingsTooLong struct {
	Max    uint32
	Actual uint32
}

type BadRangeStart struct{}

type BadRangeEnd struct{}

type BadRangeLength struct {
	Actual uint32
	Max    uint32
}

// BadSettingsCRC: the blob does not match its checksum. Expected is the
// value sent by the host, Actual the value computed by the node.
type BadSettingsCRC struct {
	Expected uint32
	Actual   uint32
}

// FlashFault: the flash hardware failed to erase or program at Addr. The
// session is abandoned.
type FlashFault struct {
	Addr uint32
}

// SettingsFault: the settings storage failed to commit. The previously
// committed blob is still in effect.
type SettingsFault struct{}

func (BadStartAddress) Error() string    { return "bad start address" }
func (BadLength) Error() string          { return "bad length" }
func (BootloadInProgress) Error() string { return "bootload in progress" }
func (e SkippedRange) Error() string {
	return fmt.Sprintf("skipped range: expected %08X, got %08X", e.Expected, e.Actual)
}
func (e IncorrectLength) Error() string {
	return fmt.Sprintf("incorrect length: expected %d, got %d", e.Expected, e.Actual)
}
func (e BadSubCRC) Error() string {
	return fmt.Sprintf("bad chunk crc: expected %08X, got %08X", e.Expected, e.Actual)
}
func (NoBootloadActive) Error() string { return "no bootload active" }
func (TooManyChunks) Error() string    { return "too many chunks" }
func (e IncompleteLoad) Error() string {
	return fmt.Sprintf("incomplete load: expected %d bytes, got %d", e.ExpectedLen, e.ActualLen)
}
func (e BadFullCRC) Error() string {
	return fmt.Sprintf("bad image crc: expected %08X, got %08X", e.Expected, e.Actual)
}
func (e SettingsTooLong) Error() string {
	return fmt.Sprintf("settings too long: max %d, got %d", e.Max, e.Actual)
}
func (BadRangeStart) Error() string { return "bad range start" }
func (BadRangeEnd) Error() string   { return "bad range end" }
func (e BadRangeLength) Error() string {
	return fmt.Sprintf("bad range length: got %d, max %d", e.Actual, e.Max)
}
func (e BadSettingsCRC) Error() string {
	return fmt.Sprintf("bad settings crc: expected %08X, got %08X", e.Expected, e.Actual)
}
func (e FlashFault) Error() string  { return fmt.Sprintf("flash fault at %08X", e.Addr) }
func (SettingsFault) Error() string { return "settings fault" }

func (BadStartAddress) encode(e *encoder)    { e.u8(tagBadStartAddress) }
func (BadLength) encode(e *encoder)          { e.u8(tagBadLength) }
func (BootloadInProgress) encode(e *encoder) { e.u8(tagBootloadInProgress) }

func (r SkippedRange) encode(e *encoder) {
	e.u8(tagSkippedRange)
	e.u32(r.Expected)
	e.u32(r.Actual)
}

func (r IncorrectLength) encode(e *encoder) {
	e.u8(tagIncorrectLength)
	e.u32(r.Expected)
	e.u32(r.Actual)
}

func (r BadSubCRC) encode(e *encoder) {
	e.u8(tagBadSubCRC)
	e.u32(r.Expected)
	e.u32(r.Actual)
}

func (NoBootloadActive) encode(e *encoder) { e.u8(tagNoBootloadActive) }
func (TooManyChunks) encode(e *encoder)    { e.u8(tagTooManyChunks) }

func (r IncompleteLoad) encode(e *encoder) {
	e.u8(tagIncompleteLoad)
	e.u32(r.ExpectedLen)
	e.u32(r.ActualLen)
}

func (r BadFullCRC) encode(e *encoder) {
	e.u8(tagBadFullCRC)
	e.u32(r.Expected)
	e.u32(r.Actual)
}

func (r SettingsTooLong) encode(e *encoder) {
	e.u8(tagSettingsTooLong)
	e.u32(r.Max)
	e.u32(r.Actual)
}

func (BadRangeStart) encode(e *encoder) { e.u8(tagBadRangeStart) }
func (BadRangeEnd) encode(e *encoder)   { e.u8(tagBadRangeEnd) }

func (r BadRangeLength) encode(e *encoder) {
	e.u8(tagBadRangeLength)
	e.u32(r.Actual)
	e.u32(r.Max)
}

func (r BadSettingsCRC) encode(e *encoder) {
	e.u8(tagBadSettingsCRC)
	e.u32(r.Expected)
	e.u32(r.Actual)
}

func (r FlashFault) encode(e *encoder) {
	e.u8(tagFlashFault)
	e.u32(r.Addr)
}

func (SettingsFault) encode(e *encoder) { e.u8(tagSettingsFault) }

func decodeResponseError(d *decoder) ResponseError {
	switch tag := d.u8(); tag {
	case tagBadStartAddress:
		return BadStartAddress{}
	case tagBadLength:
		return BadLength{}
	case tagBootloadInProgress:
		return BootloadInProgress{}
	case tagSkippedRange:
		return SkippedRange{Expected: d.u32(), Actual: d.u32()}
	case tagIncorrectLength:
		return IncorrectLength{Expected: d.u32(), Actual: d.u32()}
	case tagBadSubCRC:
		return BadSubCRC{Expected: d.u32(), Actual: d.u32()}
	case tagNoBootloadActive:
		return NoBootloadActive{}
	case tagTooManyChunks:
		return TooManyChunks{}
	case tagIncompleteLoad:
		return IncompleteLoad{ExpectedLen: d.u32(), ActualLen: d.u32()}
	case tagBadFullCRC:
		return BadFullCRC{Expected: d.u32(), Actual: d.u32()}
	case tagSettingsTooLong:
		return SettingsTooLong{Max: d.u32(), Actual: d.u32()}
	case tagBadRangeStart:
		return BadRangeStart{}
	case tagBadRangeEnd:
		return BadRangeEnd{}
	case tagBadRangeLength:
		return BadRangeLength{Actual: d.u32(), Max: d.u32()}
	case tagBadSettingsCRC:
		return BadSettingsCRC{Expected: d.u32(), Actual: d.u32()}
	case tagFlashFault:
		return FlashFault{Addr: d.u32()}
	case tagSettingsFault:
		return SettingsFault{}
	default:
		if d.err == nil {
			d.fail(unknown("response error", tag))
		}
		return nil
	}
}
