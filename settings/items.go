package settings

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Item names the bootloader itself reads.
const (
	AppLenName = "app_len"
	AppCRCName = "app_crc"
)

var (
	// ErrMalformedItem is returned when a blob cannot be split into items.
	ErrMalformedItem = errors.New("malformed settings item")
	// ErrMissingAppInfo and ErrDuplicateAppInfo are returned by AppInfo.
	ErrMissingAppInfo   = errors.New("missing app setting")
	ErrDuplicateAppInfo = errors.New("duplicate app setting")
)

const (
	tagU32   = 0
	tagF32   = 1
	tagBytes = 2
	tagASCII = 3
)

// Value is a typed setting value: U32, F32, Bytes or ASCII.
type Value interface {
	tag() uint8
	put(buf []byte) []byte
}

type (
	U32   uint32
	F32   float32
	Bytes []byte
	ASCII string
)

func (U32) tag() uint8   { return tagU32 }
func (F32) tag() uint8   { return tagF32 }
func (Bytes) tag() uint8 { return tagBytes }
func (ASCII) tag() uint8 { return tagASCII }

func (v U32) put(buf []byte) []byte { return binary.LittleEndian.AppendUint32(buf, uint32(v)) }
func (v F32) put(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
}
func (v Bytes) put(buf []byte) []byte { return putString(buf, v) }
func (v ASCII) put(buf []byte) []byte { return putString(buf, []byte(v)) }

func putString(buf, s []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Setting is one named value.
type Setting struct {
	Name  string
	Value Value
}

func (s Setting) String() string {
	switch v := s.Value.(type) {
	case Bytes:
		return fmt.Sprintf("%s=% X", s.Name, []byte(v))
	case ASCII:
		return fmt.Sprintf("%s=%q", s.Name, string(v))
	case U32:
		return fmt.Sprintf("%s=%d (0x%08X)", s.Name, uint32(v), uint32(v))
	default:
		return fmt.Sprintf("%s=%v", s.Name, v)
	}
}

// EncodeItems serialises settings in order. Names and ASCII values must be
// ASCII.
func EncodeItems(items []Setting) ([]byte, error) {
	var buf []byte
	for _, it := range items {
		if !isASCII(it.Name) {
			return nil, errors.Errorf("setting name %q is not ascii", it.Name)
		}
		if v, ok := it.Value.(ASCII); ok && !isASCII(string(v)) {
			return nil, errors.Errorf("setting %s: value is not ascii", it.Name)
		}
		if it.Value == nil {
			return nil, errors.Errorf("setting %s has no value", it.Name)
		}
		buf = putString(buf, []byte(it.Name))
		buf = append(buf, it.Value.tag())
		buf = it.Value.put(buf)
	}
	return buf, nil
}

// ParseItems splits a blob into settings. Parsing stops at the first
// malformed item; the items before it are returned with an error wrapping
// ErrMalformedItem.
func ParseItems(data []byte) ([]Setting, error) {
	var items []Setting
	p := parser{buf: data}
	for p.pos < len(p.buf) {
		start := p.pos
		name, ok := p.str()
		if !ok || !isASCII(string(name)) {
			return items, errors.Wrapf(ErrMalformedItem, "name at offset %d", start)
		}
		tag, ok := p.u8()
		if !ok {
			return items, errors.Wrapf(ErrMalformedItem, "%s: missing tag", name)
		}
		var v Value
		switch tag {
		case tagU32:
			n, ok2 := p.u32()
			v, ok = U32(n), ok2
		case tagF32:
			n, ok2 := p.u32()
			v, ok = F32(math.Float32frombits(n)), ok2
		case tagBytes:
			b, ok2 := p.str()
			v, ok = Bytes(b), ok2
		case tagASCII:
			b, ok2 := p.str()
			v, ok = ASCII(b), ok2 && isASCII(string(b))
		default:
			return items, errors.Wrapf(ErrMalformedItem, "%s: unknown tag %d", name, tag)
		}
		if !ok {
			return items, errors.Wrapf(ErrMalformedItem, "%s: bad value", name)
		}
		items = append(items, Setting{Name: string(name), Value: v})
	}
	return items, nil
}

type parser struct {
	buf []byte
	pos int
}

func (p *parser) u8() (uint8, bool) {
	if p.pos >= len(p.buf) {
		return 0, false
	}
	p.pos++
	return p.buf[p.pos-1], true
}

func (p *parser) u32() (uint32, bool) {
	if len(p.buf)-p.pos < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, true
}

func (p *parser) str() ([]byte, bool) {
	n, ok := p.u32()
	if !ok || uint64(n) > uint64(len(p.buf)-p.pos) {
		return nil, false
	}
	s := append([]byte(nil), p.buf[p.pos:p.pos+int(n)]...)
	p.pos += int(n)
	return s, true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

// AppInfo returns the app_len and app_crc settings. Items of those names
// with a non-U32 value are ignored.
func AppInfo(items []Setting) (length, crc uint32, err error) {
	var haveLen, haveCRC bool
	for _, it := range items {
		v, ok := it.Value.(U32)
		if !ok {
			continue
		}
		switch it.Name {
		case AppLenName:
			if haveLen {
				return 0, 0, errors.Wrap(ErrDuplicateAppInfo, AppLenName)
			}
			haveLen, length = true, uint32(v)
		case AppCRCName:
			if haveCRC {
				return 0, 0, errors.Wrap(ErrDuplicateAppInfo, AppCRCName)
			}
			haveCRC, crc = true, uint32(v)
		}
	}
	switch {
	case !haveLen:
		return 0, 0, errors.Wrap(ErrMissingAppInfo, AppLenName)
	case !haveCRC:
		return 0, 0, errors.Wrap(ErrMissingAppInfo, AppCRCName)
	}
	return length, crc, nil
}
