// Package frame implements the framing layer of the bootloader link.
//
// Every message on the wire is
//
//	COBS( payload || CRC32(payload) ) || 0x00
//
// The CRC32 is the IEEE polynomial, stored little endian, and covers the
// payload only. COBS stuffing guarantees the encoded body contains no zero
// bytes, so the single 0x00 delimiter unambiguously splits a byte stream
// back into frames.
//
// Frames that fail to decode are meant to be dropped without a reply: the
// peer cannot correlate a reply to a request it could not read, and is
// responsible for timing out and retrying.
package frame

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// Delimiter terminates every encoded frame.
const Delimiter = 0x00

// CRCSize is the size of the checksum trailer inside the stuffed body.
const CRCSize = 4

// DefaultMaxFrameSize bounds the encoded frame buffer of an Accumulator.
// It fits one full data chunk request plus stuffing overhead.
const DefaultMaxFrameSize = 3 * 1024

// EncodedSize returns the largest stuffed size of a frame carrying a payload
// of n bytes, excluding the delimiter.
func EncodedSize(n int) int {
	body := n + CRCSize
	return body + body/254 + 1
}

var (
	// ErrCorrupt is returned when the stuffing is invalid or the checksum
	// does not match the recovered payload.
	ErrCorrupt = errors.New("corrupt frame")
	// ErrTruncated is returned when a frame is too short to hold a payload
	// and its checksum, or the stream ends mid-frame.
	ErrTruncated = errors.New("truncated frame")
	// ErrOverfill is returned when a frame exceeds the receive buffer.
	ErrOverfill = errors.New("frame exceeds buffer")
)

// Encode wraps payload with its checksum, stuffs it and appends the delimiter.
func Encode(payload []byte) []byte {
	body := make([]byte, 0, len(payload)+CRCSize)
	body = append(body, payload...)
	body = binary.LittleEndian.AppendUint32(body, crc32.ChecksumIEEE(payload))
	out := stuff(body)
	return append(out, Delimiter)
}

// Decode reverses Encode for a single frame. A trailing delimiter, if
// present, is ignored.
func Decode(frame []byte) ([]byte, error) {
	if n := len(frame); n > 0 && frame[n-1] == Delimiter {
		frame = frame[:n-1]
	}
	body, err := unstuff(frame)
	if err != nil {
		return nil, err
	}
	// At least one payload byte: every message starts with a discriminant.
	if len(body) <= CRCSize {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes after unstuffing", len(body))
	}
	payload, trailer := body[:len(body)-CRCSize], body[len(body)-CRCSize:]
	expected := binary.LittleEndian.Uint32(trailer)
	actual := crc32.ChecksumIEEE(payload)
	if expected != actual {
		return nil, errors.Wrapf(ErrCorrupt, "crc mismatch: expected %08X, got %08X", expected, actual)
	}
	return payload, nil
}

// stuff applies consistent overhead byte stuffing to src.
func stuff(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx := 0
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

func unstuff(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, errors.Wrapf(ErrCorrupt, "zero byte at offset %d", i)
		}
		i++
		end := i + int(code) - 1
		if end > len(src) {
			return nil, errors.Wrapf(ErrCorrupt, "block at offset %d overruns frame", i-1)
		}
		for ; i < end; i++ {
			if src[i] == 0 {
				return nil, errors.Wrapf(ErrCorrupt, "zero byte at offset %d", i)
			}
			dst = append(dst, src[i])
		}
		if code != 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
