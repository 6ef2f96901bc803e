package squidboot

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"

	"github.com/amrbekhit/squidboot/wire"
)

// Programmer reprsents the high level interface that allows devices to be programmed.
type Programmer interface {
	Connect() error
	Disconnect()
	GetParameters() wire.Parameters
	LoadHex(data io.Reader) error
	// LoadBinary loads a raw image to be placed at addr.
	LoadBinary(data io.Reader, addr uint32) error
	Image() (Image, error)
	Program() error
	Verify() error
	// WriteAppInfo records the image length and checksum in the device
	// settings, which the device checks before booting.
	WriteAppInfo() error
	Boot(force bool) (wire.Bootable, error)
}

// erasedByte fills gaps between segments and pads the image to a whole
// number of chunks.
const erasedByte = 0xFF

// Image is a contiguous application image.
type Image struct {
	Start uint32
	Data  []byte
}

// CRC32 returns the checksum declared when the image is loaded.
func (i Image) CRC32() uint32 {
	return crc32.ChecksumIEEE(i.Data)
}

func loadHex(data io.Reader) (*gohex.Memory, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(data); err != nil {
		return nil, err
	}
	return mem, nil
}

type progError struct {
	Address uint32
	Err     error
}

func (e *progError) Error() string {
	return fmt.Sprintf("error at %X: %v", e.Address, e.Err)
}

func (e *progError) Unwrap() error { return e.Err }

// buildImage lays segments out in one image starting at the app range start
// and padded to a whole number of chunks. The device checks app_len bytes
// from the start of the app range before booting, so any gap below the
// lowest segment is filled with erased bytes.
func buildImage(segments []gohex.DataSegment, p wire.Parameters) (Image, error) {
	if len(segments) == 0 {
		return Image{}, errors.New("image is empty")
	}
	app := p.ValidAppRange

	high := uint64(0)
	for _, segment := range segments {
		end := uint64(segment.Address) + uint64(len(segment.Data))
		if len(segment.Data) == 0 {
			continue
		}
		if !app.Contains(segment.Address) || end > uint64(app.End)+1 {
			return Image{}, errors.Errorf("data segment at %X length %d is outside the app range %v", segment.Address, len(segment.Data), app)
		}
		if end > high {
			high = end
		}
	}
	if high == 0 {
		return Image{}, errors.New("image is empty")
	}

	start := uint64(app.Start)
	chunk := uint64(p.DataChunkSize)
	length := (high - start + chunk - 1) / chunk * chunk
	if start+length > uint64(app.End)+1 {
		return Image{}, errors.Errorf("image of %d bytes at %X does not fit the app range %v", length, start, app)
	}

	img := Image{Start: uint32(start), Data: make([]byte, length)}
	for i := range img.Data {
		img.Data[i] = erasedByte
	}
	for _, segment := range segments {
		copy(img.Data[segment.Address-img.Start:], segment.Data)
	}
	return img, nil
}

// writeChunks sends img in chunks and checks the device's running checksum
// after each one.
func writeChunks(img Image, chunkSize uint32, writeFunc func(uint32, []byte) (uint32, error)) error {
	crc := crc32.ChecksumIEEE(nil)
	for offset := uint32(0); offset < uint32(len(img.Data)); offset += chunkSize {
		addr := img.Start + offset
		chunk := img.Data[offset : offset+chunkSize]
		crc = crc32.Update(crc, crc32.IEEETable, chunk)

		got, err := writeFunc(addr, chunk)
		if err != nil {
			return &progError{Address: addr, Err: err}
		}
		if got != crc {
			return &progError{Address: addr, Err: errors.Errorf("device checksum %08X, expected %08X", got, crc)}
		}
		pkgLog.Debugf("wrote chunk at %X, crc %08X", addr, crc)
	}
	return nil
}

func verifyImage(img Image, readMax uint32, readFunc func(uint32, uint32) ([]byte, error)) error {
	for offset := uint32(0); offset < uint32(len(img.Data)); offset += readMax {
		addr := img.Start + offset
		chunk := img.Data[offset:]
		if uint32(len(chunk)) > readMax {
			chunk = chunk[:readMax]
		}

		data, err := readFunc(addr, uint32(len(chunk)))
		if err != nil {
			return errors.Wrapf(err, "failed to read flash at address %X", addr)
		}
		// Compare the bytes
		for i := range data {
			if data[i] != chunk[i] {
				return errors.Errorf("mismatch at %X, expected %X read %X", addr+uint32(i), chunk[i], data[i])
			}
		}
	}
	return nil
}
