package flash

import (
	"os"

	"github.com/pkg/errors"
	"tinygo.org/x/tinyfs"
)

// BlockDevice adapts a tinyfs block device to the Device interface. The
// device's first byte is mapped to address base and its erase block must be
// one flash page.
type BlockDevice struct {
	dev  tinyfs.BlockDevice
	base uint32
}

// NewBlockDevice wraps dev at base.
func NewBlockDevice(dev tinyfs.BlockDevice, base uint32, pageSize uint32) (*BlockDevice, error) {
	if dev.EraseBlockSize() != int64(pageSize) {
		return nil, errors.Errorf("erase block size %d does not match page size %d", dev.EraseBlockSize(), pageSize)
	}
	return &BlockDevice{dev: dev, base: base}, nil
}

func (b *BlockDevice) offset(addr, n uint32) (int64, error) {
	if addr < b.base || int64(addr-b.base)+int64(n) > b.dev.Size() {
		return 0, errors.Errorf("access %08X+%d outside device", addr, n)
	}
	return int64(addr - b.base), nil
}

// Read reads n bytes at addr.
func (b *BlockDevice) Read(addr, n uint32) ([]byte, error) {
	off, err := b.offset(addr, n)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := b.dev.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "read %08X", addr)
	}
	return buf, nil
}

// ErasePage erases the erase block at addr.
func (b *BlockDevice) ErasePage(addr uint32) error {
	off, err := b.offset(addr, uint32(b.dev.EraseBlockSize()))
	if err != nil {
		return err
	}
	return b.dev.EraseBlocks(off/b.dev.EraseBlockSize(), 1)
}

// ProgramSubpage writes data at addr.
func (b *BlockDevice) ProgramSubpage(addr uint32, data []byte) error {
	off, err := b.offset(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	_, err = b.dev.WriteAt(data, off)
	return err
}

// FileDevice is a tinyfs block device stored in a regular file, so a
// simulated node keeps its flash across restarts.
type FileDevice struct {
	f          *os.File
	size       int64
	writeBlock int64
	eraseBlock int64
}

// OpenFileDevice opens or creates path as a device of size bytes. A new or
// short file is extended with erased bytes.
func OpenFileDevice(path string, size, writeBlock, eraseBlock int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	d := &FileDevice{f: f, size: size, writeBlock: writeBlock, eraseBlock: eraseBlock}
	if info.Size() < size {
		if err := d.fill(info.Size(), size-info.Size()); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "initialise %s", path)
		}
	}
	return d, nil
}

func (d *FileDevice) fill(off, n int64) error {
	blank := make([]byte, n)
	for i := range blank {
		blank[i] = ErasedByte
	}
	_, err := d.f.WriteAt(blank, off)
	return err
}

// Close closes the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

func (d *FileDevice) ReadAt(buf []byte, off int64) (int, error) {
	return d.f.ReadAt(buf, off)
}

func (d *FileDevice) WriteAt(buf []byte, off int64) (int, error) {
	if off+int64(len(buf)) > d.size {
		return 0, errors.Errorf("write %d+%d past end of device", off, len(buf))
	}
	return d.f.WriteAt(buf, off)
}

func (d *FileDevice) Size() int64           { return d.size }
func (d *FileDevice) WriteBlockSize() int64 { return d.writeBlock }
func (d *FileDevice) EraseBlockSize() int64 { return d.eraseBlock }

// EraseBlocks erases n erase blocks starting at block index start.
func (d *FileDevice) EraseBlocks(start, n int64) error {
	return d.fill(start*d.eraseBlock, n*d.eraseBlock)
}
