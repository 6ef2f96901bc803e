package settings

import (
	"encoding/binary"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"
)

const (
	settingsDir  = "/settings"
	settingsFile = "/settings/blob.bin"
	tempSuffix   = ".tmp"
	headerSize   = 8
)

// ErrCorruptFile is returned when a settings file is shorter than its header
// claims.
var ErrCorruptFile = errors.New("corrupt settings file")

// LittleFSBacking stores the blob in a file on a LittleFS filesystem. The
// file holds the checksum and the length as little endian u32 followed by
// the data.
//
// A write goes to a temporary file which is synced and then renamed over the
// committed file. LittleFS cannot rename over an existing file, so the old
// file is removed first; if the node stops between the remove and the rename
// the complete temporary file is recovered on the next Load.
type LittleFSBacking struct {
	fs      fileSystem
	mounted bool
}

// fileSystem is the part of *littlefs.LFS the backing uses.
type fileSystem interface {
	Open(path string) (tinyfs.File, error)
	OpenFile(path string, flags int) (tinyfs.File, error)
	Mkdir(path string, mode os.FileMode) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Unmount() error
}

// NewLittleFSBacking mounts the filesystem on dev. When mounting fails and
// format is true the device is formatted and mounted again.
func NewLittleFSBacking(dev tinyfs.BlockDevice, format bool) (*LittleFSBacking, error) {
	lfs := littlefs.New(dev)
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 128,
	})

	if err := lfs.Mount(); err != nil {
		if !format {
			return nil, errors.Wrap(err, "mount settings filesystem")
		}
		if err := lfs.Format(); err != nil {
			return nil, errors.Wrap(err, "format settings filesystem")
		}
		if err := lfs.Mount(); err != nil {
			return nil, errors.Wrap(err, "mount settings filesystem")
		}
	}
	return &LittleFSBacking{fs: lfs, mounted: true}, nil
}

// Close unmounts the filesystem.
func (l *LittleFSBacking) Close() error {
	if !l.mounted {
		return nil
	}
	l.mounted = false
	return l.fs.Unmount()
}

func (l *LittleFSBacking) Load() (Blob, bool, error) {
	b, err := l.read(settingsFile)
	if err == nil {
		l.fs.Remove(settingsFile + tempSuffix)
		return b, true, nil
	}
	if !isNotExist(err) {
		return Blob{}, false, err
	}

	// Interrupted between removing the old file and the rename.
	b, err = l.read(settingsFile + tempSuffix)
	if err != nil {
		if isNotExist(err) {
			return Blob{}, false, nil
		}
		l.fs.Remove(settingsFile + tempSuffix)
		return Blob{}, false, nil
	}
	if !b.Valid() {
		l.fs.Remove(settingsFile + tempSuffix)
		return Blob{}, false, nil
	}
	if err := l.fs.Rename(settingsFile+tempSuffix, settingsFile); err != nil {
		return Blob{}, false, errors.Wrap(err, "recover settings")
	}
	return b, true, nil
}

func (l *LittleFSBacking) read(name string) (Blob, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return Blob{}, err
	}
	defer f.Close()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return Blob{}, errors.Wrapf(ErrCorruptFile, "%s: %v", name, err)
	}
	b := Blob{CRC32: binary.LittleEndian.Uint32(hdr[0:4])}
	if n := binary.LittleEndian.Uint32(hdr[4:8]); n > 0 {
		b.Data = make([]byte, n)
		if _, err := io.ReadFull(f, b.Data); err != nil {
			return Blob{}, errors.Wrapf(ErrCorruptFile, "%s: %v", name, err)
		}
	}
	return b, nil
}

func (l *LittleFSBacking) Store(b Blob) error {
	if err := l.fs.Mkdir(settingsDir, 0755); err != nil && !isExist(err) {
		return err
	}

	return l.atomicWrite(settingsFile, encodeFile(b))
}

func encodeFile(b Blob) []byte {
	buf := make([]byte, headerSize+len(b.Data))
	binary.LittleEndian.PutUint32(buf[0:4], b.CRC32)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(b.Data)))
	copy(buf[headerSize:], b.Data)
	return buf
}

// atomicWrite replaces the settings file name with data. If the final
// rename fails the previous blob is put back, so a later Load sees the blob
// that is still in effect.
func (l *LittleFSBacking) atomicWrite(name string, data []byte) error {
	tempPath := name + tempSuffix
	l.fs.Remove(tempPath)
	if err := l.writeFile(tempPath, data); err != nil {
		l.fs.Remove(tempPath)
		return err
	}

	old, oldErr := l.read(name)
	l.fs.Remove(name)
	if err := l.fs.Rename(tempPath, name); err != nil {
		l.fs.Remove(tempPath)
		if oldErr == nil {
			if rerr := l.writeFile(name, encodeFile(old)); rerr != nil {
				return errors.Wrapf(rerr, "restore %s after failed rename: %v", path.Base(name), err)
			}
		}
		return errors.Wrapf(err, "rename %s", path.Base(tempPath))
	}
	return nil
}

func (l *LittleFSBacking) writeFile(name string, data []byte) error {
	f, err := l.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "No directory entry")
}

// LittleFS errors don't always match os.IsExist.
func isExist(err error) bool {
	return os.IsExist(err) || strings.Contains(err.Error(), "already exists")
}
